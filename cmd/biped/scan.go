package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/servobus"
)

type ScanCommand struct {
	Port   string `short:"p" long:"port" description:"Port to scan (default from config)"`
	Move   int    `short:"m" long:"move" description:"Sweep this servo through its range and read back the angles"`
	MoveMs int    `long:"move-ms" default:"1000" description:"Time per sweep position in milliseconds"`
}

func (c *ScanCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfigOrDefault(opts.Config)
	if err != nil {
		return err
	}
	if c.Port != "" {
		cfg.Port = c.Port
	}

	fmt.Println(headerStyle.Render("Serial ports"))
	ports, err := servobus.ListPorts()
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
	}
	if len(ports) == 0 {
		fmt.Println(dimStyle.Render("  none found"))
	}
	for _, port := range ports {
		marker := "  "
		if port == cfg.Port {
			marker = successStyle.Render("* ")
		}
		fmt.Println(marker + port)
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bc := busConfig(cfg)
	fmt.Printf("Scanning %s (%s)...\n\n", bc.Port, bc.Protocol)
	bus, err := servobus.Open(ctx, bc)
	if err != nil {
		return err
	}
	defer bus.Close()

	telemetry := servobus.Scan(ctx, bus, cfg.Calibration.ServoIDs())
	fmt.Println(telemetryTable(cfg.Calibration, telemetry))

	var found int
	for _, t := range telemetry {
		if t.Found() {
			found++
		}
	}
	summary := fmt.Sprintf("%d of %d servos responding", found, len(telemetry))
	if found == len(telemetry) {
		fmt.Println(successStyle.Render(summary))
	} else {
		fmt.Println(warnStyle.Render(summary))
	}

	if c.Move != 0 {
		return c.sweep(bus, pose.ServoID(c.Move))
	}
	return nil
}

// sweep runs the movement test on one servo. It is not bound by the scan
// timeout; SIGINT stops it and returns the servo to its start angle.
func (c *ScanCommand) sweep(bus servobus.Bus, id pose.ServoID) error {
	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Move servo %d through %v?", id, servobus.SweepAngles)).
		Description("The joint swings through its full range. Lift the robot or detach the leg first.").
		Value(&ok).
		Run()
	if err != nil || !ok {
		return nil
	}

	ctx, stop := signalContext()
	defer stop()

	step := time.Duration(c.MoveMs) * time.Millisecond
	fmt.Println()
	fmt.Printf("Sweeping servo %d...\n\n", id)
	points, err := servobus.Sweep(ctx, bus, id, servobus.SweepAngles, step/2, step)
	if len(points) > 0 {
		fmt.Println(sweepTable(points))
	}
	return err
}

func sweepTable(points []servobus.SweepPoint) string {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		if p.Err != nil {
			rows = append(rows, []string{fmt.Sprintf("%.1f", p.Target), "-", "-", p.Err.Error()})
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("%.1f", p.Target),
			fmt.Sprintf("%.1f", p.Actual),
			fmt.Sprintf("%.1f", p.Error()),
			"ok",
		})
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Target", "Actual", "Error", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 3 && row >= 0 && row < len(points) {
				if points[row].Err == nil {
					return successStyle.Padding(0, 1)
				}
				return errorStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Render()
}

func telemetryTable(cal robot.Calibration, telemetry []servobus.Telemetry) string {
	rows := make([][]string, 0, len(telemetry))
	for _, t := range telemetry {
		name, jc, _ := cal.ByID(t.ID)
		row := []string{string(name), fmt.Sprintf("%d", t.ID), fmt.Sprintf("%.1f", jc.Neutral)}
		if !t.Found() {
			row = append(row, "-", "-", "-", "missing")
		} else {
			row = append(row,
				fmt.Sprintf("%.1f", t.Angle),
				formatReading(t.VoltageMV, "mV"),
				formatReading(t.TemperatureC, "°C"),
				"ok",
			)
		}
		rows = append(rows, row)
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "ID", "Neutral", "Angle", "Voltage", "Temp", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 6 && row >= 0 && row < len(telemetry) {
				if telemetry[row].Found() {
					return successStyle.Padding(0, 1)
				}
				return errorStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Render()
}

func formatReading(v int, unit string) string {
	if v == servobus.Unavailable {
		return "n/a"
	}
	return fmt.Sprintf("%d %s", v, unit)
}

// readAngles reads the present angle of every calibrated servo. Servos that
// do not answer are left out.
func readAngles(ctx context.Context, bus servobus.Bus, cal robot.Calibration) map[robot.JointName]pose.Angle {
	angles := make(map[robot.JointName]pose.Angle)
	for _, name := range robot.AllJoints() {
		id, ok := cal.ID(name)
		if !ok {
			continue
		}
		a, err := bus.Angle(ctx, id)
		if err != nil {
			fmt.Println(warnStyle.Render(fmt.Sprintf("  %s (%d): %v", name, id, err)))
			continue
		}
		angles[name] = a
	}
	return angles
}
