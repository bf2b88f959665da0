package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/biped/pkg/gait"
	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/servobus"
	"github.com/gwillem/biped/pkg/session"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// loadConfig reads the configuration file and the choreography it points
// at.
func loadConfig() (*robot.Config, gait.Choreography, error) {
	cfg, err := robot.LoadConfigOrDefault(opts.Config)
	if err != nil {
		return nil, gait.Choreography{}, err
	}
	if cfg.Choreography == "" {
		return cfg, gait.DefaultChoreography(), nil
	}
	ch, err := gait.LoadChoreography(cfg.Choreography)
	if err != nil {
		return nil, gait.Choreography{}, err
	}
	return cfg, ch, nil
}

func busConfig(cfg *robot.Config) servobus.Config {
	bc := servobus.Config{
		Port:     cfg.Port,
		Protocol: servobus.Protocol(cfg.Protocol),
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout(),
	}
	if opts.DryRun {
		bc.Protocol = servobus.ProtocolSim
	}
	return bc
}

func sessionConfig(cfg *robot.Config, ch gait.Choreography) session.Config {
	return session.Config{
		Bus:              busConfig(cfg),
		Calibration:      cfg.Calibration,
		Choreography:     ch,
		RequireAllServos: cfg.RequireAllServos,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM, which makes the session
// stop the gait and return to neutral.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runProgram runs prog in one session and prints a summary. Connection and
// initialization failures exit with status 1.
func runProgram(cfg *robot.Config, ch gait.Choreography, title string, prog session.Program) error {
	ctrl, err := session.New(sessionConfig(cfg, ch))
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(title))
	fmt.Println(dimStyle.Render(fmt.Sprintf("session %s", ctrl.ID())))
	fmt.Println()

	ctx, stop := signalContext()
	defer stop()

	out, err := ctrl.Run(ctx, prog)
	if out != nil {
		printOutcome(cfg.Calibration, out)
	}

	exitOnStartupError(err)
	return err
}

// exitOnStartupError prints diagnostics and exits with status 1 when the
// session could not connect or initialize.
func exitOnStartupError(err error) {
	var connErr *servobus.ConnectionError
	var initErr *session.InitializationError
	switch {
	case errors.As(err, &connErr):
		fmt.Fprintln(os.Stderr, errorStyle.Render("Could not connect: "+connErr.Error()))
		fmt.Fprintln(os.Stderr, "Check the cable and the port, or run 'biped scan'.")
		os.Exit(1)
	case errors.As(err, &initErr):
		fmt.Fprintln(os.Stderr, errorStyle.Render("Initialization failed: "+initErr.Error()))
		fmt.Fprintln(os.Stderr, "Check servo power and ids, or run 'biped scan'.")
		os.Exit(1)
	}
}

func printOutcome(cal robot.Calibration, out *session.Outcome) {
	if r := out.Report; r != nil {
		fmt.Printf("%s: %d keyframes, %d cycles in %s\n", r.Gait, r.Keyframes(), r.Cycles, r.Elapsed().Round(time.Millisecond))
		if len(r.Phrases) > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprint(r.Phrases)))
		}
		if counts := r.FailureCounts(); len(counts) > 0 {
			fmt.Println(failureTable(cal, counts, r.Keyframes()))
		}
	}

	if len(out.Missing) > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Missing servos: %v", out.Missing)))
	}
	if out.Interrupted {
		fmt.Println(warnStyle.Render("Interrupted"))
	}

	switch {
	case out.NeutralConfirmed():
		fmt.Println(successStyle.Render("Returned to neutral standing position"))
	case out.Neutral != nil:
		fmt.Println(warnStyle.Render(fmt.Sprintf("Warning: could not return to neutral, servos %v did not respond", out.Neutral.FailedIDs())))
	}
	log.WithFields(log.Fields{"session": out.SessionID, "state": out.State}).Debug("session finished")
}

func failureTable(cal robot.Calibration, counts map[pose.ServoID]int, keyframes int) string {
	ids := make([]pose.ServoID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		name, _, _ := cal.ByID(id)
		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", id),
			fmt.Sprintf("%d/%d", counts[id], keyframes),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "ID", "Failed").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 2 {
				return errorStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Render()
}
