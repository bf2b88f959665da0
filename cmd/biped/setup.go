package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/servobus"
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Biped Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := robot.LoadConfigOrDefault(opts.Config)
	if err != nil {
		return err
	}

	// Step 1: Port and protocol
	if err := choosePort(cfg); err != nil {
		return err
	}

	// Step 2: Neutral stance
	var capture bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Capture the neutral stance from the current servo angles?").
				Description("Pose the robot standing upright before continuing.").
				Affirmative("Capture").
				Negative("Keep current").
				Value(&capture),
			huh.NewConfirm().
				Title("Refuse to run when a servo is missing?").
				Description("Otherwise gaits run degraded on the servos that answer.").
				Value(&cfg.RequireAllServos),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	if capture {
		if err := captureNeutral(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error capturing neutral: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Take a walk with: " + headerStyle.Render("biped walk"))
	return nil
}

func choosePort(cfg *robot.Config) error {
	ports, err := servobus.ListPorts()
	if err != nil {
		fmt.Println(warnStyle.Render(err.Error()))
	}
	if cfg.Port != "" && !slices.Contains(ports, cfg.Port) {
		ports = append([]string{cfg.Port}, ports...)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		fmt.Println("Make sure the servo controller is connected.")
		os.Exit(1)
	}

	options := make([]huh.Option[string], 0, len(ports))
	for _, port := range ports {
		options = append(options, huh.NewOption(port, port))
	}

	protocol := cfg.Protocol
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the servo bus on?").
				Options(options...).
				Value(&cfg.Port),
			huh.NewSelect[string]().
				Title("Servo protocol").
				Options(
					huh.NewOption("LewanSoul LX-16A", string(servobus.ProtocolLX16A)),
					huh.NewOption("Feetech STS", string(servobus.ProtocolFeetech)),
					huh.NewOption("Simulated", string(servobus.ProtocolSim)),
				).
				Value(&protocol),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	cfg.Protocol = protocol
	return nil
}

func captureNeutral(cfg *robot.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus, err := servobus.Open(ctx, busConfig(cfg))
	if err != nil {
		return err
	}
	defer bus.Close()

	angles := readAngles(ctx, bus, cfg.Calibration)
	if len(angles) == 0 {
		return fmt.Errorf("no servo answered on %s", cfg.Port)
	}

	fmt.Println()
	for _, name := range robot.AllJoints() {
		a, ok := angles[name]
		if !ok {
			continue
		}
		jc := cfg.Calibration[name]
		fmt.Printf("  %-12s %6.1f -> %6.1f\n", name, jc.Neutral, a)
		jc.Neutral = float64(a)
		cfg.Calibration[name] = jc
	}
	return cfg.Calibration.Validate()
}
