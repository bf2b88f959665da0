package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"biped.json" description:"Configuration file, built-in defaults are used when it does not exist"`
	DryRun  bool   `long:"dry-run" description:"Run against a simulated servo bus"`
	Verbose []bool `short:"v" long:"verbose" description:"Verbose logging, repeat for trace output"`

	Walk         WalkCommand         `command:"walk" description:"Walk a number of steps and return to neutral"`
	Dance        DanceCommand        `command:"dance" description:"Dance for a while and return to neutral"`
	Monitor      MonitorCommand      `command:"monitor" description:"Run a gait with a live chart of commanded angles"`
	Scan         ScanCommand         `command:"scan" description:"List serial ports and read servo telemetry"`
	Setup        SetupCommand        `command:"setup" description:"Choose the port and capture the neutral stance"`
	Choreography ChoreographyCommand `command:"choreography" description:"Print the step and dance keyframes as YAML"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "biped - keyframe gait playback for a six-servo bipedal robot"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		setupLogging()
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	switch len(opts.Verbose) {
	case 0:
		log.SetLevel(log.InfoLevel)
	case 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.TraceLevel)
	}
}
