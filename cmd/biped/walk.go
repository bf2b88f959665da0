package main

import (
	"cmp"
	"fmt"
	"time"

	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/session"
)

type WalkCommand struct {
	Steps  int `short:"n" long:"steps" description:"Number of steps, alternating legs starting left (default from config)"`
	StepMs int `long:"step-ms" description:"Duration of each step keyframe in milliseconds (default from config)"`
}

func (c *WalkCommand) Execute(args []string) error {
	cfg, ch, err := loadConfig()
	if err != nil {
		return err
	}
	steps := cmp.Or(c.Steps, cfg.Walk.Steps, robot.DefaultWalkSteps)
	stepMs := cmp.Or(c.StepMs, cfg.Walk.StepMs, robot.DefaultStepMs)

	title := fmt.Sprintf("Walking %d steps", steps)
	return runProgram(cfg, ch, title, session.Walk(steps, time.Duration(stepMs)*time.Millisecond))
}
