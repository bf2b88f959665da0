package main

import (
	"cmp"
	"fmt"
	"time"

	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/session"
)

type DanceCommand struct {
	Duration float64 `short:"d" long:"duration" description:"Minimum dance time in seconds, the last phrase always completes (default from config)"`
	PhraseMs int     `long:"phrase-ms" description:"Duration of each dance keyframe in milliseconds (default from config)"`
}

func (c *DanceCommand) Execute(args []string) error {
	cfg, ch, err := loadConfig()
	if err != nil {
		return err
	}
	seconds := cmp.Or(c.Duration, cfg.Dance.DurationSec, robot.DefaultDanceSec)
	phraseMs := cmp.Or(c.PhraseMs, cfg.Dance.PhraseMs, robot.DefaultPhraseMs)

	duration := time.Duration(seconds * float64(time.Second))
	title := fmt.Sprintf("Dancing for %s", duration)
	return runProgram(cfg, ch, title, session.Dance(duration, time.Duration(phraseMs)*time.Millisecond))
}
