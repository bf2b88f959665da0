package main

import (
	"os"

	"github.com/gwillem/biped/pkg/gait"
)

type ChoreographyCommand struct {
	Default bool `long:"default" description:"Print the built-in keyframes instead of the configured ones"`
}

func (c *ChoreographyCommand) Execute(args []string) error {
	ch := gait.DefaultChoreography()
	if !c.Default {
		var err error
		if _, ch, err = loadConfig(); err != nil {
			return err
		}
	}

	b, err := ch.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}
