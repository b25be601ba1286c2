package cmd

import (
	"errors"

	"github.com/achilleasa/prism/scene"
	"github.com/urfave/cli"
)

// Load a scene description and display its statistics.
func ShowSceneInfo(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	dev := newDevice(ctx)
	defer dev.Close()

	sc := scene.New(dev)
	defer sc.Destruct()
	if err := sc.Load(ctx.Args().First()); err != nil {
		return err
	}
	if err := sc.Construct(); err != nil {
		return err
	}

	logger.Noticef("scene information:\n%s", sc.Stats().Table())
	return nil
}
