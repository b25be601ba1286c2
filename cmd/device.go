package cmd

import (
	"github.com/achilleasa/prism/gpu/soft"
	"github.com/urfave/cli"

	// Register the path tracing kernels with the software device.
	_ "github.com/achilleasa/prism/gpu/soft/shader"
)

// Flags shared by every command that creates a device.
var DeviceFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "workers",
		Value: 0,
		Usage: "number of compute workers; 0 uses one per cpu",
	},
	cli.DurationFlag{
		Name:  "fence-timeout",
		Value: 0,
		Usage: "treat the device as lost if a fence wait exceeds this duration; 0 waits forever",
	},
}

func newDevice(ctx *cli.Context) *soft.Device {
	return soft.New(soft.Options{
		Workers:      ctx.Int("workers"),
		FenceTimeout: ctx.Duration("fence-timeout"),
	})
}
