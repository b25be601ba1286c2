package cmd

import (
	"errors"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/renderer"
	"github.com/achilleasa/prism/renderer/opengl"
	"github.com/urfave/cli"
)

// Flags shared by the render commands.
var RenderFlags = []cli.Flag{
	cli.Float64Flag{
		Name:  "exposure",
		Value: 1.0,
		Usage: "camera exposure for tone-mapping; overridden by the scene camera",
	},
	cli.IntFlag{
		Name:  "bins",
		Value: renderer.DefaultBinCount,
		Usage: "histogram bins per channel",
	},
	cli.IntFlag{
		Name:  "histogram-rate",
		Value: renderer.DefaultHistogramUpdateRate,
		Usage: "update the histogram every N samples; 0 disables it",
	},
	cli.BoolFlag{
		Name:  "no-accumulate",
		Usage: "restart sampling every frame",
	},
	cli.BoolFlag{
		Name:  "force-accumulate",
		Usage: "keep accumulating samples when the camera moves",
	},
}

func renderOptions(ctx *cli.Context) renderer.Options {
	opts := renderer.DefaultOptions()
	opts.Exposure = float32(ctx.Float64("exposure"))
	opts.BinCount = uint32(ctx.Int("bins"))
	opts.HistogramUpdateRate = uint32(ctx.Int("histogram-rate"))
	opts.Accumulate = !ctx.Bool("no-accumulate")
	opts.ForceAccumulate = ctx.Bool("force-accumulate")
	return opts
}

// Render a still frame.
func RenderFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	opts := renderOptions(ctx)
	opts.RenderExtent = gpu.Extent{Width: uint32(ctx.Int("width")), Height: uint32(ctx.Int("height"))}
	opts.Samples = uint32(ctx.Int("spp"))
	opts.ScreenshotPath = ctx.String("out")

	dev := newDevice(ctx)
	defer dev.Close()

	r, err := renderer.NewHeadless(dev, ctx.Args().First(), opts)
	if err != nil {
		return err
	}
	defer r.Close()

	if err = r.Render(); err != nil {
		return err
	}

	displayFrameStats(r.Stats())
	return nil
}

// Render an interactive view of one or more scenes.
func RenderInteractive(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() == 0 {
		return errors.New("missing scene file argument")
	}

	opts := renderOptions(ctx)
	opts.WindowExtent = gpu.Extent{Width: uint32(ctx.Int("width")), Height: uint32(ctx.Int("height"))}
	opts.RenderExtent = gpu.Extent{Width: uint32(ctx.Int("render-width")), Height: uint32(ctx.Int("render-height"))}
	opts.VSync = ctx.Bool("vsync")
	opts.ShowUI = !ctx.Bool("hide-ui")
	opts.ScreenshotPath = ctx.String("out")

	dev := newDevice(ctx)
	defer dev.Close()

	r, err := opengl.NewInteractive(dev, ctx.Args(), opts)
	if err != nil {
		return err
	}
	defer r.Close()

	if err = r.Render(); err != nil {
		return err
	}

	displayFrameStats(r.Stats())
	return nil
}

func displayFrameStats(stats renderer.FrameStats) {
	logger.Noticef("frame statistics\n%s", stats.Table())
}
