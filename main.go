package main

import (
	"os"
	"runtime"

	"github.com/achilleasa/prism/cmd"
	"github.com/achilleasa/prism/log"
	"github.com/achilleasa/prism/renderer"
	"github.com/urfave/cli"
)

func init() {
	// glfw calls must be made from the main thread
	runtime.LockOSThread()
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, group := range groups {
		out = append(out, group...)
	}
	return out
}

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "prism"
	app.Usage = "render scenes using path tracing"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "list-devices",
			Usage:  "list available devices",
			Flags:  cmd.DeviceFlags,
			Action: cmd.ListDevices,
		},
		{
			Name:  "scene",
			Usage: "inspect scenes",
			Subcommands: []cli.Command{
				{
					Name:      "info",
					Usage:     "display scene statistics",
					ArgsUsage: "scene_file.json",
					Description: `
Load a scene description, build its acceleration structures and display
element counts and device buffer sizes.`,
					Flags:  cmd.DeviceFlags,
					Action: cmd.ShowSceneInfo,
				},
			},
		},
		{
			Name:  "render",
			Usage: "render scene",
			Subcommands: []cli.Command{
				{
					Name:      "frame",
					Usage:     "render single frame",
					ArgsUsage: "scene_file.json",
					Description: `
Render a fixed number of samples without opening a window and save the
resolved frame. The image format follows the extension of the output file
(png, bmp or tiff).`,
					Flags: flags(cmd.DeviceFlags, cmd.RenderFlags, []cli.Flag{
						cli.IntFlag{
							Name:  "width",
							Value: int(renderer.DefaultHeadlessExtent.Width),
							Usage: "frame width",
						},
						cli.IntFlag{
							Name:  "height",
							Value: int(renderer.DefaultHeadlessExtent.Height),
							Usage: "frame height",
						},
						cli.IntFlag{
							Name:  "spp",
							Value: 16,
							Usage: "samples per pixel",
						},
						cli.StringFlag{
							Name:  "out, o",
							Value: "frame.png",
							Usage: "image filename for the rendered frame",
						},
					}),
					Action: cmd.RenderFrame,
				},
				{
					Name:      "interactive",
					Usage:     "render interactive view of the scene",
					ArgsUsage: "scene_file1.json scene_file2.json ...",
					Description: `
Open a window with a progressive view of the first scene. Keys:
  W/A/S/D/Q/E   move the camera (SHIFT doubles the speed)
  mouse drag    look around
  1-4, 0        attenuation, emission, normal, tex coord view; 0 turns it off
  F1, F2        toggle accumulation, force accumulation
  +/-           change exposure
  H, SHIFT+H    double or halve the histogram bins
  TAB           toggle the timing and histogram overlay
  R             reload shaders
  N             switch to the next scene
  F12           save a screenshot
  ESC           quit`,
					Flags: flags(cmd.DeviceFlags, cmd.RenderFlags, []cli.Flag{
						cli.IntFlag{
							Name:  "width",
							Value: int(renderer.DefaultInteractiveExtent.Width),
							Usage: "window width",
						},
						cli.IntFlag{
							Name:  "height",
							Value: int(renderer.DefaultInteractiveExtent.Height),
							Usage: "window height",
						},
						cli.IntFlag{
							Name:  "render-width",
							Value: int(renderer.DefaultInteractiveExtent.Width),
							Usage: "path traced image width",
						},
						cli.IntFlag{
							Name:  "render-height",
							Value: int(renderer.DefaultInteractiveExtent.Height),
							Usage: "path traced image height",
						},
						cli.BoolFlag{
							Name:  "vsync",
							Usage: "synchronize presentation with the display refresh rate",
						},
						cli.BoolFlag{
							Name:  "hide-ui",
							Usage: "start with the overlay hidden",
						},
						cli.StringFlag{
							Name:  "out, o",
							Value: "screenshot.png",
							Usage: "image filename for screenshots",
						},
					}),
					Action: cmd.RenderInteractive,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.New("prism").Error(err)
		os.Exit(1)
	}
}
