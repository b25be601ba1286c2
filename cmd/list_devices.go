package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/gpu/soft"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List available devices and the compute programs they can run.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	dev := newDevice(ctx)
	defer dev.Close()

	queues := make([]string, 0, gpu.NumQueueClasses)
	for class := gpu.QueueClass(0); class < gpu.NumQueueClasses; class++ {
		queues = append(queues, class.String())
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Device", "Workers", "Queues", "Timestamp period", "Programs"})
	table.Append([]string{
		dev.Name(),
		fmt.Sprintf("%d", dev.Workers()),
		strings.Join(queues, ", "),
		dev.TimestampPeriod().String(),
		strings.Join(soft.Kernels(), ", "),
	})
	table.Render()

	logger.Noticef("available devices\n%s", buf.String())
	return nil
}
