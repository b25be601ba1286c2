package scene

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
)

// Size of a scene buffer.
type BufferSize struct {
	Name     string
	Elements int
	Bytes    int
}

// Stats summarizes a loaded scene.
type Stats struct {
	Models         int
	Meshes         int
	Vertices       int
	Indices        int
	Materials      int
	Lights         int
	Textures       int
	EmissiveMeshes int
	BottomLevels   int
	Instances      int

	Buffers []BufferSize
}

// Build a tabular representation of the scene statistics.
func (st Stats) Table() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Asset Type", "Asset", "Count", "Size"})
	table.Append([]string{"Geometry", "Models", fmt.Sprint(st.Models), ""})
	table.Append([]string{"", "Meshes", fmt.Sprint(st.Meshes), ""})
	table.Append([]string{"", "Vertices", fmt.Sprint(st.Vertices), ""})
	table.Append([]string{"", "Indices", fmt.Sprint(st.Indices), ""})
	table.Append([]string{" ", " ", " ", " "})
	table.Append([]string{"Shading", "Materials", fmt.Sprint(st.Materials), ""})
	table.Append([]string{"", "Lights", fmt.Sprint(st.Lights), ""})
	table.Append([]string{"", "Textures", fmt.Sprint(st.Textures), ""})
	table.Append([]string{"", "Emissive meshes", fmt.Sprint(st.EmissiveMeshes), ""})
	table.Append([]string{" ", " ", " ", " "})
	table.Append([]string{"Spatial index", "Bottom-level", fmt.Sprint(st.BottomLevels), ""})
	table.Append([]string{"", "Instances", fmt.Sprint(st.Instances), ""})

	total := 0
	if len(st.Buffers) > 0 {
		table.Append([]string{" ", " ", " ", " "})
		for i, b := range st.Buffers {
			label := ""
			if i == 0 {
				label = "Buffers"
			}
			table.Append([]string{label, b.Name, fmt.Sprint(b.Elements), fmtSize(b.Bytes)})
			total += b.Bytes
		}
	}
	table.SetFooter([]string{"Total", " ", " ", fmtSize(total)})

	table.Render()
	return buf.String()
}

// Format a byte count with the appropriate byte/kb/mb unit.
func fmtSize(totalBytes int) string {
	if totalBytes < 1e3 {
		return fmt.Sprintf("%3d bytes", totalBytes)
	} else if totalBytes < 1e6 {
		return fmt.Sprintf("%3.1f kb", float32(totalBytes)/1e3)
	}
	return fmt.Sprintf("%3.1f mb", float32(totalBytes)/1e6)
}
