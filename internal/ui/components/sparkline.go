package components

import (
	"github.com/guptarohit/asciigraph"

	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/ui/styles"
)

// minSparklinePoints is the smallest series worth plotting.
const minSparklinePoints = 3

// RenderSparkline plots a usage series as a small ASCII graph. Series
// too short to show a trend render as an empty string.
func RenderSparkline(series []models.UsageSnapshot, width, height int) string {
	if len(series) < minSparklinePoints {
		return ""
	}
	if width < 20 {
		width = 20
	}
	if height < 2 {
		height = 2
	}

	data := make([]float64, len(series))
	for i, snap := range series {
		data[i] = snap.Percent
	}

	graph := asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
	)

	return styles.SparklineStyle.Render(graph)
}
