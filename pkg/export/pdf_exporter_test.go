package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPDFExporterRender(t *testing.T) {
	payload, err := NewPDFExporter().Render(sampleTable(), "Class Credit Statement: Sari Dewi", "full history")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(payload), "%PDF"))
}

func TestPDFExporterRenderRequiresColumns(t *testing.T) {
	_, err := NewPDFExporter().Render(Table{}, "title", "")
	require.Error(t, err)
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths([]Column{{Weight: 1}, {Weight: 3}}, 190)
	require.InDelta(t, 47.5, widths[0], 0.01)
	require.InDelta(t, 142.5, widths[1], 0.01)

	widths = columnWidths([]Column{{}, {}}, 190)
	require.InDelta(t, 95, widths[0], 0.01)
	require.InDelta(t, 95, widths[1], 0.01)

	// A zero-weight column shares the width reserved for unweighted columns.
	widths = columnWidths([]Column{{Weight: 1}, {Weight: 1}, {}}, 190)
	var sum float64
	for _, w := range widths {
		sum += w
	}
	require.InDelta(t, 190, sum, 0.01)
	require.InDelta(t, widths[0], widths[1], 0.01)
}
