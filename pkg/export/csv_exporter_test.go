package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTable() Table {
	return Table{
		Columns: []Column{
			{Key: "date", Title: "Date", Weight: 1},
			{Key: "detail", Title: "Detail", Weight: 2},
			{Key: "credits", Title: "Credits"},
		},
		Rows: []map[string]string{
			{"date": "2026-08-01", "detail": "transfer payment, 8 classes", "credits": "+8"},
			{"date": "2026-08-03", "detail": "session at 19:00", "credits": "-1"},
		},
		Summary: [][2]string{
			{"Credits remaining", "7"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	payload, err := NewCSVExporter().Render(sampleTable())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "Date,Detail,Credits", lines[0])
	require.Equal(t, `2026-08-01,"transfer payment, 8 classes",+8`, lines[1])
	require.Equal(t, "2026-08-03,session at 19:00,-1", lines[2])
	require.Equal(t, "Credits remaining,7", lines[4])
}

func TestCSVExporterRenderMissingCellsStayEmpty(t *testing.T) {
	table := sampleTable()
	table.Rows = []map[string]string{{"date": "2026-08-01"}}
	table.Summary = nil

	payload, err := NewCSVExporter().Render(table)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Equal(t, "2026-08-01,,", lines[1])
}

func TestCSVExporterRenderRequiresColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Table{})
	require.Error(t, err)
}
