package pipeline

import (
	"fmt"
	"strings"

	"github.com/mkalinski-dev/materio/internal/models"
)

// maxRenderedRows caps how many data rows a table chunk spells out; the
// remainder is summarized as a count.
const maxRenderedRows = 10

// renderTable turns an extracted table into a compact human-readable text
// block: headers, dimensions, and up to the first ten rows pipe-delimited.
func renderTable(t models.TableData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Table from page %d.\n", t.Page)
	if len(t.Headers) > 0 {
		fmt.Fprintf(&b, "Headers: %s\n", strings.Join(t.Headers, " | "))
	}
	fmt.Fprintf(&b, "Dimensions: %d rows × %d columns\n", t.RowCount, t.ColCount)

	n := len(t.Rows)
	if n > maxRenderedRows {
		n = maxRenderedRows
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(t.Rows[i], " | "))
	}
	if t.RowCount > maxRenderedRows {
		fmt.Fprintf(&b, "... and %d more rows\n", t.RowCount-maxRenderedRows)
	}

	return b.String()
}
