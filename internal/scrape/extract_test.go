package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finassist/internal/records"
)

func TestParseTableHTML(t *testing.T) {
	tests := []struct {
		name        string
		description string
		html        string
		minCols     int
		want        []RawRow
	}{
		{
			name:        "complete rows",
			description: "every cell is trimmed and kept in order",
			html: `<table><tbody>
				<tr><td> 20-Mar-2025 </td><td>EQ</td><td>1,250.00</td></tr>
				<tr><td>19-Mar-2025</td><td>EQ</td><td>1,240.50</td></tr>
			</tbody></table>`,
			minCols: 3,
			want: []RawRow{
				{Cells: []string{"20-Mar-2025", "EQ", "1,250.00"}},
				{Cells: []string{"19-Mar-2025", "EQ", "1,240.50"}},
			},
		},
		{
			name:        "short row skipped",
			description: "rows narrower than the column floor are dropped",
			html: `<table><tbody>
				<tr><td>20-Mar-2025</td><td>EQ</td></tr>
				<tr><td>19-Mar-2025</td><td>EQ</td><td>1,240.50</td></tr>
			</tbody></table>`,
			minCols: 3,
			want: []RawRow{
				{Cells: []string{"19-Mar-2025", "EQ", "1,240.50"}},
			},
		},
		{
			name:        "empty row skipped",
			description: "placeholder rows with only whitespace cells are dropped",
			html: `<table><tbody>
				<tr><td> </td><td></td><td>  </td></tr>
			</tbody></table>`,
			minCols: 3,
			want:    nil,
		},
		{
			name:        "header outside tbody ignored",
			description: "thead rows never reach the row set",
			html: `<table>
				<thead><tr><th>Date</th><th>Series</th></tr></thead>
				<tbody><tr><td>20-Mar-2025</td><td>EQ</td></tr></tbody>
			</table>`,
			minCols: 2,
			want: []RawRow{
				{Cells: []string{"20-Mar-2025", "EQ"}},
			},
		},
		{
			name:        "no tbody",
			description: "a bare container yields an empty sequence",
			html:        `<div>loading...</div>`,
			minCols:     1,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTableHTML(tt.html, tt.minCols)
			assert.Equal(t, tt.want, got, tt.description)
		})
	}
}

func TestParseKeyValueHTML(t *testing.T) {
	html := `<table>
		<tr><th id="Trade_Information_pg" colspan="2">Trade Information</th></tr>
		<tr><td>Traded Volume (Lakhs)</td><td> 12.34 </td></tr>
		<tr><td>Face Value</td><td>10</td></tr>
		<tr><td>odd</td><td>a</td><td>b</td></tr>
		<tr><td></td><td>orphan value</td></tr>
	</table>`

	got := parseKeyValueHTML(html)

	assert.Equal(t, map[string]string{
		"Traded Volume (Lakhs)": "12.34",
		"Face Value":            "10",
	}, got, "only well-formed two-column rows with a label survive")
}

func TestParseAnnouncementHTML(t *testing.T) {
	html := `<table id="corpAnnouncementTable"><tbody>
		<tr>
			<td>Board Meeting</td>
			<td>The board will meet to consider results <span class="readMore">Read Less</span></td>
			<td>PDF</td>
			<td>20-Mar-2025 18:05:00</td>
		</tr>
		<tr>
			<td>Spacer</td><td>only three cells</td><td>x</td>
		</tr>
		<tr>
			<td>Truncated One</td>
			<td>This text was cut short and never expanded...</td>
			<td>PDF</td>
			<td>19-Mar-2025 10:00:00</td>
		</tr>
		<tr>
			<td></td><td></td><td></td><td></td>
		</tr>
	</tbody></table>`

	rows := parseAnnouncementHTML(html)
	require.Len(t, rows, 2)

	assert.Equal(t, "Board Meeting", rows[0].Subject)
	assert.Equal(t, "20-Mar-2025 18:05:00", rows[0].Broadcast)
	assert.False(t, rows[0].Truncated, "an expanded row keeps its control but is not truncated")

	assert.Equal(t, "Truncated One", rows[1].Subject)
	assert.True(t, rows[1].Truncated, "ellipsis without an expansion control marks a row unreadable")
}

func TestScrollStable(t *testing.T) {
	noScroll := func(context.Context) error { return nil }
	counts := func(seq ...int) func(context.Context) (int, error) {
		i := 0
		return func(context.Context) (int, error) {
			n := seq[i]
			if i < len(seq)-1 {
				i++
			}
			return n, nil
		}
	}

	tests := []struct {
		name        string
		description string
		maxIters    int
		target      int
		count       func(context.Context) (int, error)
		wantRows    int
		wantIters   int
	}{
		{
			name:        "stops one iteration after growth stops",
			description: "growth ends at 30 rows on the third pass; the fourth confirms and stops",
			maxIters:    15,
			target:      50,
			count:       counts(10, 20, 30, 30, 30),
			wantRows:    30,
			wantIters:   4,
		},
		{
			name:        "target short-circuits",
			description: "reaching the target ends the loop on that pass",
			maxIters:    15,
			target:      20,
			count:       counts(10, 25),
			wantRows:    25,
			wantIters:   2,
		},
		{
			name:        "ceiling bounds endless growth",
			description: "a feed that grows every pass stops at the iteration ceiling",
			maxIters:    3,
			target:      0,
			count:       counts(10, 20, 30, 40),
			wantRows:    30,
			wantIters:   3,
		},
		{
			name:        "immediately stable",
			description: "a static list needs exactly two passes to confirm",
			maxIters:    15,
			target:      0,
			count:       counts(5, 5),
			wantRows:    5,
			wantIters:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, iters, err := scrollStable(context.Background(), tt.maxIters, tt.target, time.Millisecond, noScroll, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rows, tt.description)
			assert.Equal(t, tt.wantIters, iters, tt.description)
		})
	}
}

func TestScrollStablePropagatesErrors(t *testing.T) {
	scrollErr := errors.New("scroll failed")
	_, _, err := scrollStable(context.Background(), 5, 0, time.Millisecond,
		func(context.Context) error { return scrollErr },
		func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, scrollErr)

	countErr := errors.New("count failed")
	_, _, err = scrollStable(context.Background(), 5, 0, time.Millisecond,
		func(context.Context) error { return nil },
		func(context.Context) (int, error) { return 0, countErr })
	assert.ErrorIs(t, err, countErr)
}

func TestScrollStableHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := scrollStable(ctx, 5, 0, time.Second,
		func(context.Context) error { return nil },
		func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// Fixture pass from parsed markup through record conversion: three trading
// days survive as three distinct ids, while two disclosures broadcast on
// the same day converge on one id.
func TestFixtureExtractionConvergesOnCanonicalIDs(t *testing.T) {
	historicalHTML := `<table id="equityHistoricalTable"><tbody>
		<tr><td>20-Mar-2025</td><td>EQ</td><td>1,250.00</td><td>1,260.00</td><td>1,240.00</td>
			<td>1,245.00</td><td>1,255.00</td><td>1,254.00</td><td>1,252.30</td><td>1,800.00</td>
			<td>900.00</td><td>12,34,567</td><td>154.20</td><td>45,678</td></tr>
		<tr><td>19-Mar-2025</td><td>EQ</td><td>1,240.00</td><td>1,252.00</td><td>1,231.00</td>
			<td>1,238.00</td><td>1,245.00</td><td>1,244.50</td><td>1,243.10</td><td>1,800.00</td>
			<td>900.00</td><td>11,22,334</td><td>139.80</td><td>41,020</td></tr>
		<tr><td>18-Mar-2025</td><td>EQ</td><td>1,231.00</td><td>1,242.00</td><td>1,225.00</td>
			<td>1,230.00</td><td>1,238.00</td><td>1,237.90</td><td>1,234.70</td><td>1,800.00</td>
			<td>900.00</td><td>10,11,223</td><td>125.10</td><td>38,511</td></tr>
	</tbody></table>`

	announcementsHTML := `<table id="corpAnnouncementTable"><tbody>
		<tr><td>Dividend</td><td>Interim dividend declared <span class="readMore">Read Less</span></td>
			<td>PDF</td><td>20-Mar-2025 09:10:00</td></tr>
		<tr><td>Board Meeting</td><td>Outcome of board meeting <span class="readMore">Read Less</span></td>
			<td>PDF</td><td>20-Mar-2025 17:45:00</td></tr>
	</tbody></table>`

	rows := parseTableHTML(historicalHTML, historicalMinCols)
	require.Len(t, rows, 3)

	historicalIDs := map[string]bool{}
	for _, row := range rows {
		rec, err := records.NewHistorical(row.Cells)
		require.NoError(t, err)
		historicalIDs[rec.CanonicalID()] = true
	}
	assert.Len(t, historicalIDs, 3, "three trading days persist as three documents")
	assert.True(t, historicalIDs["2025-03-20"])
	assert.True(t, historicalIDs["2025-03-18"])

	annRows := parseAnnouncementHTML(announcementsHTML)
	require.Len(t, annRows, 2)

	announcementIDs := map[string]bool{}
	for _, row := range annRows {
		rec := records.NewAnnouncement(row.Subject, row.Text, row.Broadcast)
		announcementIDs[rec.CanonicalID()] = true
	}
	assert.Len(t, announcementIDs, 1,
		"same-day broadcasts collide on the day key; the store keeps the last write")
}
