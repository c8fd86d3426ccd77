package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPatterns = []Pattern{
	{Prefix: "Quote-Equity", Category: "historical_data"},
	{Prefix: "CF-Announcement", Category: "announcements"},
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))
	return path
}

func TestWaitAndMoveSettledDirectory(t *testing.T) {
	root := t.TempDir()
	companyDir := t.TempDir()
	writeFile(t, root, "Quote-Equity-RELIANCE-EQ.csv")
	writeFile(t, root, "CF-Announcement-20-03-2025.csv")
	writeFile(t, root, "unrelated.pdf")

	r := NewReconciler(root, 10*time.Millisecond, nil)
	moved, err := r.WaitAndMove(context.Background(), "RELIANCE", companyDir, testPatterns, time.Second)
	require.NoError(t, err)
	require.Len(t, moved, 2)

	assert.FileExists(t, filepath.Join(companyDir, "RELIANCE_historical_data.csv"))
	assert.FileExists(t, filepath.Join(companyDir, "RELIANCE_announcements.csv"))
	assert.NoFileExists(t, filepath.Join(root, "Quote-Equity-RELIANCE-EQ.csv"), "source file relocated, not copied")
	assert.FileExists(t, filepath.Join(root, "unrelated.pdf"), "non-matching files left in place")
}

func TestWaitAndMoveWaitsForInProgressMarker(t *testing.T) {
	root := t.TempDir()
	companyDir := t.TempDir()
	partial := writeFile(t, root, "Quote-Equity-TCS-EQ.csv.crdownload")

	// Simulate the browser finishing the download shortly after the first poll.
	go func() {
		time.Sleep(50 * time.Millisecond)
		os.Rename(partial, filepath.Join(root, "Quote-Equity-TCS-EQ.csv"))
	}()

	r := NewReconciler(root, 10*time.Millisecond, nil)
	moved, err := r.WaitAndMove(context.Background(), "TCS", companyDir, testPatterns, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.FileExists(t, filepath.Join(companyDir, "TCS_historical_data.csv"))
}

func TestWaitAndMoveTimeoutReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	companyDir := t.TempDir()
	writeFile(t, root, "Quote-Equity-INFY-EQ.csv.crdownload")

	r := NewReconciler(root, 10*time.Millisecond, nil)
	moved, err := r.WaitAndMove(context.Background(), "INFY", companyDir, testPatterns, 100*time.Millisecond)
	assert.NoError(t, err, "timeout is a degraded outcome, not an error")
	assert.Empty(t, moved)
}

func TestWaitAndMoveNoMatchesTimesOutQuietly(t *testing.T) {
	root := t.TempDir()
	companyDir := t.TempDir()
	writeFile(t, root, "somethingelse.csv")

	r := NewReconciler(root, 10*time.Millisecond, nil)
	moved, err := r.WaitAndMove(context.Background(), "WIPRO", companyDir, testPatterns, 100*time.Millisecond)
	assert.NoError(t, err)
	assert.Empty(t, moved)
}

func TestWaitAndMoveOverwritesPriorExport(t *testing.T) {
	root := t.TempDir()
	companyDir := t.TempDir()
	prior := filepath.Join(companyDir, "HDFC_historical_data.csv")
	require.NoError(t, os.WriteFile(prior, []byte("stale"), 0o644))
	writeFile(t, root, "Quote-Equity-HDFC-EQ.csv")

	r := NewReconciler(root, 10*time.Millisecond, nil)
	moved, err := r.WaitAndMove(context.Background(), "HDFC", companyDir, testPatterns, time.Second)
	require.NoError(t, err)
	require.Len(t, moved, 1)

	content, err := os.ReadFile(prior)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", string(content), "re-run replaces the prior export")
}

func TestInProgress(t *testing.T) {
	assert.True(t, inProgress("report.csv.crdownload"))
	assert.True(t, inProgress("report.CSV.PART"))
	assert.True(t, inProgress("export.tmp"))
	assert.False(t, inProgress("report.csv"))
}
