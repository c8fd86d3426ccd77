// Package download reconciles browser file exports with the per-company
// directory layout. Exports land in a shared download root under names the
// remote source chooses; the reconciler waits for in-flight downloads to
// settle, matches completed files against per-category name patterns, and
// relocates them under deterministic names so re-runs overwrite rather
// than accumulate.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// inProgressSuffixes mark a download the browser has not finished writing.
var inProgressSuffixes = []string{".crdownload", ".part", ".tmp", ".download"}

// Pattern maps a filename prefix to the data category its exports belong to.
type Pattern struct {
	Prefix   string
	Category string
}

// Reconciler watches a download root directory.
type Reconciler struct {
	root     string
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a reconciler polling root at the given interval.
func NewReconciler(root string, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{root: root, interval: interval, logger: logger}
}

// WaitAndMove polls the download root until no file carries an in-progress
// marker and at least one completed file matches a configured pattern, then
// moves every match into companyDir as {company}_{category}.csv,
// overwriting prior exports. On timeout or cancellation it returns the
// empty list and no error: a missing export is a degraded sub-goal, not a
// failure of the surrounding extraction.
func (r *Reconciler) WaitAndMove(ctx context.Context, company, companyDir string, patterns []Pattern, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)

	for {
		settled, matches, err := r.scan(patterns)
		if err != nil {
			return nil, fmt.Errorf("scan download dir: %w", err)
		}

		if settled && len(matches) > 0 {
			return r.moveAll(company, companyDir, matches)
		}

		if time.Now().After(deadline) {
			r.logger.WarnContext(ctx, "download_reconcile_timeout",
				slog.String("company", company),
				slog.Duration("timeout", timeout))
			return nil, nil
		}

		select {
		case <-time.After(r.interval):
		case <-ctx.Done():
			r.logger.WarnContext(ctx, "download_reconcile_cancelled",
				slog.String("company", company))
			return nil, nil
		}
	}
}

type match struct {
	path     string
	category string
}

// scan reports whether the directory has settled and which completed files
// match a pattern.
func (r *Reconciler) scan(patterns []Pattern) (bool, []match, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return false, nil, err
	}

	var matches []match
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if inProgress(name) {
			return false, nil, nil
		}
		for _, p := range patterns {
			if strings.HasPrefix(name, p.Prefix) {
				matches = append(matches, match{
					path:     filepath.Join(r.root, name),
					category: p.Category,
				})
				break
			}
		}
	}
	return true, matches, nil
}

func inProgress(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range inProgressSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// moveAll relocates every match to its deterministic per-company name.
func (r *Reconciler) moveAll(company, companyDir string, matches []match) ([]string, error) {
	moved := make([]string, 0, len(matches))
	for _, m := range matches {
		dest := filepath.Join(companyDir, fmt.Sprintf("%s_%s.csv", company, m.category))
		if err := moveFile(m.path, dest); err != nil {
			r.logger.Warn("download_move_failed",
				slog.String("src", m.path),
				slog.String("dest", dest),
				slog.String("error", err.Error()))
			continue
		}
		r.logger.Info("download_reconciled",
			slog.String("company", company),
			slog.String("category", m.category),
			slog.String("dest", dest))
		moved = append(moved, dest)
	}
	return moved, nil
}

// moveFile renames src to dest, falling back to copy-and-delete when the
// rename crosses filesystems.
func moveFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	destFile, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := destFile.Sync(); err != nil {
		return err
	}
	return os.Remove(src)
}
