package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Paths resolves the filesystem layout used by the pipeline.
type Paths struct {
	DataDir      string
	DownloadsDir string
	LogsDir      string
}

// NewPaths builds the path set rooted at the download directory's parent.
func NewPaths(cfg *Config) *Paths {
	downloads := cfg.Download.Dir
	data := filepath.Dir(downloads)
	return &Paths{
		DataDir:      data,
		DownloadsDir: downloads,
		LogsDir:      filepath.Dir(cfg.Logging.FilePath),
	}
}

// EnsureDirectories creates every required directory.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.DownloadsDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// CompanyDir returns the per-company namespace directory under the data
// root, creating it on demand.
func (p *Paths) CompanyDir(company string) (string, error) {
	dir := filepath.Join(p.DataDir, SanitizeName(company))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

var unsafeNameRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName maps a scraped entity name to a safe directory name.
func SanitizeName(name string) string {
	s := strings.TrimSpace(name)
	s = unsafeNameRE.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "unknown"
	}
	return s
}
