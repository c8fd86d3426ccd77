// Package pipeline orchestrates full acquisition runs: enumerate the
// ranked companies, drive each through the scrape state machine in
// isolation, and summarize what landed. It also hosts the offline
// normalization pass that re-keys documents written by earlier captures.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"finassist/internal/scrape"
)

// CompanyProcessor is the scrape surface the runner drives.
type CompanyProcessor interface {
	Listing(ctx context.Context, from, to int) ([]scrape.Company, error)
	ProcessCompany(ctx context.Context, c scrape.Company) *scrape.Outcome
}

// CompanyResult is one company's row in the run summary.
type CompanyResult struct {
	Company  string
	Rank     int
	Stages   []string
	Degraded []string
	Err      error
	Duration time.Duration
}

// RunSummary aggregates one full run.
type RunSummary struct {
	Companies []CompanyResult
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Runner walks the rank window one company at a time. A company that
// fails, however it fails, costs only itself: the runner recovers panics,
// records the failure, and moves on.
type Runner struct {
	proc   CompanyProcessor
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner wires a runner over the given processor.
func NewRunner(proc CompanyProcessor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{proc: proc, logger: logger, now: time.Now}
}

// Run enumerates the companies ranked [from, to] and processes each in
// turn. Only an empty or unreadable listing fails the run itself.
func (r *Runner) Run(ctx context.Context, from, to int) (*RunSummary, error) {
	start := r.now()

	companies, err := r.proc.Listing(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("enumerate companies: %w", err)
	}
	if len(companies) == 0 {
		return nil, fmt.Errorf("no companies in rank window [%d, %d]", from, to)
	}

	summary := &RunSummary{}
	for _, c := range companies {
		if err := ctx.Err(); err != nil {
			summary.Duration = r.now().Sub(start)
			return summary, err
		}

		r.logger.InfoContext(ctx, "company_started",
			slog.String("company", c.Name),
			slog.Int("rank", c.Rank))

		out := r.processSafely(ctx, c)
		result := CompanyResult{
			Company:  c.Name,
			Rank:     c.Rank,
			Stages:   out.Completed,
			Degraded: out.Degraded,
			Err:      out.Err,
			Duration: out.Duration,
		}
		summary.Companies = append(summary.Companies, result)

		if out.Err != nil {
			summary.Failed++
			attrs := []any{
				slog.String("company", c.Name),
				slog.String("error", out.Err.Error()),
				slog.Duration("took", out.Duration),
			}
			if se, ok := scrape.AsStageError(out.Err); ok {
				attrs = append(attrs, slog.String("stage", se.Stage))
			}
			r.logger.ErrorContext(ctx, "company_failed", attrs...)
			continue
		}

		summary.Succeeded++
		r.logger.InfoContext(ctx, "company_completed",
			slog.String("company", c.Name),
			slog.Int("stages", len(out.Completed)),
			slog.Int("degraded", len(out.Degraded)),
			slog.Duration("took", out.Duration))
	}

	summary.Duration = r.now().Sub(start)
	r.logger.InfoContext(ctx, "run_completed",
		slog.Int("companies", len(summary.Companies)),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Duration("took", summary.Duration))
	return summary, nil
}

// processSafely converts a panic inside one company's processing into a
// failed outcome for that company alone.
func (r *Runner) processSafely(ctx context.Context, c scrape.Company) (out *scrape.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "company_panicked",
				slog.String("company", c.Name),
				slog.Any("panic", rec))
			out = &scrape.Outcome{
				Company: c,
				Err:     fmt.Errorf("panic while processing %s: %v", c.Name, rec),
			}
		}
	}()
	return r.proc.ProcessCompany(ctx, c)
}
