package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"finassist/internal/config"
	"finassist/internal/download"
	"finassist/internal/records"
)

// historicalMinCols is the cell count of a complete historical row; the
// extractor drops anything narrower before record conversion sees it.
const historicalMinCols = 14

// Store is the persistence surface the machine writes through.
type Store interface {
	Upsert(ctx context.Context, company string, category records.Category, rec records.Record) error
	BulkUpsert(ctx context.Context, company string, category records.Category, recs []records.Record) error
}

// Downloader reconciles browser exports into a company's directory.
type Downloader interface {
	WaitAndMove(ctx context.Context, company, companyDir string, patterns []download.Pattern, timeout time.Duration) ([]string, error)
}

// Company is one row of the ranked listing.
type Company struct {
	Name string `json:"name"`
	Href string `json:"href"`
	Rank int    `json:"rank"`
}

// Key returns the company's namespace key: the display name reduced to
// characters safe for both a database name and a directory name.
func (c Company) Key() string {
	return config.SanitizeName(c.Name)
}

// Outcome summarizes one company's pass through the stage sequence.
type Outcome struct {
	Company   Company
	Completed []string
	Degraded  []string
	Err       error
	Duration  time.Duration
}

// Machine drives one company at a time through the fixed acquisition
// sequence. It owns no browser of its own; every pass checks a tab out of
// the shared session and returns the session anchored afterwards.
type Machine struct {
	session   *Session
	cfg       config.ScrapeConfig
	dcfg      config.DownloadConfig
	store     Store
	downloads Downloader
	paths     *config.Paths
	logger    *slog.Logger
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewMachine wires the machine. A non-positive ActionsPerSec disables
// pacing.
func NewMachine(session *Session, cfg config.ScrapeConfig, dcfg config.DownloadConfig, store Store, downloads Downloader, paths *config.Paths, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.ActionsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSec), 1)
	}
	return &Machine{
		session:   session,
		cfg:       cfg,
		dcfg:      dcfg,
		store:     store,
		downloads: downloads,
		paths:     paths,
		logger:    logger,
		limiter:   limiter,
		now:       time.Now,
	}
}

// Listing reads the ranked listing table and returns the companies whose
// 1-based rank falls inside [from, to]. The session must already be
// anchored on the listing page.
func (m *Machine) Listing(ctx context.Context, from, to int) ([]Company, error) {
	listCtx, cancel := context.WithTimeout(m.session.Browser(), m.cfg.ElementTimeout)
	defer cancel()

	js := fmt.Sprintf(`(() => {
		const out = [];
		const rows = document.querySelectorAll(%q);
		rows.forEach((tr, i) => {
			const a = tr.querySelector('td a');
			if (!a) { return; }
			out.push({ name: a.textContent.trim(), href: a.getAttribute('href') || '', rank: i + 1 });
		});
		return out;
	})()`, selListingTable+" tbody tr")

	var all []Company
	if err := chromedp.Run(listCtx, chromedp.Evaluate(js, &all)); err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}

	var window []Company
	for _, c := range all {
		if c.Rank >= from && c.Rank <= to && c.Name != "" {
			window = append(window, c)
		}
	}
	m.logger.InfoContext(ctx, "listing_read",
		slog.Int("rows", len(all)),
		slog.Int("selected", len(window)),
		slog.Int("rank_from", from),
		slog.Int("rank_to", to))
	return window, nil
}

// ProcessCompany runs the full acquisition sequence for one company in a
// fresh tab. The tab is torn down and the root context re-anchored before
// returning, whatever the outcome.
func (m *Machine) ProcessCompany(ctx context.Context, c Company) *Outcome {
	start := m.now()
	out := &Outcome{Company: c}

	tabCtx, closeTab := m.session.NewTab()
	defer func() {
		closeTab()
		if err := m.session.Anchor(ctx); err != nil {
			m.logger.WarnContext(ctx, "re_anchor_failed",
				slog.String("company", c.Name),
				slog.String("error", err.Error()))
		}
		out.Duration = m.now().Sub(start)
	}()

	extractor := NewExtractor(m.cfg.ElementTimeout, m.cfg.SettleDelay, m.logger)
	stages := m.companyStages(ctx, tabCtx, c, extractor)

	out.Completed, out.Degraded, out.Err = runStages(ctx, stages, m.cfg.StageTimeout, m.pace, m.logger)
	return out
}

// pace blocks until the next browser action is allowed.
func (m *Machine) pace(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.Wait(ctx)
}

// runStages executes stages in order with a per-stage timeout. A fatal
// stage failure stops the sequence; a non-fatal one is recorded and the
// sequence continues. The pacing hook runs before every stage.
func runStages(ctx context.Context, stages []Stage, timeout time.Duration, pace func(context.Context) error, logger *slog.Logger) (completed, degraded []string, err error) {
	for _, st := range stages {
		if pace != nil {
			if perr := pace(ctx); perr != nil {
				return completed, degraded, NewStageError(st.ID, perr)
			}
		}

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		stageStart := time.Now()
		runErr := st.Run(stageCtx)
		cancel()

		if runErr != nil {
			if st.NonFatal {
				degraded = append(degraded, st.ID)
				logger.WarnContext(ctx, "stage_degraded",
					slog.String("stage", st.ID),
					slog.String("error", runErr.Error()))
				continue
			}
			return completed, degraded, NewStageError(st.ID, runErr)
		}

		completed = append(completed, st.ID)
		logger.DebugContext(ctx, "stage_completed",
			slog.String("stage", st.ID),
			slog.Duration("took", time.Since(stageStart)))
	}
	return completed, degraded, nil
}

// tabContext derives a browsing context from the company tab bounded by
// the stage deadline, so a stuck page load cannot outlive its stage.
func tabContext(tabCtx, stageCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := stageCtx.Deadline(); ok {
		return context.WithDeadline(tabCtx, deadline)
	}
	return context.WithCancel(tabCtx)
}

// companyStages builds the ordered stage sequence for one company. Browser
// actions run against tabCtx; store and reconciler calls run against the
// caller's ctx so the run can be cancelled independently of the tab.
func (m *Machine) companyStages(ctx, tabCtx context.Context, c Company, extractor *Extractor) []Stage {
	key := c.Key()

	stages := []Stage{
		{
			ID:   "open_company",
			Name: "open the company quote page",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return chromedp.Run(tctx,
					chromedp.Navigate(m.resolveHref(c.Href)),
					chromedp.WaitVisible(selHistoricalTab, chromedp.ByQuery),
					chromedp.Sleep(m.cfg.SettleDelay),
				)
			},
		},
		{
			ID:   "load_historical",
			Name: "open the historical data tab",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return chromedp.Run(tctx,
					chromedp.Click(selHistoricalTab, chromedp.ByQuery),
					chromedp.Sleep(m.cfg.SettleDelay),
				)
			},
		},
		{
			ID:   "apply_range",
			Name: "apply the historical date range",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return chromedp.Run(tctx,
					chromedp.Click(m.rangeSelector(), chromedp.ByQuery),
					chromedp.Sleep(m.cfg.SettleDelay),
					chromedp.Click(selRangeFilter, chromedp.ByQuery),
					chromedp.WaitVisible(selHistoricalTable, chromedp.ByQuery),
					chromedp.Sleep(m.cfg.SettleDelay),
				)
			},
		},
		{
			ID:   "extract_historical",
			Name: "extract and store historical rows",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return m.extractHistorical(ctx, tctx, key, extractor)
			},
		},
		{
			ID:       "export_historical",
			Name:     "export the historical table as csv",
			NonFatal: true,
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return m.exportAndReconcile(ctx, tctx, key, selHistoricalExport, m.patterns(m.dcfg.HistoricalPrefixes, records.CategoryHistorical))
			},
		},
		{
			ID:   "trade_info",
			Name: "capture the trade information panels",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return m.extractPanels(ctx, tctx, key, extractor)
			},
		},
		{
			ID:   "open_announcements",
			Name: "follow the corporate announcements link",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return chromedp.Run(tctx,
					chromedp.Click(selAnnouncementsLink, chromedp.ByQuery),
					chromedp.WaitVisible(selAnnouncementsBox, chromedp.ByQuery),
					chromedp.Sleep(m.cfg.SettleDelay),
				)
			},
		},
		{
			ID:   "announcements_range",
			Name: "apply the announcements date range",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return chromedp.Run(tctx,
					chromedp.Click(m.announcementsRangeSelector(), chromedp.ByQuery),
					chromedp.Sleep(m.cfg.SettleDelay),
				)
			},
		},
		{
			ID:   "load_announcements",
			Name: "load and expand the lazy announcement rows",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				if _, err := extractor.ScrollUntilStable(tctx, selAnnouncementsBox, selAnnouncementsRow, m.cfg.ScrollMaxIters, m.cfg.ScrollTarget); err != nil {
					return err
				}
				_, err := extractor.ExpandAll(tctx, selReadMore)
				return err
			},
		},
		{
			ID:   "extract_announcements",
			Name: "extract and store announcements",
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return m.extractAnnouncements(ctx, tctx, key, extractor)
			},
		},
		{
			ID:       "export_announcements",
			Name:     "export the announcements table as csv",
			NonFatal: true,
			Run: func(sctx context.Context) error {
				tctx, cancel := tabContext(tabCtx, sctx)
				defer cancel()
				return m.exportAndReconcile(ctx, tctx, key, selAnnouncementsExport, m.patterns(m.dcfg.DisclosurePrefixes, records.CategoryAnnouncements))
			},
		},
	}

	if !m.cfg.ExportCSV {
		kept := stages[:0]
		for _, st := range stages {
			if st.ID == "export_historical" || st.ID == "export_announcements" {
				continue
			}
			kept = append(kept, st)
		}
		stages = kept
	}
	return stages
}

func (m *Machine) extractHistorical(ctx, tabCtx context.Context, key string, extractor *Extractor) error {
	rows, err := extractor.TableRows(tabCtx, selHistoricalTable, historicalMinCols)
	if err != nil {
		return err
	}

	recs := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := records.NewHistorical(row.Cells)
		if err != nil {
			m.logger.WarnContext(ctx, "historical_row_skipped",
				slog.String("company", key),
				slog.String("error", err.Error()))
			continue
		}
		recs = append(recs, rec)
	}

	m.logger.InfoContext(ctx, "historical_extracted",
		slog.String("company", key),
		slog.Int("rows", len(recs)))
	return m.store.BulkUpsert(ctx, key, records.CategoryHistorical, recs)
}

func (m *Machine) extractPanels(ctx, tabCtx context.Context, key string, extractor *Extractor) error {
	if err := chromedp.Run(tabCtx,
		chromedp.Click(selTradeInfoTab, chromedp.ByQuery),
		chromedp.Sleep(m.cfg.SettleDelay),
	); err != nil {
		return fmt.Errorf("open trade info tab: %w", err)
	}

	capturedAt := m.now()
	panels := []struct {
		xpath    string
		category records.Category
		build    func(map[string]string) records.Record
	}{
		{xpathTradePanel, records.CategoryTradeInfo, func(v map[string]string) records.Record {
			return records.NewTradeInfo(v, capturedAt)
		}},
		{xpathPricePanel, records.CategoryPriceInfo, func(v map[string]string) records.Record {
			return records.NewPriceInfo(v, capturedAt)
		}},
		{xpathSecurityPanel, records.CategorySecurityInfo, func(v map[string]string) records.Record {
			return records.NewSecurityInfo(v, capturedAt)
		}},
	}

	for _, p := range panels {
		values, err := extractor.KeyValues(tabCtx, p.xpath)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			m.logger.WarnContext(ctx, "panel_empty",
				slog.String("company", key),
				slog.String("category", string(p.category)))
			continue
		}
		if err := m.store.Upsert(ctx, key, p.category, p.build(values)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) extractAnnouncements(ctx, tabCtx context.Context, key string, extractor *Extractor) error {
	rows, err := extractor.AnnouncementRows(tabCtx, selAnnouncementsBox)
	if err != nil {
		return err
	}

	recs := make([]records.Record, 0, len(rows))
	truncated := 0
	for _, row := range rows {
		if row.Truncated {
			truncated++
			continue
		}
		recs = append(recs, records.NewAnnouncement(row.Subject, row.Text, row.Broadcast))
	}

	m.logger.InfoContext(ctx, "announcements_extracted",
		slog.String("company", key),
		slog.Int("rows", len(recs)),
		slog.Int("truncated_dropped", truncated))
	return m.store.BulkUpsert(ctx, key, records.CategoryAnnouncements, recs)
}

// exportAndReconcile triggers a csv export and waits for the file to land,
// then files it under the company directory.
func (m *Machine) exportAndReconcile(ctx, tabCtx context.Context, key, exportSel string, patterns []download.Pattern) error {
	if err := chromedp.Run(tabCtx, chromedp.Click(exportSel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click export %s: %w", exportSel, err)
	}

	companyDir, err := m.paths.CompanyDir(key)
	if err != nil {
		return err
	}

	moved, err := m.downloads.WaitAndMove(ctx, key, companyDir, patterns, m.dcfg.Timeout)
	if err != nil {
		return err
	}
	if len(moved) == 0 {
		return fmt.Errorf("no export matched within %s", m.dcfg.Timeout)
	}
	m.logger.InfoContext(ctx, "export_filed",
		slog.String("company", key),
		slog.Any("files", moved))
	return nil
}

func (m *Machine) patterns(prefixes []string, category records.Category) []download.Pattern {
	out := make([]download.Pattern, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, download.Pattern{Prefix: p, Category: string(category)})
	}
	return out
}

// rangeSelector maps the configured historical range to its filter button.
func (m *Machine) rangeSelector() string {
	if m.cfg.Range == "1Y" {
		return selRange1Y
	}
	return selRange6M
}

func (m *Machine) announcementsRangeSelector() string {
	if m.cfg.Range == "1Y" {
		return selAnnouncementsRange1
	}
	return selAnnouncementsRange
}

// resolveHref joins a listing href with the base url when it is relative.
func (m *Machine) resolveHref(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(m.cfg.BaseURL, "/") + href
}
