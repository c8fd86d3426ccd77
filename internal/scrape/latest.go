package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/chromedp"

	"finassist/internal/records"
)

const (
	selSearchInput = `input[placeholder="Search by Company name, Symbol or keyword... "]`
	selSuggestion  = ".autocompleteList"
)

// ErrNoQuote reports that the search resolved but the historical table had
// no usable row.
var ErrNoQuote = fmt.Errorf("no quote row available")

// LatestQuote resolves symbol through the site search, opens the equity
// suggestion, and returns the most recent historical row as a record. It
// runs against the session's root context and leaves the session on the
// quote page; the caller should re-anchor afterwards.
func (m *Machine) LatestQuote(ctx context.Context, symbol string) (records.Historical, error) {
	runCtx, cancel := context.WithTimeout(m.session.Browser(), m.cfg.StageTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.Navigate(m.cfg.BaseURL),
		chromedp.Sleep(m.cfg.SettleDelay),
		chromedp.WaitVisible(selSearchInput, chromedp.ByQuery),
		chromedp.SendKeys(selSearchInput, symbol, chromedp.ByQuery),
		chromedp.Sleep(m.cfg.SettleDelay),
	); err != nil {
		return records.Historical{}, fmt.Errorf("search %q: %w", symbol, err)
	}

	// The suggestion list mixes instrument classes; only the equity entry
	// leads to a quote page with a historical tab.
	clickEquity := fmt.Sprintf(`(() => {
		const items = document.querySelectorAll(%q);
		for (const item of items) {
			if (item.textContent.toLowerCase().includes("in equity")) {
				item.click();
				return true;
			}
		}
		return false;
	})()`, selSuggestion)

	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(clickEquity, &clicked)); err != nil {
		return records.Historical{}, fmt.Errorf("pick suggestion for %q: %w", symbol, err)
	}
	if !clicked {
		return records.Historical{}, fmt.Errorf("%w: no equity suggestion for %q", ErrNoQuote, symbol)
	}

	if err := chromedp.Run(runCtx,
		chromedp.Sleep(m.cfg.SettleDelay),
		chromedp.WaitVisible(selHistoricalTab, chromedp.ByQuery),
		chromedp.Click(selHistoricalTab, chromedp.ByQuery),
		chromedp.Sleep(m.cfg.SettleDelay),
		chromedp.WaitVisible(selHistoricalTable, chromedp.ByQuery),
	); err != nil {
		return records.Historical{}, fmt.Errorf("open historical tab for %q: %w", symbol, err)
	}

	extractor := NewExtractor(m.cfg.ElementTimeout, m.cfg.SettleDelay, m.logger)
	rows, err := extractor.TableRows(runCtx, selHistoricalTable, historicalMinCols)
	if err != nil {
		return records.Historical{}, err
	}
	if len(rows) == 0 {
		return records.Historical{}, fmt.Errorf("%w: empty historical table for %q", ErrNoQuote, symbol)
	}

	rec, err := records.NewHistorical(rows[0].Cells)
	if err != nil {
		return records.Historical{}, fmt.Errorf("latest row for %q: %w", symbol, err)
	}
	m.logger.InfoContext(ctx, "latest_quote",
		slog.String("symbol", strings.ToUpper(symbol)),
		slog.String("date", rec.Date),
		slog.String("ltp", rec.LTP))
	return rec, nil
}
