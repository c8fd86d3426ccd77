package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// RawRow is one table row as scraped: ordered cell texts, before any
// canonicalization. Raw rows never leave this package; they are converted
// to typed records immediately after extraction.
type RawRow struct {
	Cells []string
}

// announcementRow is the raw shape of one disclosure row, including
// whether its text cell still carries an unexpanded truncation control.
type announcementRow struct {
	Subject   string
	Text      string
	Broadcast string
	Truncated bool
}

// Extractor reads named tables and panels from an already-positioned
// browsing context. All knowledge of row/cell markup lives here.
type Extractor struct {
	timeout time.Duration
	settle  time.Duration
	logger  *slog.Logger
}

// NewExtractor creates an extractor with the given element-wait ceiling.
func NewExtractor(timeout, settle time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{timeout: timeout, settle: settle, logger: logger}
}

// outerHTML captures the target element's markup, bounded by the element
// timeout. An element that never appears reads as absent, not as an error:
// the adapter treats a missing table as "no data this cycle".
func (e *Extractor) outerHTML(ctx context.Context, sel string, opts ...chromedp.QueryOption) (string, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(waitCtx, chromedp.OuterHTML(sel, &html, opts...))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", false, nil
		}
		return "", false, err
	}
	return html, true, nil
}

// TableRows extracts the ordered rows of the table matching sel. Rows with
// fewer than minCols cells and fully empty rows are skipped. An absent
// table yields an empty sequence and no error.
func (e *Extractor) TableRows(ctx context.Context, sel string, minCols int) ([]RawRow, error) {
	html, found, err := e.outerHTML(ctx, sel, chromedp.ByQuery)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", sel, err)
	}
	if !found {
		e.logger.DebugContext(ctx, "table_absent", slog.String("selector", sel))
		return nil, nil
	}
	return parseTableHTML(html, minCols), nil
}

// KeyValues extracts a two-column info panel located by an XPath expression
// into a label-to-value map. An absent panel yields an empty map.
func (e *Extractor) KeyValues(ctx context.Context, xpath string) (map[string]string, error) {
	html, found, err := e.outerHTML(ctx, xpath, chromedp.BySearch)
	if err != nil {
		return nil, fmt.Errorf("read panel %s: %w", xpath, err)
	}
	if !found {
		e.logger.DebugContext(ctx, "panel_absent", slog.String("xpath", xpath))
		return map[string]string{}, nil
	}
	return parseKeyValueHTML(html), nil
}

// AnnouncementRows extracts the disclosure rows from the announcements
// container, carrying the truncation flag used to drop rows whose full
// text was never loaded.
func (e *Extractor) AnnouncementRows(ctx context.Context, sel string) ([]announcementRow, error) {
	html, found, err := e.outerHTML(ctx, sel, chromedp.ByQuery)
	if err != nil {
		return nil, fmt.Errorf("read announcements %s: %w", sel, err)
	}
	if !found {
		return nil, nil
	}
	return parseAnnouncementHTML(html), nil
}

// ExpandAll clicks every control matching sel in one pass, then waits for
// the asynchronous expansions to settle. Expansion happens batch-first so
// every row is fully readable before any row is read.
func (e *Extractor) ExpandAll(ctx context.Context, sel string) (int, error) {
	expandCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	js := fmt.Sprintf(`(() => {
		const controls = document.querySelectorAll(%q);
		controls.forEach(c => c.click());
		return controls.length;
	})()`, sel)

	var clicked int
	if err := chromedp.Run(expandCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return 0, fmt.Errorf("expand %s: %w", sel, err)
	}
	if clicked > 0 {
		if err := chromedp.Run(expandCtx, chromedp.Sleep(e.settle)); err != nil {
			return clicked, err
		}
	}
	return clicked, nil
}

// ScrollUntilStable scrolls containerSel to its bottom repeatedly until an
// iteration loads no new rows, the target row count is reached, or the
// iteration ceiling is hit. It returns the final row count.
func (e *Extractor) ScrollUntilStable(ctx context.Context, containerSel, rowSel string, maxIters, target int) (int, error) {
	scroll := func(ctx context.Context) error {
		js := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (el) { el.scrollTop = el.scrollHeight; }
			return true;
		})()`, containerSel)
		var ok bool
		return chromedp.Run(ctx, chromedp.Evaluate(js, &ok))
	}
	count := func(ctx context.Context) (int, error) {
		js := fmt.Sprintf(`document.querySelectorAll(%q).length`, rowSel)
		var n int
		err := chromedp.Run(ctx, chromedp.Evaluate(js, &n))
		return n, err
	}

	rows, iters, err := scrollStable(ctx, maxIters, target, e.settle, scroll, count)
	if err != nil {
		return rows, err
	}
	e.logger.DebugContext(ctx, "lazy_load_settled",
		slog.String("container", containerSel),
		slog.Int("rows", rows),
		slog.Int("iterations", iters))
	return rows, nil
}

// scrollStable is the lazy-load loop with its effects injected, so the
// termination behavior is testable without a browser. It stops at the
// first iteration whose count does not exceed the previous one, at the
// target count, or at the ceiling, whichever comes first.
func scrollStable(ctx context.Context, maxIters, target int, delay time.Duration, scroll func(context.Context) error, count func(context.Context) (int, error)) (int, int, error) {
	prev := -1
	rows := 0

	for i := 1; i <= maxIters; i++ {
		if err := scroll(ctx); err != nil {
			return rows, i, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return rows, i, ctx.Err()
		}

		n, err := count(ctx)
		if err != nil {
			return rows, i, err
		}
		rows = n

		if target > 0 && rows >= target {
			return rows, i, nil
		}
		if rows == prev {
			return rows, i, nil
		}
		prev = rows
	}
	return rows, maxIters, nil
}

// parseTableHTML parses tbody rows out of a table's markup.
func parseTableHTML(html string, minCols int) []RawRow {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var rows []RawRow
	doc.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		empty := true
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			text := strings.TrimSpace(td.Text())
			if text != "" {
				empty = false
			}
			cells = append(cells, text)
		})
		if empty || len(cells) < minCols {
			return
		}
		rows = append(rows, RawRow{Cells: cells})
	})
	return rows
}

// parseKeyValueHTML parses a two-column panel into a label-to-value map.
// Rows with any other shape are ignored.
func parseKeyValueHTML(html string) map[string]string {
	values := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return values
	}

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() != 2 {
			return
		}
		label := strings.TrimSpace(tds.Eq(0).Text())
		value := strings.TrimSpace(tds.Eq(1).Text())
		if label != "" {
			values[label] = value
		}
	})
	return values
}

// parseAnnouncementHTML parses disclosure rows: subject, full text,
// broadcast timestamp, and whether the text cell still holds an unexpanded
// truncation control.
func parseAnnouncementHTML(html string) []announcementRow {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var rows []announcementRow
	doc.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 4 {
			return
		}

		subject := strings.TrimSpace(tds.Eq(0).Text())
		textCell := tds.Eq(1)
		text := strings.TrimSpace(textCell.Text())
		broadcast := strings.TrimSpace(tds.Eq(3).Text())

		if subject == "" && text == "" {
			return
		}

		hasControl := textCell.Find(selReadMore).Length() > 0
		rows = append(rows, announcementRow{
			Subject:   subject,
			Text:      text,
			Broadcast: broadcast,
			Truncated: strings.Contains(text, "...") && !hasControl,
		})
	})
	return rows
}
