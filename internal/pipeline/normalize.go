package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"finassist/internal/canonical"
	"finassist/internal/records"
)

// Catalog is the store surface the normalizer needs: enumeration plus raw
// document rewrites that bypass the typed record constructors.
type Catalog interface {
	Companies(ctx context.Context) ([]string, error)
	Categories(ctx context.Context, company string) ([]records.Category, error)
	All(ctx context.Context, company string, category records.Category) ([]bson.M, error)
	Delete(ctx context.Context, company string, category records.Category, id interface{}) error
	UpsertRaw(ctx context.Context, company string, category records.Category, id interface{}, doc bson.M) error
}

// NormalizeStats counts what one normalization pass touched.
type NormalizeStats struct {
	Companies int
	Rekeyed   int
	Cleaned   int
	Skipped   int
}

// Normalizer re-keys documents written by earlier captures onto day-keyed
// canonical ids and re-cleans announcement text in place. Running it over
// an already-normalized store is a no-op.
type Normalizer struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewNormalizer wires a normalizer over the given catalog.
func NewNormalizer(catalog Catalog, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{catalog: catalog, logger: logger}
}

// snapshotCategories are the point-in-time panels keyed by capture day.
var snapshotCategories = map[records.Category]bool{
	records.CategoryTradeInfo:    true,
	records.CategoryPriceInfo:    true,
	records.CategorySecurityInfo: true,
}

// Run walks every company namespace and normalizes what it finds. Per-
// document failures are counted and skipped; only enumeration failures
// abort the pass.
func (n *Normalizer) Run(ctx context.Context) (*NormalizeStats, error) {
	companies, err := n.catalog.Companies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}

	stats := &NormalizeStats{}
	for _, company := range companies {
		categories, err := n.catalog.Categories(ctx, company)
		if err != nil {
			return stats, fmt.Errorf("list categories for %s: %w", company, err)
		}
		stats.Companies++

		for _, category := range categories {
			switch {
			case category == records.CategoryAnnouncements:
				if err := n.normalizeAnnouncements(ctx, company, stats); err != nil {
					return stats, err
				}
			case snapshotCategories[category]:
				if err := n.normalizeSnapshots(ctx, company, category, stats); err != nil {
					return stats, err
				}
			}
		}
	}

	n.logger.InfoContext(ctx, "normalize_completed",
		slog.Int("companies", stats.Companies),
		slog.Int("rekeyed", stats.Rekeyed),
		slog.Int("cleaned", stats.Cleaned),
		slog.Int("skipped", stats.Skipped))
	return stats, nil
}

// normalizeAnnouncements re-cleans disclosure text and moves each document
// onto the day key derived from its broadcast timestamp.
func (n *Normalizer) normalizeAnnouncements(ctx context.Context, company string, stats *NormalizeStats) error {
	docs, err := n.catalog.All(ctx, company, records.CategoryAnnouncements)
	if err != nil {
		return fmt.Errorf("read announcements for %s: %w", company, err)
	}

	for _, doc := range docs {
		broadcast, _ := doc["Broadcast Date/Time"].(string)
		newID, err := canonical.Date(broadcast)
		if err != nil {
			stats.Skipped++
			n.logger.WarnContext(ctx, "announcement_skipped",
				slog.String("company", company),
				slog.Any("id", doc["_id"]),
				slog.String("broadcast", broadcast))
			continue
		}

		text, _ := doc["Announcement"].(string)
		cleaned := canonical.Announcement(text)

		oldID := doc["_id"]
		if oldID == newID && cleaned == text {
			continue
		}

		rewritten := rewrite(doc, newID)
		rewritten["Announcement"] = cleaned

		if oldID != newID {
			if err := n.catalog.Delete(ctx, company, records.CategoryAnnouncements, oldID); err != nil {
				return fmt.Errorf("drop stale announcement %v for %s: %w", oldID, company, err)
			}
			stats.Rekeyed++
		} else {
			stats.Cleaned++
		}
		if err := n.catalog.UpsertRaw(ctx, company, records.CategoryAnnouncements, newID, rewritten); err != nil {
			return fmt.Errorf("rewrite announcement %s for %s: %w", newID, company, err)
		}
	}
	return nil
}

// normalizeSnapshots moves panel snapshots onto the capture-day key taken
// from their Scraped_At timestamp. Documents without a usable timestamp
// are left alone.
func (n *Normalizer) normalizeSnapshots(ctx context.Context, company string, category records.Category, stats *NormalizeStats) error {
	docs, err := n.catalog.All(ctx, company, category)
	if err != nil {
		return fmt.Errorf("read %s for %s: %w", category, company, err)
	}

	for _, doc := range docs {
		capturedAt, ok := scrapedAt(doc["Scraped_At"])
		if !ok {
			stats.Skipped++
			continue
		}

		newID := canonical.DayKey(capturedAt)
		oldID := doc["_id"]
		if oldID == newID {
			continue
		}

		if err := n.catalog.Delete(ctx, company, category, oldID); err != nil {
			return fmt.Errorf("drop stale %s %v for %s: %w", category, oldID, company, err)
		}
		if err := n.catalog.UpsertRaw(ctx, company, category, newID, rewrite(doc, newID)); err != nil {
			return fmt.Errorf("rewrite %s %s for %s: %w", category, newID, company, err)
		}
		stats.Rekeyed++
	}
	return nil
}

// rewrite copies doc with its id replaced.
func rewrite(doc bson.M, id interface{}) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	out["_id"] = id
	return out
}

// scrapedAt decodes the capture timestamp however the driver surfaced it.
func scrapedAt(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	default:
		return time.Time{}, false
	}
}
