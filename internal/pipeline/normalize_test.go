package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"finassist/internal/records"
)

type fakeCatalog struct {
	docs map[string]map[records.Category][]bson.M

	deleted  []interface{}
	upserted map[interface{}]bson.M
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		docs:     map[string]map[records.Category][]bson.M{},
		upserted: map[interface{}]bson.M{},
	}
}

func (f *fakeCatalog) add(company string, category records.Category, doc bson.M) {
	if f.docs[company] == nil {
		f.docs[company] = map[records.Category][]bson.M{}
	}
	f.docs[company][category] = append(f.docs[company][category], doc)
}

func (f *fakeCatalog) Companies(context.Context) ([]string, error) {
	var out []string
	for company := range f.docs {
		out = append(out, company)
	}
	return out, nil
}

func (f *fakeCatalog) Categories(_ context.Context, company string) ([]records.Category, error) {
	var out []records.Category
	for category := range f.docs[company] {
		out = append(out, category)
	}
	return out, nil
}

func (f *fakeCatalog) All(_ context.Context, company string, category records.Category) ([]bson.M, error) {
	return f.docs[company][category], nil
}

func (f *fakeCatalog) Delete(_ context.Context, _ string, _ records.Category, id interface{}) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCatalog) UpsertRaw(_ context.Context, _ string, _ records.Category, id interface{}, doc bson.M) error {
	f.upserted[id] = doc
	return nil
}

func TestNormalizerRekeysAnnouncements(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("Alpha_Ltd", records.CategoryAnnouncements, bson.M{
		"_id":                 "legacy-0",
		"Subject":             "Board Meeting",
		"Announcement":        "The board will meet Read Less",
		"Broadcast Date/Time": "20-Mar-2025 18:05:00",
	})

	stats, err := NewNormalizer(catalog, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Rekeyed)
	assert.Equal(t, []interface{}{"legacy-0"}, catalog.deleted)

	doc, ok := catalog.upserted["2025-03-20"]
	require.True(t, ok, "document must land under the broadcast day key")
	assert.Equal(t, "The board will meet.", doc["Announcement"],
		"truncation controls are stripped and a terminator appended")
	assert.Equal(t, "2025-03-20", doc["_id"])
}

func TestNormalizerLeavesCanonicalAnnouncementsAlone(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("Alpha_Ltd", records.CategoryAnnouncements, bson.M{
		"_id":                 "2025-03-20",
		"Subject":             "Board Meeting",
		"Announcement":        "The board will meet.",
		"Broadcast Date/Time": "20-Mar-2025 18:05:00",
	})

	stats, err := NewNormalizer(catalog, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Rekeyed)
	assert.Zero(t, stats.Cleaned)
	assert.Empty(t, catalog.deleted)
	assert.Empty(t, catalog.upserted, "a second pass over normalized data writes nothing")
}

func TestNormalizerSkipsUnparsableBroadcasts(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("Alpha_Ltd", records.CategoryAnnouncements, bson.M{
		"_id":                 "legacy-1",
		"Announcement":        "text",
		"Broadcast Date/Time": "not a date",
	})

	stats, err := NewNormalizer(catalog, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, catalog.deleted, "an unreadable broadcast leaves the document untouched")
}

func TestNormalizerRekeysSnapshots(t *testing.T) {
	captured := time.Date(2025, 3, 20, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		scrapedAt interface{}
	}{
		{name: "native time", scrapedAt: captured},
		{name: "driver datetime", scrapedAt: primitive.NewDateTimeFromTime(captured)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newFakeCatalog()
			catalog.add("Alpha_Ltd", records.CategoryTradeInfo, bson.M{
				"_id":        primitive.NewObjectID(),
				"Face Value": "10",
				"Scraped_At": tt.scrapedAt,
			})

			stats, err := NewNormalizer(catalog, testLogger()).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, stats.Rekeyed)
			doc, ok := catalog.upserted["2025-03-20"]
			require.True(t, ok)
			assert.Equal(t, "10", doc["Face Value"])
		})
	}
}

func TestNormalizerSkipsSnapshotsWithoutTimestamp(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("Alpha_Ltd", records.CategoryPriceInfo, bson.M{
		"_id":        "whatever",
		"Scraped_At": "2025-03-20",
	})

	stats, err := NewNormalizer(catalog, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped, "a string timestamp is not trusted for re-keying")
	assert.Empty(t, catalog.upserted)
}

func TestNormalizerIgnoresHistoricalData(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("Alpha_Ltd", records.CategoryHistorical, bson.M{
		"_id":  "2025-03-20",
		"LTP":  "1250.00",
		"Date": "2025-03-20",
	})

	stats, err := NewNormalizer(catalog, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.Rekeyed)
	assert.Empty(t, catalog.upserted, "historical rows are keyed canonically at write time")
}
