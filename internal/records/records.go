// Package records defines the typed documents the pipeline persists, one
// type per store category, and the conversions from raw scraped cells into
// canonical form. Field names in bson tags match the live collections so a
// re-run upserts over documents written by earlier runs.
package records

import (
	"fmt"
	"time"

	"finassist/internal/canonical"
)

// Category names one persisted collection within a company namespace.
type Category string

const (
	CategoryHistorical    Category = "historical_data"
	CategoryTradeInfo     Category = "trade_information"
	CategoryPriceInfo     Category = "price_information"
	CategorySecurityInfo  Category = "securities_information"
	CategoryAnnouncements Category = "announcements"
)

// Record is any document with a deterministic store key. The Persistence
// Gateway upserts on this id, so storing the same record twice replaces the
// first copy instead of duplicating it.
type Record interface {
	CanonicalID() string
}

// Historical is one trading-day snapshot from the historical price table.
type Historical struct {
	ID         string `bson:"_id"`
	Date       string `bson:"Date"`
	Series     string `bson:"Series"`
	Open       string `bson:"OPEN"`
	High       string `bson:"HIGH"`
	Low        string `bson:"LOW"`
	PrevClose  string `bson:"PREV_CLOSE"`
	LTP        string `bson:"LTP"`
	Close      string `bson:"CLOSE"`
	VWAP       string `bson:"VWAP"`
	Week52High string `bson:"52W_H"`
	Week52Low  string `bson:"52W_L"`
	Volume     string `bson:"VOLUME"`
	Value      string `bson:"VALUE"`
	Trades     string `bson:"No_of_Trades"`
}

// historicalColumns is the minimum cell count of a usable historical row.
const historicalColumns = 14

// NewHistorical builds a Historical from the ordered cells of one table
// row. The trading date doubles as the document id; numeric cells are
// cleaned so downstream consumers can parse them as plain decimals.
func NewHistorical(cells []string) (Historical, error) {
	if len(cells) < historicalColumns {
		return Historical{}, fmt.Errorf("historical row has %d cells, need %d", len(cells), historicalColumns)
	}

	// An unparsable date degrades to the raw string as id rather than
	// losing the row.
	id, _ := canonical.Date(cells[0])

	return Historical{
		ID:         id,
		Date:       id,
		Series:     cells[1],
		Open:       canonical.Number(cells[2]),
		High:       canonical.Number(cells[3]),
		Low:        canonical.Number(cells[4]),
		PrevClose:  canonical.Number(cells[5]),
		LTP:        canonical.Number(cells[6]),
		Close:      canonical.Number(cells[7]),
		VWAP:       canonical.Number(cells[8]),
		Week52High: canonical.Number(cells[9]),
		Week52Low:  canonical.Number(cells[10]),
		Volume:     canonical.Number(cells[11]),
		Value:      canonical.Number(cells[12]),
		Trades:     canonical.Number(cells[13]),
	}, nil
}

// CanonicalID implements Record.
func (h Historical) CanonicalID() string { return h.ID }

// Announcement is one corporate disclosure. The id is the broadcast date
// truncated to day granularity: several disclosures broadcast on the same
// calendar day collide on id and the last one written wins. That mirrors
// the upstream key choice and is documented behavior, not an accident.
type Announcement struct {
	ID        string `bson:"_id"`
	Subject   string `bson:"Subject"`
	Text      string `bson:"Announcement"`
	Broadcast string `bson:"Broadcast Date/Time"`
}

// NewAnnouncement builds an Announcement from the raw subject, disclosure
// text and broadcast timestamp cells.
func NewAnnouncement(subject, text, broadcast string) Announcement {
	id, _ := canonical.Date(broadcast)
	return Announcement{
		ID:        id,
		Subject:   subject,
		Text:      canonical.Announcement(text),
		Broadcast: broadcast,
	}
}

// CanonicalID implements Record.
func (a Announcement) CanonicalID() string { return a.ID }

// TradeInfo is the point-in-time trade panel snapshot, one per company per
// capture day, last write wins.
type TradeInfo struct {
	ID                 string    `bson:"_id"`
	TradedVolume       string    `bson:"Traded Volume (Lakhs)"`
	TradedValue        string    `bson:"Traded Value (₹ Cr.)"`
	MarketCap          string    `bson:"Total Market Cap (₹ Cr.)"`
	FreeFloatMarketCap string    `bson:"Free Float Market Cap (₹ Cr.)"`
	ImpactCost         string    `bson:"Impact Cost"`
	DeliverablePct     string    `bson:"% of Deliverable / Traded Quantity"`
	MarginRate         string    `bson:"Applicable Margin Rate"`
	FaceValue          string    `bson:"Face Value"`
	ScrapedAt          time.Time `bson:"Scraped_At"`
}

// NewTradeInfo builds a TradeInfo from the panel's label/value pairs.
func NewTradeInfo(values map[string]string, scrapedAt time.Time) TradeInfo {
	return TradeInfo{
		ID:                 canonical.DayKey(scrapedAt),
		TradedVolume:       canonical.Number(values["Traded Volume (Lakhs)"]),
		TradedValue:        canonical.Number(values["Traded Value (₹ Cr.)"]),
		MarketCap:          canonical.Number(values["Total Market Cap (₹ Cr.)"]),
		FreeFloatMarketCap: canonical.Number(values["Free Float Market Cap (₹ Cr.)"]),
		ImpactCost:         canonical.Number(values["Impact Cost"]),
		DeliverablePct:     canonical.Number(values["% of Deliverable / Traded Quantity"]),
		MarginRate:         canonical.Number(values["Applicable Margin Rate"]),
		FaceValue:          canonical.Number(values["Face Value"]),
		ScrapedAt:          scrapedAt,
	}
}

// CanonicalID implements Record.
func (t TradeInfo) CanonicalID() string { return t.ID }

// PriceInfo is the point-in-time price panel snapshot.
type PriceInfo struct {
	ID                   string    `bson:"_id"`
	Week52High           string    `bson:"52 Week High"`
	Week52HighDate       string    `bson:"52 Week High Date"`
	Week52Low            string    `bson:"52 Week Low"`
	Week52LowDate        string    `bson:"52 Week Low Date"`
	UpperBand            string    `bson:"Upper Band"`
	LowerBand            string    `bson:"Lower Band"`
	PriceBand            string    `bson:"Price Band (%)"`
	DailyVolatility      string    `bson:"Daily Volatility"`
	AnnualisedVolatility string    `bson:"Annualised Volatility"`
	TickSize             string    `bson:"Tick Size"`
	ScrapedAt            time.Time `bson:"Scraped_At"`
}

// NewPriceInfo builds a PriceInfo from the panel's label/value pairs.
func NewPriceInfo(values map[string]string, scrapedAt time.Time) PriceInfo {
	highDate, _ := canonical.Date(values["52 Week High Date"])
	lowDate, _ := canonical.Date(values["52 Week Low Date"])
	return PriceInfo{
		ID:                   canonical.DayKey(scrapedAt),
		Week52High:           canonical.Number(values["52 Week High"]),
		Week52HighDate:       highDate,
		Week52Low:            canonical.Number(values["52 Week Low"]),
		Week52LowDate:        lowDate,
		UpperBand:            canonical.Number(values["Upper Band"]),
		LowerBand:            canonical.Number(values["Lower Band"]),
		PriceBand:            canonical.Number(values["Price Band (%)"]),
		DailyVolatility:      canonical.Number(values["Daily Volatility"]),
		AnnualisedVolatility: canonical.Number(values["Annualised Volatility"]),
		TickSize:             canonical.Number(values["Tick Size"]),
		ScrapedAt:            scrapedAt,
	}
}

// CanonicalID implements Record.
func (p PriceInfo) CanonicalID() string { return p.ID }

// SecurityInfo is the point-in-time listing metadata snapshot.
type SecurityInfo struct {
	ID            string    `bson:"_id"`
	Status        string    `bson:"Status"`
	TradingStatus string    `bson:"Trading Status"`
	ListingDate   string    `bson:"Date of Listing"`
	AdjustedPE    string    `bson:"Adjusted P/E"`
	SymbolPE      string    `bson:"Symbol P/E"`
	Index         string    `bson:"Index"`
	BasicIndustry string    `bson:"Basic Industry"`
	ScrapedAt     time.Time `bson:"Scraped_At"`
}

// NewSecurityInfo builds a SecurityInfo from the panel's label/value pairs.
func NewSecurityInfo(values map[string]string, scrapedAt time.Time) SecurityInfo {
	listed, _ := canonical.Date(values["Date of Listing"])
	return SecurityInfo{
		ID:            canonical.DayKey(scrapedAt),
		Status:        values["Status"],
		TradingStatus: values["Trading Status"],
		ListingDate:   listed,
		AdjustedPE:    canonical.Number(values["Adjusted P/E"]),
		SymbolPE:      canonical.Number(values["Symbol P/E"]),
		Index:         values["Index"],
		BasicIndustry: values["Basic Industry"],
		ScrapedAt:     scrapedAt,
	}
}

// CanonicalID implements Record.
func (s SecurityInfo) CanonicalID() string { return s.ID }
