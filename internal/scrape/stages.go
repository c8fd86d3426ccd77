package scrape

import (
	"context"
	"errors"
	"fmt"
)

// Selectors for the exchange's quote pages. The site renders stable ids
// for its tabs and tables, so these are css ids except where a panel has
// no id of its own and must be reached from a labelled header.
const (
	selListingTable = "#equityStockTable"

	selHistoricalTab    = "#loadHistoricalData"
	selHistoricalTable  = "#equityHistoricalTable"
	selRange6M          = "#sixM"
	selRange1Y          = "#oneY"
	selRangeFilter      = "#tradeDataFilter"
	selHistoricalExport = "#dwldcsv"

	selTradeInfoTab = "#infoTrade"

	selAnnouncementsLink   = "#ann_quoteRedirect"
	selAnnouncementsBox    = "#corpAnnouncementTable"
	selAnnouncementsRow    = "#corpAnnouncementTable tbody tr"
	selAnnouncementsRange  = "a[data-val='6M']"
	selAnnouncementsRange1 = "a[data-val='1Y']"
	selAnnouncementsExport = "#CFanncEquity .export-icon a"
	selReadMore            = ".readMore"
)

// Info panels on the trade-information tab carry no ids on their tables;
// each is anchored by the id of its header cell.
const (
	xpathTradePanel    = `//th[@id='Trade_Information_pg']/ancestor::table`
	xpathPricePanel    = `//th[@id='Price_Information_pg']/ancestor::table`
	xpathSecurityPanel = `//th[@id='Securities_Information_pg']/ancestor::table`
)

// Stage is one step of a company's acquisition sequence. NonFatal stages
// degrade the company's outcome without aborting the remaining stages.
type Stage struct {
	ID       string
	Name     string
	NonFatal bool
	Run      func(ctx context.Context) error
}

// StageError wraps a stage failure with the stage that produced it, so a
// single company's failure can be attributed without parsing messages.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError wraps cause, or returns nil when cause is nil.
func NewStageError(stage string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StageError{Stage: stage, Cause: cause}
}

// AsStageError extracts a StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
