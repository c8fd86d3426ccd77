// Package scrape drives the remote market-data source through a headless
// browser. It contains the two components that know anything about the
// remote DOM: the extraction adapter, which reads named tables and panels
// into raw records, and the per-company navigation state machine, which
// walks the sequence of views (historical table, info panels,
// announcements) and hands extracted data to the persistence gateway.
//
// The remote source is treated as unreliable by construction: every wait is
// bounded, every stage failure is contained to the company being processed,
// and absent tables read as empty rather than fatal.
package scrape
