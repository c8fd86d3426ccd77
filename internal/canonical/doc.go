// Package canonical turns raw scraped strings into the canonical values the
// rest of the pipeline stores and joins on. All functions are pure and
// idempotent: feeding an already-canonical value back in returns it
// unchanged, so repeated scrape runs converge on the same documents.
package canonical
