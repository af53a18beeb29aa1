// Package pagination walks a cursor-paginated listing page by page.
//
// Each page names the URL of the following page in its "next" field; the
// last page has none. The fetcher requests pages strictly one after another
// and waits a fixed delay between requests.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(apiClient, pagination.DefaultConfig())
//	result := fetcher.FetchAll(ctx, cfg.AssetsURL())
//	if result.Err != nil {
//		log.Warn().Err(result.Err).Msg("Export continues with partial data")
//	}
//
// A failing page ends the walk. Records gathered up to that point are
// returned together with the error, so callers can still export them.
// The walk is also bounded by a page limit and stops when the API hands
// back a cursor it already visited.
package pagination
