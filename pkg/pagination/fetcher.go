package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/kobo-export/pkg/client"
	"github.com/Sternrassler/kobo-export/pkg/jsonvalue"
	"github.com/Sternrassler/kobo-export/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrMaxPages is reported when the page limit is reached while the API
	// still announces more pages.
	ErrMaxPages = errors.New("page limit reached")

	// ErrCursorLoop is reported when a next link points to a page that was
	// already fetched.
	ErrCursorLoop = errors.New("pagination cursor revisited")
)

var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kobo_export_pages_fetched_total",
		Help: "Total pages fetched, including cached pages",
	})

	recordsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kobo_export_records_fetched_total",
		Help: "Total raw records collected from pages",
	})

	paginationStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kobo_export_pagination_stops_total",
		Help: "Pagination runs by reason they ended",
	}, []string{"reason"}) // "complete", "error", "max_pages", "cursor_loop", "cancelled"
)

// Config holds fetcher configuration
type Config struct {
	// Delay between two page requests
	Delay time.Duration
	// MaxPages bounds the number of pages requested in one run
	MaxPages int
	// Timeout for the whole run; 0 means no limit
	Timeout time.Duration
}

// DefaultConfig returns the default fetcher configuration
func DefaultConfig() Config {
	return Config{
		Delay:    500 * time.Millisecond,
		MaxPages: 10000,
	}
}

// PageFetcher fetches a single page. It is implemented by *client.Client.
type PageFetcher interface {
	GetPage(ctx context.Context, pageURL string) (*client.Page, error)
}

// Result is the outcome of a pagination run.
type Result struct {
	// Records holds every raw record in page order, then in-page order.
	Records []jsonvalue.Value
	// Pages is the number of pages that were fetched successfully.
	Pages int
	// CachedPages is how many of Pages were served from the cache.
	CachedPages int
	// Err is the reason the run stopped early, nil when the last page was
	// reached. Records stay valid when Err is set.
	Err error
}

// Mixed reports whether the run combined cached and freshly fetched pages.
// Cached pages may be up to the cache TTL old, so with offset cursors a record
// that moved between pages can appear twice or not at all.
func (r Result) Mixed() bool {
	return r.CachedPages > 0 && r.CachedPages < r.Pages
}

// Partial reports whether the run ended early.
func (r Result) Partial() bool {
	return r.Err != nil
}

// Fetcher walks all pages of a listing sequentially.
type Fetcher struct {
	pages  PageFetcher
	config Config
	logger zerolog.Logger

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new fetcher
func NewFetcher(pages PageFetcher, config Config) *Fetcher {
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultConfig().MaxPages
	}
	if config.Delay < 0 {
		config.Delay = 0
	}
	if config.Timeout < 0 {
		config.Timeout = 0
	}

	return &Fetcher{
		pages:  pages,
		config: config,
		logger: logging.NewLogger("pagination"),
		sleep:  sleepContext,
	}
}

// FetchAll follows next links from startURL until the last page or the
// first failure and returns everything collected.
func (f *Fetcher) FetchAll(ctx context.Context, startURL string) Result {
	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := Result{Records: []jsonvalue.Value{}}
	visited := make(map[string]struct{})
	cursor := startURL

	for cursor != "" {
		visited[cursor] = struct{}{}

		f.logger.Debug().
			Str("url", cursor).
			Int("page", result.Pages+1).
			Msg("Fetching page")

		page, err := f.pages.GetPage(ctx, cursor)
		if err != nil {
			result.Err = fmt.Errorf("page %d: %w", result.Pages+1, err)
			f.stop(reasonFor(err), result, cursor)
			return result
		}

		result.Pages++
		if page.FromCache {
			result.CachedPages++
		}
		result.Records = append(result.Records, page.Results...)
		pagesFetched.Inc()
		recordsFetched.Add(float64(len(page.Results)))

		f.logger.Info().
			Int("page", result.Pages).
			Int("records", len(page.Results)).
			Int("total", len(result.Records)).
			Bool("cached", page.FromCache).
			Msgf("Retrieved %d assets. Total so far: %d", len(page.Results), len(result.Records))

		cursor = page.Next
		if cursor == "" {
			break
		}

		if _, seen := visited[cursor]; seen {
			result.Err = fmt.Errorf("%w: %s", ErrCursorLoop, cursor)
			f.stop("cursor_loop", result, cursor)
			return result
		}

		if result.Pages >= f.config.MaxPages {
			result.Err = fmt.Errorf("%w: %d pages", ErrMaxPages, f.config.MaxPages)
			f.stop("max_pages", result, cursor)
			return result
		}

		if page.FromCache || f.config.Delay == 0 {
			continue
		}
		if err := f.sleep(ctx, f.config.Delay); err != nil {
			result.Err = fmt.Errorf("waiting for page %d: %w", result.Pages+1, err)
			f.stop("cancelled", result, cursor)
			return result
		}
	}

	paginationStops.WithLabelValues("complete").Inc()
	f.warnIfMixed(result)
	f.logger.Info().
		Int("pages", result.Pages).
		Int("cached_pages", result.CachedPages).
		Int("total", len(result.Records)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return result
}

// warnIfMixed tells the operator that cached and fresh pages were combined.
func (f *Fetcher) warnIfMixed(result Result) {
	if !result.Mixed() {
		return
	}
	f.logger.Warn().
		Int("pages", result.Pages).
		Int("cached_pages", result.CachedPages).
		Msg("Run mixes cached and fresh pages - records may be duplicated or missing if the listing changed")
}

// stop records an early end of the run.
func (f *Fetcher) stop(reason string, result Result, cursor string) {
	paginationStops.WithLabelValues(reason).Inc()
	f.warnIfMixed(result)

	event := f.logger.Warn().
		Err(result.Err).
		Str("url", cursor).
		Int("pages", result.Pages).
		Int("cached_pages", result.CachedPages).
		Int("total", len(result.Records))

	var apiErr *client.APIError
	if errors.As(result.Err, &apiErr) {
		event = event.Str("error_class", string(apiErr.ErrorClass))
		if apiErr.StatusCode != 0 {
			event = event.Int("status_code", apiErr.StatusCode)
		}
	}

	event.Msg("Pagination stopped early - keeping partial results")
}

func reasonFor(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
