// Package cache provides an optional Redis-backed cache for API page responses.
//
// A cached page is served without touching the network, which makes repeated
// exports of the same project view within CACHE_TTL cheap for the remote
// service. Entries are keyed by host, path, query and a fingerprint of the API
// token, so two tokens with different permissions never share a page.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 10*time.Minute)
//
//	key, err := cache.KeyForURL(pageURL, token)
//	if err != nil {
//		return err
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch the page, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(body, http.StatusOK, manager.TTL()))
//	}
//
// # Metrics
//
//   - kobo_export_cache_hits_total
//   - kobo_export_cache_misses_total
//   - kobo_export_cache_errors_total{operation}
package cache
