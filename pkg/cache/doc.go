// Package cache provides a generic, thread-safe LRU cache with an optional
// time-to-live per entry.
//
// The enricher uses it to memoize GeoIP lookups per client address:
//
//	c, err := cache.New[GeoResult](10000, time.Hour,
//		cache.WithMetrics[GeoResult](metrics, "geo"))
//	if err != nil {
//		return err
//	}
//
//	if res, ok := c.Get(ip); ok {
//		return res
//	}
//	res := lookup(ip)
//	_, _ = c.Set(ip, res)
//
// Counters are always kept and available through Stats. WithMetrics also
// exports them as cmcd_cache_requests_total{cache,result}.
package cache
