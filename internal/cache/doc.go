// Package cache provides the two-tier cache used to skip recomputation of
// expensive pipeline stages for a source URL.
//
// Tier 1 is an in-process LRU with per-entry expiry. Tier 2 is an optional
// Redis instance shared between daemons. Reads check tier 1 first and promote
// tier-2 hits; writes go through both tiers. Tier-2 failures are logged and
// treated as misses so a Redis outage degrades to local caching.
package cache
