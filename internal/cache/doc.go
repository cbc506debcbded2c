// Package cache implements the two file-based cache tiers used when turning
// bare links into preview cards. The server cache lives under the publish
// directory and holds downloaded images keyed by the SHA-256 of their URL.
// The build cache lives outside the publish directory, survives between runs
// and additionally stores fetched metadata as self-describing JSON entries.
//
// Each cache directory carries a cache.json index recording when every binary
// entry was created. Writers serialize index updates with a cooperative lock
// marker (cache.json.lock). The lock is best-effort: when it cannot be taken
// within the retry budget the write proceeds anyway, so a stale marker left by
// a crashed process only slows writers down. Index and entry writes go through
// a temp file + rename so readers never observe partial content, and a corrupt
// index reads as empty.
package cache
