// Package cache provides a local, content-addressed disk cache with lazy expiry
// for the output of expensive, idempotent remote commands.
//
// Keys are arbitrary strings (typically the remote credentials plus the command
// arguments). Each key is reduced to a 40 character SHA-1 fingerprint and stored
// at <root>/<appID>/<fp[0:2]>/<fp>, so a namespace never holds more than roughly
// 1/256th of its entries in one directory. The file modification time is the
// freshness marker:
//   - entries older than the configured lifetime are removed when they are read
//   - there is no background sweeper; InvalidateAll and Prune reclaim space on demand
//   - writes go through a temporary file and an atomic rename, so readers never see
//     a partially written entry
//
// The cache keeps no in-process locks. Concurrent writers for the same key are
// assumed to produce identical content.
package cache
