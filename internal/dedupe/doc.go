// Package dedupe provides a TTL ledger of already-honored correlation ids.
// The supervisor redelivers requests after worker restarts, so more than one
// response can eventually appear for one id; only the first is ever honored.
package dedupe
