// Package session is the Redis-backed session store. One session is one
// refresh-token lineage on one device: the record holds the hash of the
// current refresh token and a rotation counter, never the token itself.
//
// Rotation is a single Lua script so that the read-compare-replace of the
// stored hash is atomic in the Redis command stream. Two racing refreshes
// presenting the same current token therefore have exactly one winner; the
// loser observes a hash mismatch. A mismatch on a live session marks the
// whole session revoked with reason "reuse_detected" before reporting it,
// because a legitimate client always holds the latest rotated token.
//
// Expiry is evaluated lazily at rotate/list time; no background sweep is
// required for correctness. Revoked records are kept as tombstones for a
// configurable grace so replayed tokens from a compromised lineage keep
// failing loudly instead of decaying into not-found.
package session
