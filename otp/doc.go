// Package otp stores short-lived one-time codes in Redis. Records are keyed
// by (purpose, target), so requesting a new code supersedes any live one for
// the same pair; at most one code per pair is ever verifiable.
//
// Codes are stored as salted SHA-256 digests, never in the clear. Consume
// decrements the remaining-attempts counter before comparing, inside a
// WATCH transaction, so concurrent guesses cannot share an attempt. Any
// terminal outcome (match, exhaustion, expiry) deletes the record; a second
// verification of the same code reports not-found.
package otp
