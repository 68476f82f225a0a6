// Package authcore is the authentication and session-lifecycle core of the
// profile platform. It issues and rotates token pairs, tracks sessions across
// devices, verifies one-time codes delivered over email/SMS/WhatsApp, manages
// time-based two-factor enrollment, and reconciles identities arriving from
// third-party OAuth providers.
//
// # Components
//
//   - [Engine] — the facade every caller goes through. Built with [New] from a
//     [Config], a Redis client, a [CredentialStore], and a [Notifier].
//   - jwt — stateless access/refresh token minting and verification.
//   - session — Redis-backed session records with atomic refresh rotation and
//     reuse detection.
//   - otp — one-time code records with single-flight per (target, purpose)
//     and atomic attempt accounting.
//   - store — credential persistence: in-memory and Postgres implementations
//     of [CredentialStore].
//
// # Boundaries
//
// The engine never renders HTTP. Controllers translate its sentinel errors
// into status codes. Delivery of codes is delegated to the caller-supplied
// [Notifier]; the engine calls it at most once per request and never retries.
// Rate limiting beyond per-record attempt counters is middleware territory.
package authcore
