// Package password hashes and verifies passwords with argon2id, encoding
// parameters in the PHC string format so hashes remain verifiable across
// parameter upgrades.
package password
