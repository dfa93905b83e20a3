// Package dedupe provides an expiring, size-bounded key set.
//
// The gateway uses it to drop webhook redeliveries (keyed by provider
// message id) and to hold revoked token ids until the tokens expire.
package dedupe
