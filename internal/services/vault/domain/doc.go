// Package domain holds the leaf entities of the vault cache subsystem: the
// per-guild slot store, the pending write buffer, and viewer sessions.
package domain
