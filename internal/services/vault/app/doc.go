// Package app orchestrates guild vault caching: lazy loading from
// persistence, the single shared live view per guild, diff-based
// reconciliation, batched flushing, and idle reclamation.
package app
