// Package sync implements the batch synchronization engine: chunked
// scheduling of bulk selections, per-tick execution against remote batch
// endpoints, and reconciliation of multi-status responses into identity
// links and an error taxonomy.
package sync
