// Package audit records one traffic_log row per handled gateway request.
// Writes are best effort: rows queue into a bounded channel drained by a
// single worker that batches inserts, and a full queue or failed insert is
// logged, never surfaced to the client request.
package audit
