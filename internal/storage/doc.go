// Package storage persists the gateway's durable state: API keys, managed
// upstream servers, the traffic log, and the marketplace catalog with its
// installations.
//
// The backing database is chosen at Open time from the DATABASE_URL scheme: a
// postgres:// or postgresql:// URL selects PostgreSQL via lib/pq, anything
// else is treated as a SQLite file path served by modernc.org/sqlite. Both
// drivers are exercised through database/sql with a shared portable schema,
// so every query uses $N placeholders, TEXT ids generated in Go, and UTC
// TIMESTAMP columns.
//
// The schema is created on startup with CREATE TABLE IF NOT EXISTS; there is
// no migration framework. Secrets never reach this package in raw form: the
// api_key table stores only the salted hash and a display prefix.
package storage
