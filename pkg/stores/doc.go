// Package stores provides the SQLite render history for topd. It records
// successful renders with their digests and sources, and keeps an
// append-only log of published events. Schema changes are embedded
// golang-migrate migrations.
package stores
