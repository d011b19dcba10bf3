// Package history persists every change event from the events bus into the
// SQLite event_history table and answers queries over it.
package history
