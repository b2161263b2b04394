// Package database holds deadlines shared by the SQL-backed stores.
package database

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds reads and pings.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds inserts and updates.
	DefaultWriteTimeout = 10 * time.Second
)

// QueryContext derives a context that expires after DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext derives a context that expires after DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}
