// Package tx threads an ambient *sql.Tx through context. Stores that accept
// it can join a caller-opened transaction, so a verification state change and
// its audit row land in one commit.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

// WithTx returns a context carrying the transaction. A nil tx is ignored.
func WithTx(ctx context.Context, t *sql.Tx) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, t)
}

// From reports the ambient transaction, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	t, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return t, ok
}
