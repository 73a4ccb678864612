// Package repository holds the Postgres data access layer.
//
// Every repository wraps a *sqlx.DB. Methods taking a sqlx.ExtContext can be
// called with either the pool or an open *sqlx.Tx, which lets services compose
// several writes into one transaction through database.WithTx.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// getOne scans a single row into a new T, returning nil, nil when no row matched
func getOne[T any](ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*T, error) {
	var v T
	if err := sqlx.GetContext(ctx, q, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// rowsAffected returns the affected row count of an exec result
func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
