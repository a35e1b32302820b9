package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"reflect"

	"github.com/irsalhamdi/storefront/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var ErrDBNotFound = errors.New("not found")

func Open(cfg config.DB) (*sqlx.DB, error) {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}

	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: q.Encode(),
	}

	db, err := sqlx.Open("postgres", u.String())
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	return db, nil
}

func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	var ok bool
	return db.QueryRowContext(ctx, `SELECT true`).Scan(&ok)
}

// Transaction runs fn inside a single database transaction bound to ctx. The
// transaction is rolled back when fn returns an error, panics or ctx is
// cancelled, and committed otherwise.
func Transaction(ctx context.Context, db *sqlx.DB, fn func(sqlx.ExtContext) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			return fmt.Errorf("rollback after %v: %w", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func NamedExecContext(ctx context.Context, db sqlx.ExtContext, query string, data any) error {
	_, err := NamedExecAffected(ctx, db, query, data)
	return err
}

// NamedExecAffected executes query and reports how many rows it touched.
// Conditional updates use it to detect a lost compare-and-set.
func NamedExecAffected(ctx context.Context, db sqlx.ExtContext, query string, data any) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, db, query, data)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func NamedQuerySlice[T any](ctx context.Context, db sqlx.ExtContext, query string, data any, dest *[]T) error {
	val := reflect.ValueOf(dest)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Slice {
		return errors.New("must provide a pointer to a slice")
	}

	rows, err := sqlx.NamedQueryContext(ctx, db, query, data)
	if err != nil {
		return err
	}
	defer rows.Close()

	var slice []T
	for rows.Next() {
		v := new(T)
		if err := rows.StructScan(v); err != nil {
			return err
		}
		slice = append(slice, *v)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	*dest = slice

	return nil
}

func NamedQueryStruct(ctx context.Context, db sqlx.ExtContext, query string, data any, dest any) error {
	rows, err := sqlx.NamedQueryContext(ctx, db, query, data)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return ErrDBNotFound
	}

	return rows.StructScan(dest)
}
