// Package postgres holds the Postgres adapters: bun-backed engine stores and
// pgx-backed readers over collaborator tables.
package postgres

import (
	"database/sql"
	"errors"

	"assessment-engine/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenDB opens a bun handle over pgdriver.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func scopeColumns(scope domain.Scope) (courseID, moduleID *string) {
	id := scope.ID
	if scope.Kind == domain.ScopeCourse {
		return &id, nil
	}
	return nil, &id
}

func scopeFromColumns(courseID, moduleID *string) domain.Scope {
	if courseID != nil {
		return domain.Scope{Kind: domain.ScopeCourse, ID: *courseID}
	}
	if moduleID != nil {
		return domain.Scope{Kind: domain.ScopeModule, ID: *moduleID}
	}
	return domain.Scope{}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
