// Package database provides repository interfaces and base implementations
package database

import (
	"context"
	"database/sql"
)

// Repository is the base interface for all repositories
type Repository interface {
	// DB returns the underlying database connection
	DB() *DB
	// Tx returns the current transaction if any
	Tx() *sql.Tx
	// WithTx returns a new repository instance with the given transaction
	WithTx(tx *sql.Tx) Repository
}

// BaseRepository provides common repository functionality
type BaseRepository struct {
	db *DB
	tx *sql.Tx
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *DB) *BaseRepository {
	return &BaseRepository{db: db}
}

// DB returns the underlying database connection
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Tx returns the current transaction
func (r *BaseRepository) Tx() *sql.Tx {
	return r.tx
}

// WithTx returns a repository scoped to tx so subsequent Querier() calls
// run inside the caller's transaction instead of against the bare *DB.
func (r *BaseRepository) WithTx(tx *sql.Tx) Repository {
	return &BaseRepository{db: r.db, tx: tx}
}

// Querier returns the appropriate querier (tx or db)
func (r *BaseRepository) Querier() Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.DB
}

// Querier interface for both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Pagination holds pagination parameters
type Pagination struct {
	Page     int
	PerPage  int
	OrderBy  string
	OrderDir string // "ASC" or "DESC"
}

// DefaultPagination returns default pagination settings
func DefaultPagination() Pagination {
	return Pagination{
		Page:     1,
		PerPage:  20,
		OrderBy:  "created_at",
		OrderDir: "DESC",
	}
}

// Offset calculates the offset for SQL queries
func (p Pagination) Offset() int {
	if p.Page < 1 {
		p.Page = 1
	}
	return (p.Page - 1) * p.PerPage
}

// Limit returns the limit for SQL queries
func (p Pagination) Limit() int {
	if p.PerPage < 1 {
		return 20
	}
	if p.PerPage > 100 {
		return 100
	}
	return p.PerPage
}

// PaginatedResult holds paginated query results
type PaginatedResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginatedResult creates a new paginated result
func NewPaginatedResult[T any](items []T, total int64, pagination Pagination) PaginatedResult[T] {
	totalPages := int(total) / pagination.Limit()
	if int(total)%pagination.Limit() > 0 {
		totalPages++
	}

	return PaginatedResult[T]{
		Items:      items,
		Total:      total,
		Page:       pagination.Page,
		PerPage:    pagination.Limit(),
		TotalPages: totalPages,
	}
}

