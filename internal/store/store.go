// Package store persists ConfigSnapshot revisions to the relational
// database (spec.md §4.13), validates an incoming snapshot before it is
// written, and tracks which revision is currently active. Grounded on the
// teacher's pkg/database connection wrapper and its migrations-driven table
// idiom, generalized from account-provisioning tables to a single
// config_revisions table holding one JSON blob per revision.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/iSundram/gruxi/pkg/database"
	apperrors "github.com/iSundram/gruxi/pkg/errors"
	"github.com/iSundram/gruxi/pkg/models"
	"github.com/iSundram/gruxi/pkg/utils"
)

// knownRewriteFunctions is the closed set of rewrite_functions names the
// resolver understands; anything else is rejected at save time rather than
// silently ignored at request time.
var knownRewriteFunctions = map[string]struct{}{
	"OnlyWebRootIndexForSubdirs": {},
}

// Store persists and loads ConfigSnapshot revisions. It embeds
// database.BaseRepository so every query runs through Querier(), which
// resolves to the bare *DB outside a transaction and to the active *sql.Tx
// once WithTx has scoped it to one.
type Store struct {
	*database.BaseRepository
	db *database.DB
}

// New wraps an already-connected database handle.
func New(db *database.DB) *Store {
	return &Store{BaseRepository: database.NewBaseRepository(db), db: db}
}

// WithTx returns a Store whose queries run inside tx instead of against db
// directly, for use within a database.DB.Transaction callback.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{BaseRepository: database.NewBaseRepository(s.db).WithTx(tx).(*database.BaseRepository), db: s.db}
}

// placeholder returns the driver-appropriate bind parameter for position n
// (1-based): "$1" for postgres, "?" for mysql.
func (s *Store) placeholder(n int) string {
	if s.db.Driver() == "mysql" {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Migrator builds the config_revisions migration set against this store's
// database. Exported so cmd/gruxi-schema can drive Up/Down/Status directly
// without duplicating the migration definitions.
func (s *Store) Migrator(ctx context.Context) *database.Migrator {
	m := database.NewMigrator(s.db)
	m.RegisterAll([]database.Migration{
		{
			Version: 1,
			Name:    "create_config_revisions",
			Up: func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, configRevisionsDDL(s.db.Driver()))
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS config_revisions`)
				return err
			},
		},
		{
			Version: 2,
			Name:    "index_config_revisions_is_active",
			Up: func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, createIsActiveIndexDDL(s.db.Driver()))
				return err
			},
			Down: func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, dropIsActiveIndexDDL(s.db.Driver()))
				return err
			},
		},
	})
	return m
}

// EnsureSchema runs every pending config_revisions migration and logs the
// resulting schema status. The table layout is dialect-aware (serial vs
// auto_increment, timestamptz vs datetime) since the store is reachable
// with either driver wired.
func (s *Store) EnsureSchema(ctx context.Context) error {
	m := s.Migrator(ctx)
	if err := m.Up(ctx); err != nil {
		return apperrors.DatabaseError(err)
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	for _, st := range statuses {
		log.Printf("schema migration %d (%s): applied=%v", st.Version, st.Name, st.Applied)
	}
	return nil
}

func configRevisionsDDL(driver string) string {
	if driver == "mysql" {
		return `
			CREATE TABLE IF NOT EXISTS config_revisions (
				id          BIGINT AUTO_INCREMENT PRIMARY KEY,
				snapshot    LONGTEXT NOT NULL,
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				is_active   BOOLEAN NOT NULL DEFAULT false
			)
		`
	}
	return `
		CREATE TABLE IF NOT EXISTS config_revisions (
			id          BIGSERIAL PRIMARY KEY,
			snapshot    TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_active   BOOLEAN NOT NULL DEFAULT false
		)
	`
}

// createIsActiveIndexDDL and dropIsActiveIndexDDL speed up LoadActive's
// WHERE is_active = true lookup. MySQL lacks IF NOT EXISTS/IF EXISTS on
// index DDL and names indexes per-table rather than per-database, so the
// two dialects need separate statements.
func createIsActiveIndexDDL(driver string) string {
	if driver == "mysql" {
		return `CREATE INDEX idx_config_revisions_is_active ON config_revisions (is_active)`
	}
	return `CREATE INDEX IF NOT EXISTS idx_config_revisions_is_active ON config_revisions (is_active)`
}

func dropIsActiveIndexDDL(driver string) string {
	if driver == "mysql" {
		return `DROP INDEX idx_config_revisions_is_active ON config_revisions`
	}
	return `DROP INDEX IF EXISTS idx_config_revisions_is_active`
}

// LoadActive returns the currently active snapshot, or nil if none has ever
// been saved.
func (s *Store) LoadActive(ctx context.Context) (*models.ConfigSnapshot, error) {
	row := s.Querier().QueryRowContext(ctx, `
		SELECT snapshot FROM config_revisions WHERE is_active = true
		ORDER BY id DESC LIMIT 1
	`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.DatabaseError(err)
	}
	var snap models.ConfigSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, apperrors.InternalError("stored configuration snapshot is corrupt").WithCause(err)
	}
	return &snap, nil
}

// ListRevisions returns a page of stored revisions, most recent first,
// without the (potentially large) snapshot JSON body.
func (s *Store) ListRevisions(ctx context.Context, p database.Pagination) (database.PaginatedResult[models.ConfigRevision], error) {
	var total int64
	if err := s.Querier().QueryRowContext(ctx, `SELECT COUNT(*) FROM config_revisions`).Scan(&total); err != nil {
		return database.PaginatedResult[models.ConfigRevision]{}, err
	}

	query := fmt.Sprintf(
		`SELECT id, created_at, is_active FROM config_revisions ORDER BY id DESC LIMIT %s OFFSET %s`,
		s.placeholder(1), s.placeholder(2),
	)
	rows, err := s.Querier().QueryContext(ctx, query, p.Limit(), p.Offset())
	if err != nil {
		return database.PaginatedResult[models.ConfigRevision]{}, err
	}
	defer rows.Close()

	items := make([]models.ConfigRevision, 0, p.Limit())
	for rows.Next() {
		var rev models.ConfigRevision
		if err := rows.Scan(&rev.ID, &rev.CreatedAt, &rev.IsActive); err != nil {
			return database.PaginatedResult[models.ConfigRevision]{}, err
		}
		items = append(items, rev)
	}
	if err := rows.Err(); err != nil {
		return database.PaginatedResult[models.ConfigRevision]{}, err
	}

	return database.NewPaginatedResult(items, total, p), nil
}

// Validate checks a snapshot against spec.md's invariants that matter at
// save time: unknown rewrite_functions names, dangling processor/handler
// references, duplicate binding (ip, port) pairs, binding_sites edges that
// reference a nonexistent binding or site, bindings with more than one
// default site, non-IPv4 bind addresses, and processor web roots that are
// not absolute, traversal-free paths.
func Validate(snap *models.ConfigSnapshot) []models.ValidationFailure {
	var failures []models.ValidationFailure

	seenPorts := make(map[string]uint32)
	bindingByID := make(map[uint32]bool, len(snap.Bindings))
	for _, b := range snap.Bindings {
		bindingByID[b.ID] = true
		if !utils.IsValidIPv4(b.IP) {
			failures = append(failures, models.ValidationFailure{
				Field:   fmt.Sprintf("bindings[%d].ip", b.ID),
				Message: "not a valid IPv4 address: " + b.IP,
			})
		}
		key := fmt.Sprintf("%s:%d", b.IP, b.Port)
		if owner, ok := seenPorts[key]; ok && owner != b.ID {
			failures = append(failures, models.ValidationFailure{
				Field:   "bindings",
				Message: fmt.Sprintf("duplicate bind address %s used by bindings %d and %d", key, owner, b.ID),
			})
			continue
		}
		seenPorts[key] = b.ID
	}

	for _, p := range snap.StaticFileProcessors {
		if !utils.IsValidPath(p.WebRoot) {
			failures = append(failures, models.ValidationFailure{
				Field:   fmt.Sprintf("static_file_processors[%s].web_root", p.ID),
				Message: "web_root must be an absolute, traversal-free path: " + p.WebRoot,
			})
		}
	}
	for _, p := range snap.PhpProcessors {
		if p.LocalWebRoot != "" && !utils.IsValidPath(p.LocalWebRoot) {
			failures = append(failures, models.ValidationFailure{
				Field:   fmt.Sprintf("php_processors[%s].local_web_root", p.ID),
				Message: "local_web_root must be an absolute, traversal-free path: " + p.LocalWebRoot,
			})
		}
		if p.FastCGIWebRoot != "" && !utils.IsValidPath(p.FastCGIWebRoot) {
			failures = append(failures, models.ValidationFailure{
				Field:   fmt.Sprintf("php_processors[%s].fastcgi_web_root", p.ID),
				Message: "fastcgi_web_root must be an absolute, traversal-free path: " + p.FastCGIWebRoot,
			})
		}
	}

	siteByID := make(map[uint32]models.Site, len(snap.Sites))
	for _, site := range snap.Sites {
		siteByID[site.ID] = site
	}

	defaultSitesByBinding := make(map[uint32][]uint32)
	for _, bs := range snap.BindingSites {
		if !bindingByID[bs.BindingID] {
			failures = append(failures, models.ValidationFailure{
				Field:   "binding_sites",
				Message: fmt.Sprintf("references unknown binding %d", bs.BindingID),
			})
		}
		site, ok := siteByID[bs.SiteID]
		if !ok {
			failures = append(failures, models.ValidationFailure{
				Field:   "binding_sites",
				Message: fmt.Sprintf("references unknown site %d", bs.SiteID),
			})
			continue
		}
		if site.IsDefault {
			defaultSitesByBinding[bs.BindingID] = append(defaultSitesByBinding[bs.BindingID], bs.SiteID)
		}
	}
	for bindingID, siteIDs := range defaultSitesByBinding {
		if len(siteIDs) > 1 {
			failures = append(failures, models.ValidationFailure{
				Field:   "binding_sites",
				Message: fmt.Sprintf("binding %d has more than one default site: %v", bindingID, siteIDs),
			})
		}
	}

	handlerByID := make(map[string]models.RequestHandler, len(snap.RequestHandlers))
	for _, h := range snap.RequestHandlers {
		handlerByID[h.ID] = h
	}
	staticByID := make(map[string]bool, len(snap.StaticFileProcessors))
	for _, p := range snap.StaticFileProcessors {
		staticByID[p.ID] = true
	}
	phpByID := make(map[string]bool, len(snap.PhpProcessors))
	for _, p := range snap.PhpProcessors {
		phpByID[p.ID] = true
	}
	proxyByID := make(map[string]bool, len(snap.ProxyProcessors))
	for _, p := range snap.ProxyProcessors {
		proxyByID[p.ID] = true
	}

	for _, site := range snap.Sites {
		for _, rw := range site.RewriteFunctions {
			if _, ok := knownRewriteFunctions[rw.Name]; !ok {
				failures = append(failures, models.ValidationFailure{
					Field:   fmt.Sprintf("sites[%d].rewrite_functions", site.ID),
					Message: "unknown rewrite function: " + rw.Name,
				})
			}
		}
		for _, handlerID := range site.RequestHandlers {
			h, ok := handlerByID[handlerID]
			if !ok {
				failures = append(failures, models.ValidationFailure{
					Field:   fmt.Sprintf("sites[%d].request_handlers", site.ID),
					Message: "references unknown request handler " + handlerID,
				})
				continue
			}
			var exists bool
			switch h.ProcessorType {
			case models.ProcessorStatic:
				exists = staticByID[h.ProcessorID]
			case models.ProcessorPHP:
				exists = phpByID[h.ProcessorID]
			case models.ProcessorProxy:
				exists = proxyByID[h.ProcessorID]
			}
			if !exists {
				failures = append(failures, models.ValidationFailure{
					Field:   fmt.Sprintf("request_handlers[%s]", h.ID),
					Message: "references unknown processor " + h.ProcessorID,
				})
			}
		}
	}

	return failures
}

// Save validates snap, inserts it as a new revision, and activates it
// atomically within one transaction. Returns the validation failures
// without writing anything if snap does not pass.
func (s *Store) Save(ctx context.Context, snap *models.ConfigSnapshot) ([]models.ValidationFailure, error) {
	if failures := Validate(snap); len(failures) > 0 {
		return failures, nil
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		txStore := s.WithTx(tx)
		if _, err := txStore.Querier().ExecContext(ctx, `UPDATE config_revisions SET is_active = false WHERE is_active = true`); err != nil {
			return err
		}
		query := fmt.Sprintf(
			`INSERT INTO config_revisions (snapshot, created_at, is_active) VALUES (%s, %s, true)`,
			s.placeholder(1), s.placeholder(2),
		)
		_, err := txStore.Querier().ExecContext(ctx, query, string(raw), time.Now())
		return err
	})
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return nil, nil
}
