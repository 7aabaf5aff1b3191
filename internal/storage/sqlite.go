package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"adwatch/internal/model"
	"adwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Must match the filters schema left by migrations/00003; DeleteAllFilters
// recreates the table from it. Ids are never reused.
const createFiltersTable = `CREATE TABLE IF NOT EXISTS filters (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    category       TEXT    NOT NULL,
    keyword        TEXT    NOT NULL,
    price_min      INTEGER,
    price_max      INTEGER,
    province       TEXT,
    municipality   TEXT,
    require_photos INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT    NOT NULL
)`

const createSeenAdsTable = `CREATE TABLE IF NOT EXISTS seen_ads (
    url           TEXT PRIMARY KEY,
    first_seen_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
)`

const filterColumns = `id, category, keyword, price_min, price_max, province, municipality, require_photos, created_at`

// fieldUpdate binds an updatable filter field to its fixed statement and
// value parser.
type fieldUpdate struct {
	stmt  string
	parse func(string) (any, error)
}

var filterUpdates = map[string]fieldUpdate{
	"category":       {`UPDATE filters SET category = ? WHERE id = ?`, parseRequiredText},
	"keyword":        {`UPDATE filters SET keyword = ? WHERE id = ?`, parseRequiredText},
	"price_min":      {`UPDATE filters SET price_min = ? WHERE id = ?`, parsePrice},
	"price_max":      {`UPDATE filters SET price_max = ? WHERE id = ?`, parsePrice},
	"province":       {`UPDATE filters SET province = ? WHERE id = ?`, parseOptionalText},
	"municipality":   {`UPDATE filters SET municipality = ? WHERE id = ?`, parseOptionalText},
	"require_photos": {`UPDATE filters SET require_photos = ? WHERE id = ?`, parseFlag},
}

// UpdatableFields lists the filter fields accepted by UpdateFilter.
func UpdatableFields() []string {
	return []string{"category", "keyword", "price_min", "price_max", "province", "municipality", "require_photos"}
}

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers from concurrent sessions and
	// keeps ":memory:" databases on one handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateFilter inserts a new filter and populates its ID and CreatedAt.
func (s *SQLite) CreateFilter(ctx context.Context, f *model.Filter) error {
	if strings.TrimSpace(f.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidParameter)
	}
	if strings.TrimSpace(f.Keyword) == "" {
		return fmt.Errorf("%w: keyword is required", ErrInvalidParameter)
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filters (category, keyword, price_min, price_max, province, municipality, require_photos, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Category, f.Keyword, nullInt(f.PriceMin), nullInt(f.PriceMax),
		nullString(f.Province), nullString(f.Municipality), boolToInt(f.RequirePhotos), now,
	)
	if err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	f.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFilter returns a single filter by its ID.
func (s *SQLite) GetFilter(ctx context.Context, id int64) (*model.Filter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+filterColumns+` FROM filters WHERE id = ?`, id)
	f, err := scanFilter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("filter %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFilters returns all filters in insertion order.
func (s *SQLite) ListFilters(ctx context.Context) ([]model.Filter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+filterColumns+` FROM filters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []model.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// UpdateFilter sets a single field of a filter. Only the fields returned by
// UpdatableFields are accepted; anything else yields ErrInvalidParameter.
func (s *SQLite) UpdateFilter(ctx context.Context, id int64, field, value string) error {
	upd, ok := filterUpdates[field]
	if !ok {
		return fmt.Errorf("%w: unknown filter field %q", ErrInvalidParameter, field)
	}
	v, err := upd.parse(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidParameter, field, err)
	}

	res, err := s.db.ExecContext(ctx, upd.stmt, v, id)
	if err != nil {
		return fmt.Errorf("update filter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("filter %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteFilter removes a filter by its ID. Deleting a missing filter is not
// an error.
func (s *SQLite) DeleteFilter(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return nil
}

// DeleteAllFilters drops and recreates the filters table in one transaction,
// so the table is never left absent.
func (s *SQLite) DeleteAllFilters(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Dropping the table forgets its id sequence; carry it over.
	var lastID int64
	err = tx.QueryRowContext(ctx, `SELECT MAX(
		COALESCE((SELECT MAX(id) FROM filters), 0),
		COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'filters'), 0))`).Scan(&lastID)
	if err != nil {
		return fmt.Errorf("read filter sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS filters`); err != nil {
		return fmt.Errorf("drop filters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createFiltersTable); err != nil {
		return fmt.Errorf("create filters: %w", err)
	}
	if lastID > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'filters'`); err != nil {
			return fmt.Errorf("reset filter sequence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO sqlite_sequence (name, seq) VALUES ('filters', ?)`, lastID); err != nil {
			return fmt.Errorf("restore filter sequence: %w", err)
		}
	}
	return tx.Commit()
}

// MarkSeen records that an ad URL has been notified. Repeated calls are no-ops.
func (s *SQLite) MarkSeen(ctx context.Context, url string) error {
	const q = `INSERT OR IGNORE INTO seen_ads (url) VALUES (?)`
	_, err := s.db.ExecContext(ctx, q, url)
	if isMissingTable(err) {
		if err := s.ensureSeenTable(ctx); err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, q, url)
	}
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsSeen checks whether an ad URL has already been notified.
func (s *SQLite) IsSeen(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_ads WHERE url = ?`, url).Scan(&n)
	if isMissingTable(err) {
		return false, s.ensureSeenTable(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return n > 0, nil
}

// GetSeenAd returns the dedup record for url.
func (s *SQLite) GetSeenAd(ctx context.Context, url string) (*model.SeenAd, error) {
	var sa model.SeenAd
	var first string
	err := s.db.QueryRowContext(ctx,
		`SELECT url, first_seen_at FROM seen_ads WHERE url = ?`, url,
	).Scan(&sa.URL, &first)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("seen ad %q: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan seen ad: %w", err)
	}
	sa.FirstSeenAt, _ = time.Parse(timeLayout, first)
	return &sa, nil
}

func (s *SQLite) ensureSeenTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSeenAdsTable); err != nil {
		return fmt.Errorf("create seen_ads: %w", err)
	}
	return nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func parseRequiredText(v string) (any, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, errors.New("value cannot be empty")
	}
	return v, nil
}

func parseOptionalText(v string) (any, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	return v, nil
}

func parsePrice(v string) (any, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "-" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("price must be a non-negative integer, got %q", v)
	}
	return n, nil
}

func parseFlag(v string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return 1, nil
	case "0", "false", "no", "off":
		return 0, nil
	}
	return nil, fmt.Errorf("expected yes or no, got %q", v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFilter(row scannable) (model.Filter, error) {
	var f model.Filter
	var priceMin, priceMax sql.NullInt64
	var province, municipality sql.NullString
	var photos int
	var created string
	err := row.Scan(&f.ID, &f.Category, &f.Keyword, &priceMin, &priceMax,
		&province, &municipality, &photos, &created)
	if err != nil {
		return f, fmt.Errorf("scan filter: %w", err)
	}
	if priceMin.Valid {
		v := int(priceMin.Int64)
		f.PriceMin = &v
	}
	if priceMax.Valid {
		v := int(priceMax.Int64)
		f.PriceMax = &v
	}
	if province.Valid {
		f.Province = &province.String
	}
	if municipality.Valid {
		f.Municipality = &municipality.String
	}
	f.RequirePhotos = photos == 1
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return f, nil
}
