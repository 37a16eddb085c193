// Package catalog records persisted images in a SQLite database so other
// components can list them.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// Config holds the SQLite connection parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the settings used by the binary.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// Entry is one catalogued image.
type Entry struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	DisplayName string    `json:"display_name"`
	Path        string    `json:"path"`
	DateTaken   time.Time `json:"date_taken"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Orientation int       `json:"orientation"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
}

// Store is the image catalog.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog at dbPath and applies the schema.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open failed: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		display_name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		date_taken INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		orientation INTEGER NOT NULL DEFAULT 0,
		latitude REAL,
		longitude REAL
	);

	CREATE INDEX IF NOT EXISTS idx_images_date_taken ON images(date_taken);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert adds e and returns its id. DateTaken is stored in milliseconds.
func (s *Store) Insert(ctx context.Context, e Entry) (int64, error) {
	query := `
	INSERT INTO images (title, display_name, path, date_taken, width, height, orientation, latitude, longitude)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		e.Title, e.DisplayName, e.Path, e.DateTaken.UnixMilli(),
		e.Width, e.Height, e.Orientation, nullFloat(e.Latitude), nullFloat(e.Longitude))
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", e.Path, err)
	}
	return res.LastInsertId()
}

// List returns the newest entries first. limit <= 0 returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
	SELECT id, title, display_name, path, date_taken, width, height, orientation, latitude, longitude
	FROM images
	ORDER BY date_taken DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			taken    int64
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.DisplayName, &e.Path, &taken,
			&e.Width, &e.Height, &e.Orientation, &lat, &lon); err != nil {
			return nil, err
		}
		e.DateTaken = time.UnixMilli(taken)
		if lat.Valid {
			e.Latitude = &lat.Float64
		}
		if lon.Valid {
			e.Longitude = &lon.Float64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of catalogued images.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&n)
	return n, err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
