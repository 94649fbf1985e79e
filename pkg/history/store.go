// Package history persists scoring outcomes in an embedded SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Narmer23/vicinia/pkg/scoring"
)

const schema = `
CREATE TABLE IF NOT EXISTS search_history (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    address TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    transportation_mode TEXT NOT NULL,
    overall_score REAL NOT NULL,
    poi_count INTEGER NOT NULL,
    search_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_history_user_id ON search_history(user_id);
CREATE INDEX IF NOT EXISTS idx_search_history_search_date ON search_history(search_date);
`

// Record is one persisted search with its identifier and timestamp.
type Record struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	Address            string    `json:"address"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	TransportationMode string    `json:"transportationMode"`
	OverallScore       float64   `json:"overallScore"`
	PoiCount           int       `json:"poiCount"`
	SearchDate         time.Time `json:"searchDate"`
}

// Store is a SQLite-backed search history. It implements
// scoring.HistorySink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the history database at path. ":memory:" opens an
// in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one history entry.
func (s *Store) Record(ctx context.Context, entry scoring.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history
			(id, user_id, address, latitude, longitude, transportation_mode, overall_score, poi_count, search_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		entry.UserID,
		entry.Address,
		entry.Latitude,
		entry.Longitude,
		entry.TransportationMode,
		entry.OverallScore,
		entry.PoiCount,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// ListByUser returns one page of a user's history, newest first, together
// with the total number of records for that user. Pages are 1-based.
func (s *Store) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]Record, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_history WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting history entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, address, latitude, longitude, transportation_mode, overall_score, poi_count, search_date
		FROM search_history
		WHERE user_id = ?
		ORDER BY search_date DESC
		LIMIT ? OFFSET ?`,
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history entries: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, pageSize)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserID, &r.Address, &r.Latitude, &r.Longitude,
			&r.TransportationMode, &r.OverallScore, &r.PoiCount, &r.SearchDate); err != nil {
			return nil, 0, fmt.Errorf("scanning history entry: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading history entries: %w", err)
	}

	return records, total, nil
}
