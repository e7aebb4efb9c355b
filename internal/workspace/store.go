package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"plotform-planner/internal/generator"
)

// EpisodeRecord is a persisted episode, the workspace's primary record.
type EpisodeRecord struct {
	ID            int64
	Category      string
	SeasonNumber  int
	SeasonName    string
	EpisodeNumber int
	Title         string
	Episode       generator.Episode
	CreatedAt     time.Time
}

// Store is the SQLite-backed workspace for committed episode plans.
type Store struct {
	db *sql.DB
}

var _ generator.Committer = (*Store)(nil)

// NewStore creates a Store on an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateEpisode persists one episode into its grouping and returns the
// record ID. The episode's number must already be assigned.
func (s *Store) CreateEpisode(ctx context.Context, key generator.GroupKey, ep generator.Episode) (int64, error) {
	if ep.EpisodeNumber == nil {
		return 0, fmt.Errorf("episode %q has no episode number", ep.Title)
	}

	data, err := json.Marshal(ep)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal episode: %w", err)
	}

	var seasonName sql.NullString
	if ep.SeasonName != nil {
		seasonName = sql.NullString{String: *ep.SeasonName, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (category, season_number, season_name, episode_number, title, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.Category, key.SeasonNumber, seasonName, *ep.EpisodeNumber, ep.Title, string(data), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert episode: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted episode id: %w", err)
	}
	return id, nil
}

// ListEpisodeNumbers returns every episode number already present in a
// grouping.
func (s *Store) ListEpisodeNumbers(ctx context.Context, key generator.GroupKey) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_number FROM episodes WHERE category = ? AND season_number = ?`,
		key.Category, key.SeasonNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list episode numbers: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan episode number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// ListEpisodes returns the episodes of a category ordered by season and
// episode number.
func (s *Store) ListEpisodes(ctx context.Context, category string) ([]EpisodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, season_number, season_name, episode_number, title, data, created_at
		 FROM episodes WHERE category = ?
		 ORDER BY season_number, episode_number`,
		category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var records []EpisodeRecord
	for rows.Next() {
		rec, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetEpisode retrieves one episode record by ID. Returns nil when not found.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*EpisodeRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category, season_number, season_name, episode_number, title, data, created_at
		 FROM episodes WHERE id = ?`, id)

	rec, err := scanEpisode(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// DeleteEpisode removes one episode record.
func (s *Store) DeleteEpisode(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete episode %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (EpisodeRecord, error) {
	var (
		rec        EpisodeRecord
		seasonName sql.NullString
		data       string
	)
	if err := row.Scan(&rec.ID, &rec.Category, &rec.SeasonNumber, &seasonName,
		&rec.EpisodeNumber, &rec.Title, &data, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan episode row: %w", err)
	}

	rec.SeasonName = seasonName.String
	if err := json.Unmarshal([]byte(data), &rec.Episode); err != nil {
		return rec, fmt.Errorf("failed to unmarshal episode %d: %w", rec.ID, err)
	}
	return rec, nil
}
