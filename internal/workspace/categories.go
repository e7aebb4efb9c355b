package workspace

import (
	"context"
	"database/sql"
	"fmt"

	"plotform-planner/internal/generator"
)

const activeCategoryKey = "active_category"

// Registry is the SQLite-backed category registry. Categories are seeded by
// the schema migration; the active default lives in the settings table.
type Registry struct {
	db *sql.DB
}

var _ generator.CategoryRegistry = (*Registry)(nil)

// NewRegistry creates a Registry on an existing database connection.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// ListCategories returns every known category in display order.
func (r *Registry) ListCategories(ctx context.Context) ([]generator.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, description FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []generator.Category
	for rows.Next() {
		var c generator.Category
		if err := rows.Scan(&c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// ActiveCategory returns the current default category.
func (r *Registry) ActiveCategory(ctx context.Context) (generator.Category, error) {
	var c generator.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT c.name, c.description FROM categories c
		 JOIN settings s ON s.value = c.name
		 WHERE s.key = ?`, activeCategoryKey).Scan(&c.Name, &c.Description)
	if err != nil {
		return generator.Category{}, fmt.Errorf("failed to read active category: %w", err)
	}
	return c, nil
}

// SetActiveCategory switches the default category. The name must be one of
// the known categories.
func (r *Registry) SetActiveCategory(ctx context.Context, name string) error {
	var canonical string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM categories WHERE name = ? COLLATE NOCASE`, name).Scan(&canonical)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("unknown category %q", name)
		}
		return fmt.Errorf("failed to look up category %q: %w", name, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		activeCategoryKey, canonical)
	if err != nil {
		return fmt.Errorf("failed to set active category: %w", err)
	}
	return nil
}
