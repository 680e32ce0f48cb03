package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRecordNotFound is returned when no image row matches
var ErrRecordNotFound = errors.New("image record not found")

// ImageRecord is a catalog row describing one logical image
type ImageRecord struct {
	ID              string
	Key             string
	StoragePath     string
	Category        string
	TinyPlaceholder string
	DominantColor   string
	ContentHash     string
	AspectRatio     *float64
	UpdatedAt       time.Time
}

// Repository reads and repairs image records
type Repository interface {
	List(ctx context.Context) ([]ImageRecord, error)
	GetByKey(ctx context.Context, key string) (*ImageRecord, error)
	Upsert(ctx context.Context, rec *ImageRecord) error
	UpdatePath(ctx context.Context, id, path string) error
	TinyPlaceholder(ctx context.Context, key string) (string, error)
	ColorPlaceholder(ctx context.Context, key string) (string, error)
}

const imageColumns = `id, image_key, storage_path, category, tiny_placeholder,
	dominant_color, content_hash, aspect_ratio, updated_at`

// SQLRepository implements Repository on DB
type SQLRepository struct {
	db  *DB
	now func() time.Time
}

// NewSQLRepository creates a repository over an open DB
func NewSQLRepository(db *DB) *SQLRepository {
	return &SQLRepository{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ImageRecord, error) {
	var (
		rec     ImageRecord
		aspect  sql.NullFloat64
		updated int64
	)
	if err := row.Scan(&rec.ID, &rec.Key, &rec.StoragePath, &rec.Category, &rec.TinyPlaceholder,
		&rec.DominantColor, &rec.ContentHash, &aspect, &updated); err != nil {
		return nil, err
	}
	if aspect.Valid {
		v := aspect.Float64
		rec.AspectRatio = &v
	}
	rec.UpdatedAt = time.Unix(0, updated)
	return &rec, nil
}

// List returns every image record ordered by key
func (r *SQLRepository) List(ctx context.Context) ([]ImageRecord, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT `+imageColumns+` FROM images ORDER BY image_key`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// GetByKey returns the record for a logical key
func (r *SQLRepository) GetByKey(ctx context.Context, key string) (*ImageRecord, error) {
	row := r.db.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+imageColumns+` FROM images WHERE image_key = ?`), key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", key, err)
	}
	return rec, nil
}

// Upsert inserts a record or replaces the one with the same key
func (r *SQLRepository) Upsert(ctx context.Context, rec *ImageRecord) error {
	if rec.ID == "" || rec.Key == "" {
		return fmt.Errorf("image record requires id and key")
	}
	var aspect sql.NullFloat64
	if rec.AspectRatio != nil {
		aspect = sql.NullFloat64{Float64: *rec.AspectRatio, Valid: true}
	}
	rec.UpdatedAt = r.now()

	_, err := r.db.db.ExecContext(ctx, r.db.rebind(`
INSERT INTO images (`+imageColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (image_key) DO UPDATE SET
    storage_path = excluded.storage_path,
    category = excluded.category,
    tiny_placeholder = excluded.tiny_placeholder,
    dominant_color = excluded.dominant_color,
    content_hash = excluded.content_hash,
    aspect_ratio = excluded.aspect_ratio,
    updated_at = excluded.updated_at`),
		rec.ID, rec.Key, rec.StoragePath, rec.Category, rec.TinyPlaceholder,
		rec.DominantColor, rec.ContentHash, aspect, rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", rec.Key, err)
	}
	return nil
}

// UpdatePath rewrites the stored path of one record
func (r *SQLRepository) UpdatePath(ctx context.Context, id, path string) error {
	res, err := r.db.db.ExecContext(ctx,
		r.db.rebind(`UPDATE images SET storage_path = ?, updated_at = ? WHERE id = ?`),
		path, r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update path for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update path for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %s", ErrRecordNotFound, id)
	}
	return nil
}

// TinyPlaceholder returns the tiny blurred placeholder for a key
func (r *SQLRepository) TinyPlaceholder(ctx context.Context, key string) (string, error) {
	return r.column(ctx, "tiny_placeholder", key)
}

// ColorPlaceholder returns the dominant color placeholder for a key
func (r *SQLRepository) ColorPlaceholder(ctx context.Context, key string) (string, error) {
	return r.column(ctx, "dominant_color", key)
}

func (r *SQLRepository) column(ctx context.Context, column, key string) (string, error) {
	var v string
	err := r.db.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT `+column+` FROM images WHERE image_key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("read %s for %s: %w", column, key, err)
	}
	return v, nil
}

// Setting returns a named cache setting, or "" when unset
func (r *SQLRepository) Setting(ctx context.Context, name string) (string, error) {
	var v string
	err := r.db.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT value FROM cache_settings WHERE name = ?`), name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", name, err)
	}
	return v, nil
}

// SetSetting stores a named cache setting
func (r *SQLRepository) SetSetting(ctx context.Context, name, value string) error {
	_, err := r.db.db.ExecContext(ctx, r.db.rebind(`
INSERT INTO cache_settings (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		name, value, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("write setting %s: %w", name, err)
	}
	return nil
}
