package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"soulspot/internal/domain"
)

const entityColumns = `id, kind, parent_id, name, norm_name, sort_name, source, external_ids,
	mbid, isrc, upc, year, duration, track_number, disc_number, genre, image_url, image_path,
	aliases, complete, removed_at, created_at, updated_at`

func (db *DB) InsertEntity(ctx context.Context, e *domain.LibraryEntity) error {
	query := `INSERT INTO library_entities (id, kind, parent_id, name, norm_name, sort_name, source,
			external_ids, mbid, isrc, upc, year, duration, track_number, disc_number, genre,
			image_url, image_path, aliases, complete, removed_at, created_at, updated_at)
		VALUES (:id, :kind, :parent_id, :name, :norm_name, :sort_name, :source,
			:external_ids, :mbid, :isrc, :upc, :year, :duration, :track_number, :disc_number, :genre,
			:image_url, :image_path, :aliases, :complete, :removed_at, :created_at, :updated_at)`

	_, err := db.NamedExecContext(ctx, query, e)
	return err
}

// UpdateEntity writes back every mergeable field. The row must exist.
func (db *DB) UpdateEntity(ctx context.Context, e *domain.LibraryEntity) error {
	query := `UPDATE library_entities SET
			parent_id = :parent_id, name = :name, norm_name = :norm_name, sort_name = :sort_name,
			source = :source, external_ids = :external_ids, mbid = :mbid, isrc = :isrc, upc = :upc,
			year = :year, duration = :duration, track_number = :track_number, disc_number = :disc_number,
			genre = :genre, image_url = :image_url, image_path = :image_path, aliases = :aliases,
			complete = :complete, updated_at = :updated_at
		WHERE id = :id`

	res, err := db.NamedExecContext(ctx, query, e)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (db *DB) GetEntity(ctx context.Context, id string) (*domain.LibraryEntity, error) {
	e := &domain.LibraryEntity{}
	err := db.GetContext(ctx, e, `SELECT `+entityColumns+` FROM library_entities WHERE id = ?`, id)
	if err != nil {
		return nil, scanErr(err)
	}
	return e, nil
}

func (db *DB) getEntityWhere(ctx context.Context, query string, args ...interface{}) (*domain.LibraryEntity, error) {
	e := &domain.LibraryEntity{}
	err := db.GetContext(ctx, e, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (db *DB) FindEntityByMBID(ctx context.Context, kind domain.EntityKind, mbid string) (*domain.LibraryEntity, error) {
	return db.getEntityWhere(ctx, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE kind = ? AND mbid = ? AND removed_at IS NULL LIMIT 1`, kind, mbid)
}

func (db *DB) FindEntityByISRC(ctx context.Context, isrc string) (*domain.LibraryEntity, error) {
	return db.getEntityWhere(ctx, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE kind = 'track' AND isrc = ? AND removed_at IS NULL LIMIT 1`, isrc)
}

func (db *DB) FindEntityByUPC(ctx context.Context, upc string) (*domain.LibraryEntity, error) {
	return db.getEntityWhere(ctx, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE kind = 'album' AND upc = ? AND removed_at IS NULL LIMIT 1`, upc)
}

// FindEntityByExternalID matches a provider's own identifier recorded in the
// external_ids JSON map.
func (db *DB) FindEntityByExternalID(ctx context.Context, kind domain.EntityKind, source, externalID string) (*domain.LibraryEntity, error) {
	return db.getEntityWhere(ctx, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE kind = ? AND json_extract(external_ids, '$."' || ? || '"') = ? AND removed_at IS NULL
		LIMIT 1`, kind, source, externalID)
}

// FindEntitiesByNormName returns every live entity sharing the normalized
// name, optionally scoped to a parent. More than one result means the match
// is ambiguous.
func (db *DB) FindEntitiesByNormName(ctx context.Context, kind domain.EntityKind, normName string, parentID *string) ([]*domain.LibraryEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM library_entities
		WHERE kind = ? AND norm_name = ? AND removed_at IS NULL`
	args := []interface{}{kind, normName}
	if parentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *parentID)
	}
	query += ` ORDER BY created_at ASC`

	var entities []*domain.LibraryEntity
	err := db.SelectContext(ctx, &entities, query, args...)
	return entities, err
}

func (db *DB) ListEntities(ctx context.Context, kind domain.EntityKind, limit, offset int) ([]*domain.LibraryEntity, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	var entities []*domain.LibraryEntity
	err := db.SelectContext(ctx, &entities, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE kind = ? AND removed_at IS NULL
		ORDER BY sort_name ASC, name ASC
		LIMIT ? OFFSET ?`, kind, limit, offset)
	return entities, err
}

func (db *DB) ListEntitiesByParent(ctx context.Context, parentID string) ([]*domain.LibraryEntity, error) {
	var entities []*domain.LibraryEntity
	err := db.SelectContext(ctx, &entities, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE parent_id = ? AND removed_at IS NULL
		ORDER BY disc_number ASC, track_number ASC, name ASC`, parentID)
	return entities, err
}

func (db *DB) SearchEntities(ctx context.Context, kind domain.EntityKind, q string, limit int) ([]*domain.LibraryEntity, error) {
	var entities []*domain.LibraryEntity
	err := db.SelectContext(ctx, &entities, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE kind = ? AND removed_at IS NULL AND (name LIKE ? OR norm_name LIKE ?)
		ORDER BY name ASC
		LIMIT ?`, kind, "%"+q+"%", "%"+domain.NormalizeName(q)+"%", limit)
	return entities, err
}

// SoftRemoveEntity hides the entity from the library without discarding the
// merge history accumulated on the row.
func (db *DB) SoftRemoveEntity(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE library_entities SET removed_at = ?, updated_at = ?
		WHERE id = ? AND removed_at IS NULL`, now, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (db *DB) MarkEntityComplete(ctx context.Context, id string, complete bool, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE library_entities SET complete = ?, updated_at = ? WHERE id = ?`, complete, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RecomputeAlbumComplete derives the album's completeness from its live
// tracks and returns the new value.
func (db *DB) RecomputeAlbumComplete(ctx context.Context, albumID string, now time.Time) (bool, error) {
	var complete bool
	err := db.GetContext(ctx, &complete, `
		UPDATE library_entities SET
			complete = (
				SELECT COUNT(*) > 0 AND COUNT(*) = SUM(t.complete)
				FROM library_entities t
				WHERE t.parent_id = ? AND t.kind = 'track' AND t.removed_at IS NULL
			),
			updated_at = ?
		WHERE id = ?
		RETURNING complete`, albumID, now, albumID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return complete, err
}

func (db *DB) SetEntityImagePath(ctx context.Context, id, imagePath string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE library_entities SET image_path = ?, updated_at = ? WHERE id = ?`, imagePath, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ListEntitiesMissingImages returns entities with a known remote image that
// was never fetched locally.
func (db *DB) ListEntitiesMissingImages(ctx context.Context, limit int) ([]*domain.LibraryEntity, error) {
	var entities []*domain.LibraryEntity
	err := db.SelectContext(ctx, &entities, `
		SELECT `+entityColumns+` FROM library_entities
		WHERE image_url != '' AND image_path = '' AND removed_at IS NULL
		ORDER BY updated_at ASC
		LIMIT ?`, limit)
	return entities, err
}

func (db *DB) CountEntities(ctx context.Context, kind domain.EntityKind) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM library_entities WHERE kind = ? AND removed_at IS NULL`, kind)
	return count, err
}
