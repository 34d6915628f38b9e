package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetingflow/internal/entities"
	"meetingflow/internal/services"
)

var _ entities.Registry = (*Store)(nil)

const entityColumns = `e.id, e.type, e.canonical_name, e.normalized_name, e.relationship,
    e.relationship_confidence, e.relationship_pinned, e.first_seen, e.last_seen,
    (SELECT COUNT(*) FROM entity_mentions m WHERE m.entity_id = e.id)`

func scanEntity(scanner interface{ Scan(dest ...any) error }) (*entities.Record, error) {
	var (
		rec        entities.Record
		typ        string
		confidence string
		pinned     int
		firstRaw   string
		lastRaw    string
	)
	if err := scanner.Scan(
		&rec.ID,
		&typ,
		&rec.CanonicalName,
		&rec.NormalizedName,
		&rec.Relationship,
		&confidence,
		&pinned,
		&firstRaw,
		&lastRaw,
		&rec.MentionCount,
	); err != nil {
		return nil, err
	}
	rec.Type = entities.Type(typ)
	rec.RelationshipConfidence = entities.ParseConfidence(confidence)
	rec.RelationshipPinned = pinned != 0
	rec.FirstSeen = parseTimeOrZero(firstRaw)
	rec.LastSeen = parseTimeOrZero(lastRaw)
	return &rec, nil
}

// Candidates returns every entity of type t with aliases, ordered by ID.
func (s *Store) Candidates(ctx context.Context, t entities.Type) ([]entities.Record, error) {
	return s.ListEntities(ctx, t)
}

// ListEntities returns entities of type t, or all entities when t is empty.
func (s *Store) ListEntities(ctx context.Context, t entities.Type) ([]entities.Record, error) {
	ctx = ensureContext(ctx)
	var where whereClause
	if t != "" {
		where.add("e.type = ?", string(t))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities e`+where.String()+` ORDER BY e.id`, where.args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	var records []entities.Record
	index := map[string]int{}
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[rec.ID] = len(records)
		records = append(records, *rec)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	var aliasWhere whereClause
	if t != "" {
		aliasWhere.add("type = ?", string(t))
	}
	aliasRows, err := s.db.QueryContext(ctx, `SELECT entity_id, alias FROM entity_aliases`+aliasWhere.String()+` ORDER BY entity_id, alias`, aliasWhere.args...)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var id, alias string
		if err := aliasRows.Scan(&id, &alias); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			records[i].Aliases = append(records[i].Aliases, alias)
		}
	}
	return records, aliasRows.Err()
}

// Get returns one entity with its aliases, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*entities.Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities e WHERE e.id = ?`, id)
	rec, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT alias FROM entity_aliases WHERE entity_id = ? ORDER BY alias`, id)
	if err != nil {
		return nil, fmt.Errorf("get aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		rec.Aliases = append(rec.Aliases, alias)
	}
	return rec, rows.Err()
}

// Create inserts a new entity. A duplicate normalized name for the type
// returns entities.ErrDuplicate.
func (s *Store) Create(ctx context.Context, rec entities.Record) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (
                id, type, canonical_name, normalized_name, relationship,
                relationship_confidence, relationship_pinned, first_seen, last_seen
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID,
			string(rec.Type),
			rec.CanonicalName,
			rec.NormalizedName,
			rec.Relationship,
			rec.RelationshipConfidence.String(),
			boolToInt(rec.RelationshipPinned),
			formatTime(rec.FirstSeen),
			formatTime(rec.LastSeen),
		); err != nil {
			return err
		}
		return insertAliases(ctx, tx, rec)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("create entity %s/%s: %w", rec.Type, rec.NormalizedName, entities.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

// Update persists the canonical name, relationship fields and last_seen, and
// adds aliases that are not yet stored.
func (s *Store) Update(ctx context.Context, rec entities.Record) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE entities
             SET canonical_name = ?, relationship = ?, relationship_confidence = ?,
                 relationship_pinned = ?, last_seen = ?
             WHERE id = ?`,
			rec.CanonicalName,
			rec.Relationship,
			rec.RelationshipConfidence.String(),
			boolToInt(rec.RelationshipPinned),
			formatTime(rec.LastSeen),
			rec.ID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return services.Wrap(services.ErrNotFound, "store", "update entity", "no entity "+rec.ID, nil)
		}
		return insertAliases(ctx, tx, rec)
	})
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

// insertAliases ignores aliases whose normalized form is already taken
// within the type.
func insertAliases(ctx context.Context, tx *sql.Tx, rec entities.Record) error {
	for _, alias := range rec.Aliases {
		alias = strings.TrimSpace(alias)
		normalized := entities.Normalize(alias)
		if normalized == "" || normalized == rec.NormalizedName {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entity_aliases (entity_id, type, alias, normalized) VALUES (?, ?, ?, ?)`,
			rec.ID, string(rec.Type), alias, normalized,
		); err != nil {
			return fmt.Errorf("insert alias %q: %w", alias, err)
		}
	}
	return nil
}

// RecordMention stores the first mention of an entity per recording.
func (s *Store) RecordMention(ctx context.Context, m entities.Mention) error {
	seen := m.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT OR IGNORE INTO entity_mentions (entity_id, fingerprint, surface_form, context, seen_at)
         VALUES (?, ?, ?, ?, ?)`,
		m.EntityID, m.Fingerprint, m.SurfaceForm, nullableString(m.Context), formatTime(seen),
	); err != nil {
		return fmt.Errorf("record mention: %w", err)
	}
	return nil
}

// EntityMentions lists the recordings that mention an entity, oldest first.
func (s *Store) EntityMentions(ctx context.Context, id string) ([]entities.Mention, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, fingerprint, surface_form, context, seen_at
         FROM entity_mentions WHERE entity_id = ? ORDER BY seen_at, fingerprint`, id)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	defer rows.Close()
	var out []entities.Mention
	for rows.Next() {
		var (
			m       entities.Mention
			snippet sql.NullString
			seenRaw string
		)
		if err := rows.Scan(&m.EntityID, &m.Fingerprint, &m.SurfaceForm, &snippet, &seenRaw); err != nil {
			return nil, err
		}
		m.Context = snippet.String
		m.SeenAt = parseTimeOrZero(seenRaw)
		out = append(out, m)
	}
	return out, rows.Err()
}
