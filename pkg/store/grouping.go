package store

import (
	"context"
	"database/sql"
	"time"

	"gitlab.com/tozd/go/errors"
)

// GroupingEntry is one source file considered for classification copy.
type GroupingEntry struct {
	ID                int64
	OriginPath        string
	DestinationPath   string // set iff Copied
	Filename          string
	ClassificationKey string
	Hash              string
	Copied            bool
	Duplicate         DuplicateState
	CreatedAt         time.Time
	Notes             string
}

// GroupingStats summarizes the grouping_entries table.
type GroupingStats struct {
	Total      int `yaml:"total"`
	Copied     int `yaml:"copied"`
	Duplicates int `yaml:"duplicates"`
	Pending    int `yaml:"pending"`
}

const groupingColumns = `id, origin_path, destination_path, filename, classification_key,
	hash, copied, duplicate, created_at, notes`

func scanGrouping(row scanner) (GroupingEntry, error) {
	var (
		e         GroupingEntry
		dest      sql.NullString
		hash      sql.NullString
		duplicate sql.NullInt64
		created   string
	)
	if err := row.Scan(&e.ID, &e.OriginPath, &dest, &e.Filename, &e.ClassificationKey,
		&hash, &e.Copied, &duplicate, &created, &e.Notes); err != nil {
		return GroupingEntry{}, err
	}
	e.DestinationPath = dest.String
	e.Hash = hash.String
	e.Duplicate = duplicateFromNull(duplicate)

	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return GroupingEntry{}, errors.Errorf("parse created_at %q: %w", created, err)
	}
	e.CreatedAt = t
	return e, nil
}

// InsertGroupingEntry adds e unless its origin path is already present.
// It reports whether a row was inserted.
func (q queries) InsertGroupingEntry(ctx context.Context, e GroupingEntry) (bool, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := q.exec(ctx, `
		INSERT INTO grouping_entries (origin_path, filename, classification_key, hash, created_at, notes)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT(origin_path) DO NOTHING
	`, e.OriginPath, e.Filename, e.ClassificationKey, e.Hash, created.UTC().Format(time.RFC3339Nano), e.Notes)
	if err != nil {
		return false, errors.Errorf("insert grouping entry %s: %w", e.OriginPath, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Errorf("insert grouping entry %s: %w", e.OriginPath, err)
	}
	return n > 0, nil
}

// GroupingEntryByOrigin looks up the entry for an origin path.
func (q queries) GroupingEntryByOrigin(ctx context.Context, origin string) (GroupingEntry, bool, error) {
	row, err := q.queryRow(ctx, `SELECT `+groupingColumns+` FROM grouping_entries WHERE origin_path = ?`, origin)
	if err != nil {
		return GroupingEntry{}, false, errors.Errorf("lookup grouping entry %s: %w", origin, err)
	}

	e, err := scanGrouping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return GroupingEntry{}, false, nil
	}
	if err != nil {
		return GroupingEntry{}, false, errors.Errorf("lookup grouping entry %s: %w", origin, err)
	}
	return e, true, nil
}

// PendingGroupingEntries returns entries not yet copied, by ascending id.
func (q queries) PendingGroupingEntries(ctx context.Context) ([]GroupingEntry, error) {
	return q.listGrouping(ctx, `SELECT `+groupingColumns+` FROM grouping_entries WHERE copied = 0 ORDER BY id`)
}

// CopiedGroupingEntries returns entries already copied, by ascending id.
func (q queries) CopiedGroupingEntries(ctx context.Context) ([]GroupingEntry, error) {
	return q.listGrouping(ctx, `SELECT `+groupingColumns+` FROM grouping_entries WHERE copied = 1 ORDER BY id`)
}

func (q queries) listGrouping(ctx context.Context, query string, args ...any) ([]GroupingEntry, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, errors.Errorf("list grouping entries: %w", err)
	}
	defer rows.Close()

	var entries []GroupingEntry
	for rows.Next() {
		e, err := scanGrouping(rows)
		if err != nil {
			return nil, errors.Errorf("scan grouping entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("list grouping entries: %w", err)
	}
	return entries, nil
}

// MarkGroupingCopied records a successful copy. Copied never reverts.
func (q queries) MarkGroupingCopied(ctx context.Context, origin, destination, hash string) error {
	if destination == "" {
		return errors.Errorf("mark copied %s: empty destination", origin)
	}
	if _, err := q.exec(ctx, `
		UPDATE grouping_entries
		SET copied = 1, destination_path = ?, hash = COALESCE(NULLIF(?, ''), hash), duplicate = 0, notes = ''
		WHERE origin_path = ?
	`, destination, hash, origin); err != nil {
		return errors.Errorf("mark copied %s: %w", origin, err)
	}
	return nil
}

// MarkGroupingDuplicate records that origin was skipped as a duplicate.
func (q queries) MarkGroupingDuplicate(ctx context.Context, origin, hash string) error {
	if _, err := q.exec(ctx, `
		UPDATE grouping_entries
		SET duplicate = 1, hash = COALESCE(NULLIF(?, ''), hash)
		WHERE origin_path = ? AND copied = 0
	`, hash, origin); err != nil {
		return errors.Errorf("mark grouping duplicate %s: %w", origin, err)
	}
	return nil
}

// SetGroupingHash stores the content identity of a pending entry.
func (q queries) SetGroupingHash(ctx context.Context, origin, hash string) error {
	if _, err := q.exec(ctx, `
		UPDATE grouping_entries SET hash = ? WHERE origin_path = ? AND hash IS NULL
	`, hash, origin); err != nil {
		return errors.Errorf("set grouping hash %s: %w", origin, err)
	}
	return nil
}

// SetGroupingNote replaces the free-text note of an entry.
func (q queries) SetGroupingNote(ctx context.Context, origin, note string) error {
	if _, err := q.exec(ctx, `UPDATE grouping_entries SET notes = ? WHERE origin_path = ?`, note, origin); err != nil {
		return errors.Errorf("set grouping note %s: %w", origin, err)
	}
	return nil
}

// GroupingStats summarizes the grouping_entries table.
func (q queries) GroupingStats(ctx context.Context) (GroupingStats, error) {
	row, err := q.queryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(copied), 0),
			COALESCE(SUM(CASE WHEN duplicate = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN copied = 0 THEN 1 ELSE 0 END), 0)
		FROM grouping_entries
	`)
	if err != nil {
		return GroupingStats{}, errors.Errorf("grouping stats: %w", err)
	}

	var st GroupingStats
	if err := row.Scan(&st.Total, &st.Copied, &st.Duplicates, &st.Pending); err != nil {
		return GroupingStats{}, errors.Errorf("grouping stats: %w", err)
	}
	return st, nil
}
