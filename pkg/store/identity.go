package store

import (
	"context"
	"database/sql"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// DuplicateState is the tri-state duplicate flag of a record.
type DuplicateState int

const (
	// Unmarked records have not been resolved by the grouper yet.
	Unmarked DuplicateState = iota
	// NotDuplicate marks the canonical member of a hash group.
	NotDuplicate
	// Duplicate marks a redundant copy of a lower-sequence record.
	Duplicate
)

func (d DuplicateState) String() string {
	switch d {
	case NotDuplicate:
		return "not-duplicate"
	case Duplicate:
		return "duplicate"
	default:
		return "unmarked"
	}
}

func duplicateFromNull(v sql.NullInt64) DuplicateState {
	switch {
	case !v.Valid:
		return Unmarked
	case v.Int64 == 1:
		return Duplicate
	default:
		return NotDuplicate
	}
}

// IdentityRecord is one indexed file path and its content identity.
type IdentityRecord struct {
	Sequence  int64
	Path      string
	Hash      string // empty until computed
	Duplicate DuplicateState
	Deleted   bool
	// Hidden records lie in a version-control directory below the walk
	// root. They never take part in duplicate groups.
	Hidden bool
}

// Active reports whether the record has not been deleted.
func (r IdentityRecord) Active() bool {
	return !r.Deleted
}

// IdentityStats summarizes the identities table.
type IdentityStats struct {
	Total      int `yaml:"total"`
	Hashed     int `yaml:"hashed"`
	Duplicates int `yaml:"duplicates"`
	Deleted    int `yaml:"deleted"`
}

const identityColumns = `sequence, path, hash, duplicate, deleted, hidden`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (IdentityRecord, error) {
	var (
		rec       IdentityRecord
		hash      sql.NullString
		duplicate sql.NullInt64
	)
	if err := row.Scan(&rec.Sequence, &rec.Path, &hash, &duplicate, &rec.Deleted, &rec.Hidden); err != nil {
		return IdentityRecord{}, err
	}
	rec.Hash = hash.String
	rec.Duplicate = duplicateFromNull(duplicate)
	return rec, nil
}

// UpsertIdentity records path with hash. A new path gets the next sequence
// number; an existing path only has its hash filled in if it had none.
// hidden is stored for new paths only.
func (q queries) UpsertIdentity(ctx context.Context, path, hash string, hidden bool) (IdentityRecord, error) {
	_, err := q.exec(ctx, `
		INSERT INTO identities (path, hash, hidden) VALUES (?, NULLIF(?, ''), ?)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash
		WHERE identities.hash IS NULL
	`, path, hash, hidden)
	if err != nil {
		return IdentityRecord{}, errors.Errorf("upsert identity %s: %w", path, err)
	}

	rec, ok, err := q.IdentityByPath(ctx, path)
	if err != nil {
		return IdentityRecord{}, err
	}
	if !ok {
		return IdentityRecord{}, errors.Errorf("upsert identity %s: record missing after insert", path)
	}
	return rec, nil
}

// IdentityByPath looks up the record for path.
func (q queries) IdentityByPath(ctx context.Context, path string) (IdentityRecord, bool, error) {
	row, err := q.queryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE path = ?`, path)
	if err != nil {
		return IdentityRecord{}, false, errors.Errorf("lookup identity %s: %w", path, err)
	}

	rec, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return IdentityRecord{}, false, nil
	}
	if err != nil {
		return IdentityRecord{}, false, errors.Errorf("lookup identity %s: %w", path, err)
	}
	return rec, true, nil
}

// IdentityPaths returns the set of every recorded path.
func (q queries) IdentityPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := q.query(ctx, `SELECT path FROM identities`)
	if err != nil {
		return nil, errors.Errorf("list identity paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Errorf("scan identity path: %w", err)
		}
		paths[p] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("list identity paths: %w", err)
	}
	return paths, nil
}

// Identities returns every record in sequence order.
func (q queries) Identities(ctx context.Context) ([]IdentityRecord, error) {
	return q.listIdentities(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY sequence`)
}

// IdentitiesByHash returns the active records carrying hash in sequence order.
func (q queries) IdentitiesByHash(ctx context.Context, hash string) ([]IdentityRecord, error) {
	return q.listIdentities(ctx, `
		SELECT `+identityColumns+` FROM identities
		WHERE hash = ? AND deleted = 0
		ORDER BY sequence
	`, hash)
}

func (q queries) listIdentities(ctx context.Context, query string, args ...any) ([]IdentityRecord, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, errors.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var records []IdentityRecord
	for rows.Next() {
		rec, err := scanIdentity(rows)
		if err != nil {
			return nil, errors.Errorf("scan identity: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("list identities: %w", err)
	}
	return records, nil
}

// HasPriorIdentity reports whether an active visible record with hash exists
// whose sequence is lower than before.
func (q queries) HasPriorIdentity(ctx context.Context, hash string, before int64) (bool, error) {
	row, err := q.queryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM identities
			WHERE hash = ? AND deleted = 0 AND hidden = 0 AND sequence < ?
		)
	`, hash, before)
	if err != nil {
		return false, errors.Errorf("check prior identity: %w", err)
	}

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, errors.Errorf("check prior identity: %w", err)
	}
	return exists, nil
}

// PendingDuplicateHashes returns, in hash order, every hash shared by more
// than one active record where at least one of them is still unmarked.
// Fully resolved groups are never returned.
func (q queries) PendingDuplicateHashes(ctx context.Context) ([]string, error) {
	return q.listHashes(ctx, `
		SELECT hash FROM identities
		WHERE hash IS NOT NULL AND deleted = 0
		GROUP BY hash
		HAVING COUNT(*) > 1 AND SUM(CASE WHEN duplicate IS NULL THEN 1 ELSE 0 END) > 0
		ORDER BY hash
	`)
}

// DeletionCandidateHashes returns, in hash order, every hash with at least
// one active record flagged duplicate.
func (q queries) DeletionCandidateHashes(ctx context.Context) ([]string, error) {
	return q.listHashes(ctx, `
		SELECT DISTINCT hash FROM identities
		WHERE hash IS NOT NULL AND duplicate = 1 AND deleted = 0
		ORDER BY hash
	`)
}

func (q queries) listHashes(ctx context.Context, query string) ([]string, error) {
	rows, err := q.query(ctx, query)
	if err != nil {
		return nil, errors.Errorf("list hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, errors.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("list hashes: %w", err)
	}
	return hashes, nil
}

// markChunk bounds the placeholders of one statement well below SQLite's
// variable limit.
const markChunk = 500

// MarkDuplicates flags the given active records duplicate and returns how
// many changed. Large groups are updated in chunks within the same
// connection or transaction.
func (q queries) MarkDuplicates(ctx context.Context, sequences []int64) (int64, error) {
	var total int64
	for len(sequences) > 0 {
		chunk := sequences[:min(markChunk, len(sequences))]
		sequences = sequences[len(chunk):]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk))
		for _, seq := range chunk {
			args = append(args, seq)
		}

		res, err := q.exec(ctx, `
			UPDATE identities SET duplicate = 1
			WHERE deleted = 0 AND (duplicate IS NULL OR duplicate <> 1)
			AND sequence IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return total, errors.Errorf("mark duplicates: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, errors.Errorf("mark duplicates: %w", err)
		}
		total += n
	}
	return total, nil
}

// MarkCanonical resolves an unmarked record as not-duplicate.
func (q queries) MarkCanonical(ctx context.Context, sequence int64) error {
	if _, err := q.exec(ctx, `
		UPDATE identities SET duplicate = 0
		WHERE sequence = ? AND duplicate IS NULL
	`, sequence); err != nil {
		return errors.Errorf("mark canonical %d: %w", sequence, err)
	}
	return nil
}

// MarkDuplicateByHash flags every active visible record carrying hash as
// duplicate, except the lowest-sequence visible one, and returns how many
// changed. Hidden records are left alone, as the mark job does.
func (q queries) MarkDuplicateByHash(ctx context.Context, hash string) (int64, error) {
	res, err := q.exec(ctx, `
		UPDATE identities SET duplicate = 1
		WHERE hash = ? AND deleted = 0 AND hidden = 0
		AND (duplicate IS NULL OR duplicate <> 1)
		AND sequence > (
			SELECT MIN(sequence) FROM identities
			WHERE hash = ? AND deleted = 0 AND hidden = 0
		)
	`, hash, hash)
	if err != nil {
		return 0, errors.Errorf("mark duplicates for hash %s: %w", hash, err)
	}
	return res.RowsAffected()
}

// MarkDeleted flags a record whose file has been removed.
func (q queries) MarkDeleted(ctx context.Context, sequence int64) error {
	if _, err := q.exec(ctx, `UPDATE identities SET deleted = 1 WHERE sequence = ?`, sequence); err != nil {
		return errors.Errorf("mark deleted %d: %w", sequence, err)
	}
	return nil
}

// CountDuplicates returns how many records are flagged duplicate.
func (q queries) CountDuplicates(ctx context.Context) (int, error) {
	row, err := q.queryRow(ctx, `SELECT COUNT(*) FROM identities WHERE duplicate = 1`)
	if err != nil {
		return 0, errors.Errorf("count duplicates: %w", err)
	}

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, errors.Errorf("count duplicates: %w", err)
	}
	return n, nil
}

// IdentityStats summarizes the identities table.
func (q queries) IdentityStats(ctx context.Context) (IdentityStats, error) {
	row, err := q.queryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN hash IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN duplicate = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(deleted), 0)
		FROM identities
	`)
	if err != nil {
		return IdentityStats{}, errors.Errorf("identity stats: %w", err)
	}

	var st IdentityStats
	if err := row.Scan(&st.Total, &st.Hashed, &st.Duplicates, &st.Deleted); err != nil {
		return IdentityStats{}, errors.Errorf("identity stats: %w", err)
	}
	return st, nil
}
