package store

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

// OperationState is the lifecycle state recorded in a checkpoint.
type OperationState string

const (
	StateIdle      OperationState = "idle"
	StateRunning   OperationState = "running"
	StateCancelled OperationState = "cancelled"
	StateError     OperationState = "error"
)

// Resumable reports whether a job left in this state can be resumed.
func (s OperationState) Resumable() bool {
	return s == StateRunning || s == StateCancelled || s == StateError
}

// Checkpoint field names, stored as "<kind>.<field>".
const (
	fieldCursor    = "last-cursor"
	fieldProcessed = "processed-count"
	fieldTotal     = "total-count"
	fieldState     = "operation-state"
	fieldRunID     = "run-id"
	fieldUpdatedAt = "updated-at"
	paramPrefix    = "param."

	// lastOperationKey names the kind of the most recently checkpointed job.
	lastOperationKey = "last-operation"
)

// Checkpoint is the persisted progress of one job kind.
type Checkpoint struct {
	Kind      string            `yaml:"kind"`
	Cursor    string            `yaml:"cursor,omitempty"`
	Processed int               `yaml:"processed"`
	Total     int               `yaml:"total"`
	State     OperationState    `yaml:"state"`
	RunID     string            `yaml:"run_id,omitempty"`
	Params    map[string]string `yaml:"params,omitempty"`
	UpdatedAt time.Time         `yaml:"updated_at,omitempty"`
}

// LoadCheckpoint reads the checkpoint of kind. A kind that never ran loads
// as an idle, zero checkpoint.
func (q queries) LoadCheckpoint(ctx context.Context, kind string) (Checkpoint, error) {
	rows, err := q.query(ctx, `SELECT key, value FROM checkpoints WHERE key LIKE ?`, kind+".%")
	if err != nil {
		return Checkpoint{}, errors.Errorf("load checkpoint %s: %w", kind, err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Checkpoint{}, errors.Errorf("scan checkpoint %s: %w", kind, err)
		}
		fields[strings.TrimPrefix(key, kind+".")] = value
	}
	if err := rows.Err(); err != nil {
		return Checkpoint{}, errors.Errorf("load checkpoint %s: %w", kind, err)
	}

	return decodeCheckpoint(kind, fields)
}

func decodeCheckpoint(kind string, fields map[string]string) (Checkpoint, error) {
	cp := Checkpoint{Kind: kind, State: StateIdle}

	for name, value := range fields {
		var err error
		switch {
		case name == fieldCursor:
			cp.Cursor = value
		case name == fieldProcessed:
			cp.Processed, err = strconv.Atoi(value)
		case name == fieldTotal:
			cp.Total, err = strconv.Atoi(value)
		case name == fieldState:
			cp.State = OperationState(value)
		case name == fieldRunID:
			cp.RunID = value
		case name == fieldUpdatedAt:
			cp.UpdatedAt, err = time.Parse(time.RFC3339Nano, value)
		case strings.HasPrefix(name, paramPrefix):
			if cp.Params == nil {
				cp.Params = make(map[string]string)
			}
			cp.Params[strings.TrimPrefix(name, paramPrefix)] = value
		}
		if err != nil {
			return Checkpoint{}, errors.Errorf("decode checkpoint %s.%s=%q: %w", kind, name, value, err)
		}
	}

	return cp, nil
}

// SaveCheckpoint writes every field of cp and marks its kind as the last
// operation. Params not present in cp are removed.
func (q queries) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.Kind == "" {
		return errors.New("save checkpoint: empty kind")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}

	if _, err := q.execRaw(ctx, `DELETE FROM checkpoints WHERE key LIKE ?`, cp.Kind+"."+paramPrefix+"%"); err != nil {
		return errors.Errorf("save checkpoint %s: %w", cp.Kind, err)
	}

	values := map[string]string{
		cp.Kind + "." + fieldCursor:    cp.Cursor,
		cp.Kind + "." + fieldProcessed: strconv.Itoa(cp.Processed),
		cp.Kind + "." + fieldTotal:     strconv.Itoa(cp.Total),
		cp.Kind + "." + fieldState:     string(cp.State),
		cp.Kind + "." + fieldRunID:     cp.RunID,
		cp.Kind + "." + fieldUpdatedAt: cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
		lastOperationKey:               cp.Kind,
	}
	for name, value := range cp.Params {
		values[cp.Kind+"."+paramPrefix+name] = value
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, k, values[k])
	}

	if _, err := q.execRaw(ctx, `
		INSERT INTO checkpoints (key, value) VALUES `+strings.Join(placeholders, ", ")+`
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, args...); err != nil {
		return errors.Errorf("save checkpoint %s: %w", cp.Kind, err)
	}

	return nil
}

// LastOperation returns the kind of the most recently checkpointed job, or
// an empty string when no job ever saved a checkpoint.
func (q queries) LastOperation(ctx context.Context) (string, error) {
	row, err := q.queryRow(ctx, `SELECT value FROM checkpoints WHERE key = ?`, lastOperationKey)
	if err != nil {
		return "", errors.Errorf("load last operation: %w", err)
	}

	var kind string
	if err := row.Scan(&kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.Errorf("load last operation: %w", err)
	}
	return kind, nil
}

// Checkpoints returns the checkpoint of every kind that ever saved one,
// ordered by kind.
func (q queries) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := q.query(ctx, `SELECT key, value FROM checkpoints WHERE key <> ? ORDER BY key`, lastOperationKey)
	if err != nil {
		return nil, errors.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	byKind := make(map[string]map[string]string)
	var kinds []string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Errorf("scan checkpoint: %w", err)
		}
		kind, field, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		if byKind[kind] == nil {
			byKind[kind] = make(map[string]string)
			kinds = append(kinds, kind)
		}
		byKind[kind][field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("list checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(kinds))
	for _, kind := range kinds {
		cp, err := decodeCheckpoint(kind, byKind[kind])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}
