package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetingflow/internal/services"
	"meetingflow/internal/state"
)

var _ state.Backend = (*Store)(nil)

const recordingColumns = "fingerprint, path, discovered_at, recorded_at, stage, last_completed, failed_stage, last_error, error_kind, permanent, resume_index, claim_owner, claim_heartbeat, updated_at"

func scanRecording(scanner interface{ Scan(dest ...any) error }) (*state.ProcessingState, error) {
	var (
		fingerprint   string
		path          string
		discoveredRaw string
		recordedRaw   sql.NullString
		stage         string
		lastCompleted string
		failedStage   sql.NullString
		lastError     sql.NullString
		errorKind     sql.NullString
		permanent     int
		resumeIndex   int
		claimOwner    sql.NullString
		heartbeatRaw  sql.NullString
		updatedRaw    string
	)
	if err := scanner.Scan(
		&fingerprint,
		&path,
		&discoveredRaw,
		&recordedRaw,
		&stage,
		&lastCompleted,
		&failedStage,
		&lastError,
		&errorKind,
		&permanent,
		&resumeIndex,
		&claimOwner,
		&heartbeatRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	st := &state.ProcessingState{
		Fingerprint:   fingerprint,
		Path:          path,
		DiscoveredAt:  parseTimeOrZero(discoveredRaw),
		RecordedAt:    parseTimeOrZero(recordedRaw.String),
		Stage:         state.Stage(stage),
		LastCompleted: state.Stage(lastCompleted),
		FailedStage:   state.Stage(failedStage.String),
		LastError:     lastError.String,
		ErrorKind:     errorKind.String,
		Permanent:     permanent != 0,
		ResumeIndex:   resumeIndex,
		ClaimOwner:    claimOwner.String,
		UpdatedAt:     parseTimeOrZero(updatedRaw),
		Retries:       map[state.Stage]int{},
		Artifacts:     map[state.Stage]string{},
	}
	if heartbeatRaw.Valid {
		if hb, err := parseTimeString(heartbeatRaw.String); err == nil {
			st.ClaimHeartbeat = &hb
		}
	}
	return st, nil
}

// LoadState returns the state for fingerprint, or nil when absent.
func (s *Store) LoadState(ctx context.Context, fingerprint string) (*state.ProcessingState, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE fingerprint = ?`, fingerprint)
	st, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recording: %w", err)
	}
	if err := s.loadStageMaps(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) loadStageMaps(ctx context.Context, st *state.ProcessingState) error {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, ref FROM stage_artifacts WHERE fingerprint = ?`, st.Fingerprint)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	for rows.Next() {
		var stage, ref string
		if err := rows.Scan(&stage, &ref); err != nil {
			rows.Close()
			return err
		}
		st.Artifacts[state.Stage(stage)] = ref
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT stage, count FROM stage_retries WHERE fingerprint = ?`, st.Fingerprint)
	if err != nil {
		return fmt.Errorf("load retries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return err
		}
		st.Retries[state.Stage(stage)] = count
	}
	return rows.Err()
}

// InsertState creates the recording row unless it already exists.
func (s *Store) InsertState(ctx context.Context, st state.ProcessingState) (bool, error) {
	var inserted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO recordings (
                fingerprint, path, discovered_at, recorded_at, stage, last_completed,
                permanent, resume_index, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			st.Fingerprint,
			st.Path,
			formatTime(st.DiscoveredAt),
			nullableTime(&st.RecordedAt),
			st.Stage,
			st.LastCompleted,
			st.ResumeIndex,
			formatTime(st.UpdatedAt),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if !inserted {
			return nil
		}
		return writeStageMaps(ctx, tx, st)
	})
	if err != nil {
		return false, fmt.Errorf("insert recording: %w", err)
	}
	return inserted, nil
}

// SaveState persists progress fields. Claim columns are left untouched.
func (s *Store) SaveState(ctx context.Context, st state.ProcessingState) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE recordings
             SET path = ?, recorded_at = ?, stage = ?, last_completed = ?, failed_stage = ?,
                 last_error = ?, error_kind = ?, permanent = ?, resume_index = ?, updated_at = ?
             WHERE fingerprint = ?`,
			st.Path,
			nullableTime(&st.RecordedAt),
			st.Stage,
			st.LastCompleted,
			nullableString(string(st.FailedStage)),
			nullableString(st.LastError),
			nullableString(st.ErrorKind),
			boolToInt(st.Permanent),
			st.ResumeIndex,
			formatTime(st.UpdatedAt),
			st.Fingerprint,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return services.Wrap(services.ErrNotFound, "store", "save state", "no recording "+st.Fingerprint, nil)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stage_artifacts WHERE fingerprint = ?`, st.Fingerprint); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stage_retries WHERE fingerprint = ?`, st.Fingerprint); err != nil {
			return err
		}
		return writeStageMaps(ctx, tx, st)
	})
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	return nil
}

func writeStageMaps(ctx context.Context, tx *sql.Tx, st state.ProcessingState) error {
	for stage, ref := range st.Artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_artifacts (fingerprint, stage, ref) VALUES (?, ?, ?)`,
			st.Fingerprint, stage, ref,
		); err != nil {
			return fmt.Errorf("write artifact %s: %w", stage, err)
		}
	}
	for stage, count := range st.Retries {
		if count <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_retries (fingerprint, stage, count) VALUES (?, ?, ?)`,
			st.Fingerprint, stage, count,
		); err != nil {
			return fmt.Errorf("write retries %s: %w", stage, err)
		}
	}
	return nil
}

// ClaimState takes the in-progress marker for owner in one conditional
// update. Claims older than staleBefore may be taken over.
func (s *Store) ClaimState(ctx context.Context, fingerprint, owner string, now, staleBefore time.Time) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE recordings SET claim_owner = ?, claim_heartbeat = ?
         WHERE fingerprint = ?
           AND (claim_owner IS NULL OR claim_owner = ? OR claim_heartbeat IS NULL OR claim_heartbeat < ?)`,
		owner,
		formatTime(now),
		fingerprint,
		owner,
		formatTime(staleBefore),
	)
	if err != nil {
		return false, fmt.Errorf("claim recording: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// HeartbeatState refreshes owner's claim.
func (s *Store) HeartbeatState(ctx context.Context, fingerprint, owner string, now time.Time) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE recordings SET claim_heartbeat = ? WHERE fingerprint = ? AND claim_owner = ?`,
		formatTime(now), fingerprint, owner,
	)
	if err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseState clears owner's claim.
func (s *Store) ReleaseState(ctx context.Context, fingerprint, owner string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE recordings SET claim_owner = NULL, claim_heartbeat = NULL WHERE fingerprint = ? AND claim_owner = ?`,
		fingerprint, owner,
	); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ClearStaleClaims clears claims whose heartbeat is older than staleBefore.
func (s *Store) ClearStaleClaims(ctx context.Context, staleBefore time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE recordings SET claim_owner = NULL, claim_heartbeat = NULL
         WHERE claim_owner IS NOT NULL AND (claim_heartbeat IS NULL OR claim_heartbeat < ?)`,
		formatTime(staleBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("clear stale claims: %w", err)
	}
	return res.RowsAffected()
}

// ListStates returns recordings matching filter ordered by discovery time.
func (s *Store) ListStates(ctx context.Context, filter state.Filter) ([]state.ProcessingState, error) {
	ctx = ensureContext(ctx)
	var where whereClause
	stages := make([]string, 0, len(filter.Stages))
	for _, stage := range filter.Stages {
		stages = append(stages, string(stage))
	}
	where.in("stage", stages)
	where.in("fingerprint", filter.Fingerprints)
	if filter.FailedOnly {
		where.add("stage = ?", state.StageFailed)
	}
	query := `SELECT ` + recordingColumns + ` FROM recordings` + where.String() + ` ORDER BY discovered_at, fingerprint`
	args := where.args
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	var states []*state.ProcessingState
	for rows.Next() {
		st, err := scanRecording(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		states = append(states, st)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	out := make([]state.ProcessingState, 0, len(states))
	for _, st := range states {
		if err := s.loadStageMaps(ctx, st); err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

// StageCounts returns the number of recordings per current stage.
func (s *Store) StageCounts(ctx context.Context) (map[state.Stage]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM recordings GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count stages: %w", err)
	}
	defer rows.Close()
	counts := map[state.Stage]int{}
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		counts[state.Stage(stage)] = count
	}
	return counts, rows.Err()
}
