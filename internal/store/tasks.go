package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetingflow/internal/services"
	"meetingflow/internal/tasks"
)

const taskColumns = "id, title, status, priority, category, assignee, assignee_entity_id, due_date, source_fingerprint, ordinal, source_text, raised_by, created_at, updated_at"

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	Statuses    []tasks.Status
	Fingerprint string
	Assignee    string
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*tasks.Task, error) {
	var (
		task       tasks.Task
		status     string
		priority   string
		category   string
		assignee   sql.NullString
		assigneeID sql.NullString
		dueRaw     sql.NullString
		sourceText sql.NullString
		raisedBy   sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&task.ID,
		&task.Title,
		&status,
		&priority,
		&category,
		&assignee,
		&assigneeID,
		&dueRaw,
		&task.SourceFingerprint,
		&task.Ordinal,
		&sourceText,
		&raisedBy,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	task.Status = tasks.Status(status)
	task.Priority = tasks.Priority(priority)
	task.Category = tasks.Category(category)
	task.Assignee = assignee.String
	task.AssigneeEntityID = assigneeID.String
	task.SourceText = sourceText.String
	task.RaisedBy = raisedBy.String
	task.CreatedAt = parseTimeOrZero(createdRaw)
	task.UpdatedAt = parseTimeOrZero(updatedRaw)
	if dueRaw.Valid {
		if due, err := time.Parse(time.DateOnly, dueRaw.String); err == nil {
			task.Due = &due
		}
	}
	return &task, nil
}

// InsertTasks stores tasks, ignoring IDs that already exist, and returns the
// number of new rows.
func (s *Store) InsertTasks(ctx context.Context, list []tasks.Task) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		for _, task := range list {
			created := task.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			updated := task.UpdatedAt
			if updated.IsZero() {
				updated = created
			}
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				task.ID,
				task.Title,
				task.Status,
				task.Priority,
				task.Category,
				nullableString(task.Assignee),
				nullableString(task.AssigneeEntityID),
				nullableDate(task.Due),
				task.SourceFingerprint,
				task.Ordinal,
				nullableString(task.SourceText),
				nullableString(task.RaisedBy),
				formatTime(created),
				formatTime(updated),
			)
			if err != nil {
				return fmt.Errorf("insert task %s: %w", task.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert tasks: %w", err)
	}
	return inserted, nil
}

// GetTask returns one task, or nil when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	ctx = ensureContext(ctx)
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter ordered by recording and ordinal.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]tasks.Task, error) {
	ctx = ensureContext(ctx)
	var where whereClause
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	where.in("status", statuses)
	if filter.Fingerprint != "" {
		where.add("source_fingerprint = ?", filter.Fingerprint)
	}
	if filter.Assignee != "" {
		where.add("assignee = ? COLLATE NOCASE", filter.Assignee)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+where.String()+` ORDER BY created_at, source_fingerprint, ordinal`,
		where.args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []tasks.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

// UpdateTaskStatus moves a task to status to. The current status is read and
// validated against the transition graph inside the same transaction.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, to tasks.Status) (*tasks.Task, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "tasks", "set status", "no task "+id, nil)
		}
		if err != nil {
			return err
		}
		if err := tasks.ValidateTransition(tasks.Status(current), to); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, to, formatTime(now), id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	return s.GetTask(ctx, id)
}
