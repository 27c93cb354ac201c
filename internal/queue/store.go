package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tonearm/internal/config"
)

// ErrAlreadyTerminal is returned when a cancellation targets a task or batch
// that already reached a terminal state.
var ErrAlreadyTerminal = errors.New("already terminal")

// ErrTaskSuperseded is returned by Transition when the stored status no
// longer matches the caller's copy: another worker claimed the row, a lease
// reclaim requeued it, or a cancellation finalized it first. The caller must
// drop its claim instead of continuing the attempt.
var ErrTaskSuperseded = errors.New("task superseded")

// Store manages task and batch persistence backed by SQLite.
type Store struct {
	db          *sql.DB
	path        string
	maxAttempts int

	// admitMu serializes fingerprint admissions so concurrent submissions of
	// the same request cannot both observe "no live task".
	admitMu sync.Mutex
}

// Open initializes or connects to the task database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "tasks.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, maxAttempts: cfg.Downloads.MaxAttempts}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Admit atomically resolves a track request to a task. An existing
// non-terminal task for the fingerprint is returned as-is; a prior completed
// task short-circuits repeat requests unless force is set. Otherwise a new
// pending task is created. The created flag is true for exactly one caller
// per live fingerprint.
func (s *Store) Admit(ctx context.Context, req TrackRequest, band Band, force bool) (*Task, bool, error) {
	if req.TrackID == "" {
		return nil, false, errors.New("track id is required")
	}
	fingerprint := FingerprintFor(req)

	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin admission tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if !force {
		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM download_tasks
             WHERE fingerprint = ? AND status NOT IN (?, ?, ?)
             ORDER BY created_at LIMIT 1`,
			fingerprint, StatusCompleted, StatusFailed, StatusCancelled,
		)
		task, scanErr := scanTask(row)
		if scanErr == nil {
			return task, false, tx.Commit()
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("find live task: %w", scanErr)
		}

		// Completed results are reusable; failed or cancelled runs are
		// superseded by a fresh admission so callers can retry them.
		row = tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM download_tasks
             WHERE fingerprint = ? AND status = ?
             ORDER BY created_at DESC LIMIT 1`,
			fingerprint, StatusCompleted,
		)
		task, scanErr = scanTask(row)
		if scanErr == nil {
			return task, false, tx.Commit()
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("find completed task: %w", scanErr)
		}
	}

	task := &Task{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		TrackID:     req.TrackID,
		Format:      req.Format,
		Quality:     req.Quality,
		Band:        band,
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	task.UpdatedAt = task.CreatedAt

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO download_tasks (
            id, fingerprint, track_id, format, quality, band, status,
            attempt, max_attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Fingerprint,
		task.TrackID,
		task.Format,
		task.Quality,
		task.Band,
		task.Status,
		task.Attempt,
		task.MaxAttempts,
		task.CreatedAt.Format(time.RFC3339Nano),
		task.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, false, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit admission: %w", err)
	}
	return task, true, nil
}

// GetTask fetches a task by identifier. Returns nil when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM download_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Update persists changes to an existing task. The cancel_requested flag is
// deliberately excluded: only RequestCancel writes it, so a stale in-memory
// copy can never erase a cancellation filed by another process.
func (s *Store) Update(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	_, err := s.persist(ctx, task, "", nil)
	return err
}

// persist writes every worker-owned column. guard, when non-empty, is an
// extra WHERE clause (with its args) that turns the write into a
// compare-and-swap; the affected row count tells the caller whether it won.
func (s *Store) persist(ctx context.Context, task *Task, guard string, guardArgs []any) (int64, error) {
	task.UpdatedAt = time.Now().UTC()
	args := []any{
		task.Status,
		task.Attempt,
		nullableString(task.ErrorKind),
		nullableString(task.ErrorMessage),
		task.ErrorAttempt,
		nullableString(task.StagingPath),
		nullableString(task.OutputPath),
		nullableString(task.BatchID),
		task.ProgressPercent,
		nullableString(task.ProgressMessage),
		task.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(task.LastHeartbeat),
		task.ID,
	}
	query := `UPDATE download_tasks
         SET status = ?, attempt = ?, error_kind = ?, error_message = ?, error_attempt = ?,
             staging_path = ?, output_path = ?, batch_id = ?,
             progress_percent = ?, progress_message = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ?`
	if guard != "" {
		query += " AND " + guard
		args = append(args, guardArgs...)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update task: %w", err)
	}
	return affected, nil
}

// Transition validates and persists a status change, stamping the heartbeat
// for processing states so the lease monitor sees fresh workers. The write
// lands before the caller starts the stage's side effects.
//
// The UPDATE is guarded on the status the caller last observed, so two
// workers racing for one pending row cannot both claim it: the loser's write
// matches zero rows and gets ErrTaskSuperseded, its in-memory copy restored.
func (s *Store) Transition(ctx context.Context, task *Task, to Status) error {
	if task == nil {
		return errors.New("task is nil")
	}
	from := task.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition %s -> %s for task %s", from, to, task.ID)
	}
	priorHeartbeat := task.LastHeartbeat
	task.Status = to
	if to.IsProcessing() {
		now := time.Now().UTC()
		task.LastHeartbeat = &now
	} else {
		task.LastHeartbeat = nil
	}
	affected, err := s.persist(ctx, task, "status = ?", []any{from})
	if err != nil {
		task.Status = from
		task.LastHeartbeat = priorHeartbeat
		return err
	}
	if affected == 0 {
		task.Status = from
		task.LastHeartbeat = priorHeartbeat
		return fmt.Errorf("task %s (%s -> %s): %w", task.ID, from, to, ErrTaskSuperseded)
	}
	return nil
}

// RequestCancel flags a non-terminal task for cooperative cancellation. The
// worker holding the task observes the flag between stages; pending tasks are
// finalized directly by the caller. Terminal tasks return ErrAlreadyTerminal.
func (s *Store) RequestCancel(ctx context.Context, id string) (*Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", id, sql.ErrNoRows)
	}
	if task.Status.IsTerminal() {
		return task, ErrAlreadyTerminal
	}
	if !task.CancelRequested {
		task.CancelRequested = true
		task.UpdatedAt = time.Now().UTC()
		// Dedicated write: the flag is not part of the worker-owned column
		// set, so stage transitions can never clear it.
		if _, err := s.db.ExecContext(ctx,
			`UPDATE download_tasks SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
			task.UpdatedAt.Format(time.RFC3339Nano), task.ID,
		); err != nil {
			return nil, fmt.Errorf("request cancel: %w", err)
		}
	}
	return task, nil
}

// List returns tasks filtered by status set (or all tasks when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM download_tasks`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Counts aggregates tasks per lifecycle group for health reporting.
func (s *Store) Counts(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM download_tasks GROUP BY status`)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var (
			statusStr string
			n         int
		)
		if err := rows.Scan(&statusStr, &n); err != nil {
			return StatusCounts{}, err
		}
		counts.Total += n
		switch status := Status(statusStr); {
		case status == StatusPending:
			counts.Pending += n
		case status.IsProcessing():
			counts.Processing += n
		case status == StatusCompleted:
			counts.Completed += n
		case status == StatusFailed:
			counts.Failed += n
		case status == StatusCancelled:
			counts.Cancelled += n
		}
	}
	return counts, rows.Err()
}
