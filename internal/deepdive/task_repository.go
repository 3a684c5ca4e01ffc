package deepdive

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/database"
	"github.com/aristath/screener/internal/jobs"
)

// TaskStatus is the lifecycle state of a deep-dive task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// taskTransitions is the closed transition table for tasks. Done and failed
// are terminal; a terminal record blocks re-insertion of the same key, so
// deliberate re-runs go through Delete (the explicit override path).
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskRunning},
	TaskRunning: {TaskDone, TaskFailed},
	TaskDone:    {},
	TaskFailed:  {},
}

// CanTransitionTask reports whether a task may move between two statuses.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is one admitted enrichment unit, uniquely keyed by
// (symbol, date, session).
type Task struct {
	Symbol   string
	Date     time.Time
	Session  jobs.Session
	Priority float64
	Status   TaskStatus
	Attempts int
}

// TaskRepository persists deep-dive tasks with idempotent inserts.
type TaskRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTaskRepository creates a task repository.
func NewTaskRepository(db *sql.DB, log zerolog.Logger) *TaskRepository {
	return &TaskRepository{
		db:  db,
		log: log.With().Str("component", "task_repository").Logger(),
	}
}

// Insert adds a pending task. If the key already exists the insert is a no-op
// and ErrDuplicateTask is returned so the caller can release the budget slot
// it reserved.
func (r *TaskRepository) Insert(task Task) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.db.Exec(
		`INSERT INTO deep_dive_tasks (symbol, task_date, session, priority, status, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (symbol, task_date, session) DO NOTHING`,
		task.Symbol, calendar.FormatDate(task.Date), string(task.Session),
		task.Priority, string(TaskPending), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deep-dive task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s %s", ErrDuplicateTask,
			task.Symbol, calendar.FormatDate(task.Date), task.Session)
	}
	return nil
}

// MarkRunning transitions a task to running and counts the attempt.
func (r *TaskRepository) MarkRunning(symbol string, date time.Time, session jobs.Session) error {
	return r.transition(symbol, date, session, TaskRunning)
}

// MarkDone transitions a task to done.
func (r *TaskRepository) MarkDone(symbol string, date time.Time, session jobs.Session) error {
	return r.transition(symbol, date, session, TaskDone)
}

// MarkFailed transitions a task to failed. Failed tasks are not re-admitted
// and do not consume additional budget.
func (r *TaskRepository) MarkFailed(symbol string, date time.Time, session jobs.Session) error {
	return r.transition(symbol, date, session, TaskFailed)
}

func (r *TaskRepository) transition(symbol string, date time.Time, session jobs.Session, to TaskStatus) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRow(
			"SELECT status FROM deep_dive_tasks WHERE symbol = ? AND task_date = ? AND session = ?",
			symbol, calendar.FormatDate(date), string(session),
		).Scan(&raw)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s %s %s", ErrTaskNotFound, symbol, calendar.FormatDate(date), session)
		}
		if err != nil {
			return fmt.Errorf("failed to read deep-dive task: %w", err)
		}

		from := TaskStatus(raw)
		if !CanTransitionTask(from, to) {
			return fmt.Errorf("%w: %s -> %s (%s %s %s)", ErrInvalidTransition,
				from, to, symbol, calendar.FormatDate(date), session)
		}

		now := time.Now().UTC().Format(time.RFC3339)
		query := "UPDATE deep_dive_tasks SET status = ?, updated_at = ? WHERE symbol = ? AND task_date = ? AND session = ?"
		if to == TaskRunning {
			query = "UPDATE deep_dive_tasks SET status = ?, updated_at = ?, attempts = attempts + 1 WHERE symbol = ? AND task_date = ? AND session = ?"
		}
		if _, err := tx.Exec(query, string(to), now, symbol, calendar.FormatDate(date), string(session)); err != nil {
			return fmt.Errorf("failed to update deep-dive task: %w", err)
		}
		return nil
	})
}

// Get returns a task by key.
func (r *TaskRepository) Get(symbol string, date time.Time, session jobs.Session) (*Task, error) {
	var (
		task    Task
		rawDate string
		status  string
		sess    string
	)
	err := r.db.QueryRow(
		`SELECT symbol, task_date, session, priority, status, attempts
		 FROM deep_dive_tasks WHERE symbol = ? AND task_date = ? AND session = ?`,
		symbol, calendar.FormatDate(date), string(session),
	).Scan(&task.Symbol, &rawDate, &sess, &task.Priority, &status, &task.Attempts)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %s %s", ErrTaskNotFound, symbol, calendar.FormatDate(date), session)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deep-dive task: %w", err)
	}

	task.Date, err = calendar.ParseDate(rawDate)
	if err != nil {
		return nil, fmt.Errorf("corrupt task date %q: %w", rawDate, err)
	}
	task.Session = jobs.Session(sess)
	task.Status = TaskStatus(status)
	return &task, nil
}

// Pending returns the pending tasks for (date, session), highest priority
// first with symbol as tie-break, limited to limit rows.
func (r *TaskRepository) Pending(date time.Time, session jobs.Session, limit int) ([]Task, error) {
	rows, err := r.db.Query(
		`SELECT symbol, task_date, session, priority, status, attempts
		 FROM deep_dive_tasks
		 WHERE task_date = ? AND session = ? AND status = ?
		 ORDER BY priority DESC, symbol ASC
		 LIMIT ?`,
		calendar.FormatDate(date), string(session), string(TaskPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deep-dive tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// DoneSymbols returns the symbols with a done task on the given date, across
// all sessions. Used to skip candidates already covered that day.
func (r *TaskRepository) DoneSymbols(date time.Time) (map[string]bool, error) {
	rows, err := r.db.Query(
		"SELECT symbol FROM deep_dive_tasks WHERE task_date = ? AND status = ?",
		calendar.FormatDate(date), string(TaskDone),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list done deep-dive symbols: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan done symbol: %w", err)
		}
		done[symbol] = true
	}
	return done, rows.Err()
}

// Count returns the number of tasks stored for a date across all sessions.
func (r *TaskRepository) Count(date time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM deep_dive_tasks WHERE task_date = ?",
		calendar.FormatDate(date),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deep-dive tasks: %w", err)
	}
	return count, nil
}

// Delete removes a task record. This is the explicit override path for
// deliberate re-runs of a terminal task; nothing calls it automatically.
func (r *TaskRepository) Delete(symbol string, date time.Time, session jobs.Session) error {
	_, err := r.db.Exec(
		"DELETE FROM deep_dive_tasks WHERE symbol = ? AND task_date = ? AND session = ?",
		symbol, calendar.FormatDate(date), string(session),
	)
	if err != nil {
		return fmt.Errorf("failed to delete deep-dive task: %w", err)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var (
			task    Task
			rawDate string
			status  string
			sess    string
		)
		if err := rows.Scan(&task.Symbol, &rawDate, &sess, &task.Priority, &status, &task.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan deep-dive task: %w", err)
		}
		date, err := calendar.ParseDate(rawDate)
		if err != nil {
			return nil, fmt.Errorf("corrupt task date %q: %w", rawDate, err)
		}
		task.Date = date
		task.Session = jobs.Session(sess)
		task.Status = TaskStatus(status)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
