package job

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/airbais/conductor/errors"
)

// Store persists jobs in SQLite. All lifecycle mutation goes through
// Transition, a compare-and-set update keyed on the job's current
// status: the database row is the single source of truth, and SQLite
// serializes writers per row, so unrelated jobs never contend beyond
// the driver's own locking.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Filter narrows List results. Zero values mean no filtering; Limit 0
// falls back to DefaultListLimit.
type Filter struct {
	Status Status
	Tool   string
	Limit  int
}

// Listing limits. The API caps requests at MaxListLimit.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Fields carries the terminal payload applied by a Transition.
type Fields struct {
	Result    json.RawMessage
	Error     string
	ErrorCode ErrorCode
}

// Create inserts a new job record. The job must have been built by New;
// concurrent calls are safe and never produce duplicate ids because ids
// are random UUIDs and the id column is the primary key.
func (s *Store) Create(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, tool, parameters, status,
			submitted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	parameters := sql.NullString{String: string(job.Parameters), Valid: len(job.Parameters) > 0}

	_, err := s.db.Exec(query,
		job.ID,
		job.Tool,
		parameters,
		job.Status,
		job.SubmittedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// Get retrieves a job by id. Returns an error wrapping errors.ErrNotFound
// for unknown ids.
func (s *Store) Get(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	var job Job
	args := newJobScanArgs()

	err := s.db.QueryRow(query, id).Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	args.apply(&job)
	return &job, nil
}

// List returns jobs matching the filter, newest first (submitted_at
// descending, id descending as tiebreak). The order is deterministic
// and documented; callers rely on it for pagination-free listing.
func (s *Store) List(f Filter) ([]*Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + jobSelectColumns + ` FROM jobs`
	var conds []string
	var args []interface{}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Tool != "" {
		conds = append(conds, "tool = ?")
		args = append(args, f.Tool)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY submitted_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// NextQueued returns the oldest queued job, or nil when the queue is
// empty. The caller must still win the queued -> running transition
// before executing; this read alone claims nothing.
func (s *Store) NextQueued() (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs
		WHERE status = 'queued'
		ORDER BY submitted_at ASC, id ASC
		LIMIT 1`

	var job Job
	args := newJobScanArgs()

	err := s.db.QueryRow(query).Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next queued job")
	}

	args.apply(&job)
	return &job, nil
}

// Transition applies a compare-and-set status update: the write takes
// effect only if the job's current status equals expected. Otherwise it
// fails with errors.ErrStaleTransition (or errors.ErrNotFound for an
// unknown id) and performs no write. This is the mechanism that prevents
// a job from being started twice or finalized twice under races.
//
// Timestamps are stamped here, exactly once per transition: started_at
// when entering running, finished_at when entering a terminal state.
func (s *Store) Transition(id string, expected, next Status, fields Fields) (*Job, error) {
	now := time.Now().UTC()

	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []interface{}{next, now}

	if next == StatusRunning {
		query += `, started_at = ?`
		args = append(args, now)
	}
	if next.IsTerminal() {
		query += `, finished_at = ?, result = ?, error = ?, error_code = ?`
		result := sql.NullString{String: string(fields.Result), Valid: len(fields.Result) > 0}
		errMsg := sql.NullString{String: fields.Error, Valid: fields.Error != ""}
		errCode := sql.NullString{String: string(fields.ErrorCode), Valid: fields.ErrorCode != ""}
		args = append(args, now, result, errMsg, errCode)
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, expected)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to transition job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}

	if affected == 0 {
		// Distinguish a missing job from a lost race
		current, getErr := s.Get(id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errors.Wrapf(errors.ErrStaleTransition,
			"job %s: expected %s, found %s", id, expected, current.Status)
	}

	return s.Get(id)
}

// CountByStatus returns the number of jobs in each status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}

	return counts, nil
}

// ListByStatus returns up to limit jobs in the given status, oldest
// first. Used by orphan recovery at startup.
func (s *Store) ListByStatus(status Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs
		WHERE status = ?
		ORDER BY submitted_at ASC, id ASC
		LIMIT ?`

	rows, err := s.db.Query(query, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by status")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CleanupOldJobs removes terminal jobs whose finished_at is older than
// the retention window. Non-terminal jobs are never removed, whatever
// their age.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND finished_at < ?
	`

	res, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}
