package job

import (
	"database/sql"
	"encoding/json"

	"github.com/airbais/conductor/errors"
)

const jobSelectColumns = `id, tool, parameters, status, result, error, error_code,
	submitted_at, started_at, finished_at, updated_at`

// jobScanArgs holds the nullable column targets for a jobs row scan.
// SQLite returns NULL for parameters/result/error on fresh jobs and for
// started_at/finished_at until the corresponding transition stamps them.
type jobScanArgs struct {
	parameters sql.NullString
	result     sql.NullString
	errMsg     sql.NullString
	errCode    sql.NullString
	startedAt  sql.NullTime
	finishedAt sql.NullTime
}

func newJobScanArgs() *jobScanArgs {
	return &jobScanArgs{}
}

// jobScanTargets returns the Scan destinations for a row selected with
// jobSelectColumns, in column order.
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Tool,
		&args.parameters,
		&job.Status,
		&args.result,
		&args.errMsg,
		&args.errCode,
		&job.SubmittedAt,
		&args.startedAt,
		&args.finishedAt,
		&job.UpdatedAt,
	}
}

// apply copies the nullable scan results into the job.
func (a *jobScanArgs) apply(job *Job) {
	if a.parameters.Valid {
		job.Parameters = json.RawMessage(a.parameters.String)
	}
	if a.result.Valid {
		job.Result = json.RawMessage(a.result.String)
	}
	if a.errMsg.Valid {
		job.Error = a.errMsg.String
	}
	if a.errCode.Valid {
		job.ErrorCode = ErrorCode(a.errCode.String)
	}
	if a.startedAt.Valid {
		t := a.startedAt.Time
		job.StartedAt = &t
	}
	if a.finishedAt.Valid {
		t := a.finishedAt.Time
		job.FinishedAt = &t
	}
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		args := newJobScanArgs()
		if err := rows.Scan(jobScanTargets(&job, args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		args.apply(&job)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}
