package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/essandess/gojobqueue/adapter"
)

// Exact SQL text against the schema spec.md §6 defines. Centralized here so
// a test double can match on the same query strings the core sends.
const (
	sqlInsertJob = `INSERT INTO JOB (JOB_ID, WORK_TYPE, PRIORITY, WEIGHT, NOT_BEFORE, NOT_AFTER) ` +
		`VALUES ($1, $2, $3, $4, $5, $6)`

	sqlLockJobForUpdate = `SELECT JOB_ID, WORK_TYPE, PRIORITY, WEIGHT, NOT_BEFORE, NOT_AFTER ` +
		`FROM JOB WHERE JOB_ID = $1 FOR UPDATE`

	sqlDeleteJob = `DELETE FROM JOB WHERE JOB_ID = $1`

	sqlPastDueJobs = `SELECT JOB_ID, WORK_TYPE, PRIORITY, WEIGHT, NOT_BEFORE, NOT_AFTER FROM JOB ` +
		`WHERE NOT_BEFORE < $1 ORDER BY PRIORITY DESC, NOT_BEFORE ASC, JOB_ID ASC`

	sqlUpsertNodeInfo = `INSERT INTO NODE_INFO (HOSTNAME, PID, PORT, TIME) VALUES ($1, $2, $3, $4) ` +
		`ON CONFLICT (HOSTNAME, PORT) DO UPDATE SET TIME = EXCLUDED.TIME, PID = EXCLUDED.PID`

	sqlDeleteNodeInfo = `DELETE FROM NODE_INFO WHERE HOSTNAME = $1 AND PORT = $2`

	sqlSelectNodeInfo = `SELECT HOSTNAME, PID, PORT, TIME FROM NODE_INFO`
)

// deleteWorkRowQuery builds the DELETE statement for a work-type table.
// workType always comes from a value already validated against the
// Registry, never directly from caller input, so building it into the
// query text is safe.
func deleteWorkRowQuery(workType string) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE JOB_ID = $1`, workType)
}

func insertJob(ctx context.Context, tx adapter.Tx, job Job) error {
	_, err := tx.Exec(ctx, sqlInsertJob, job.JobID, job.WorkType, job.Priority, job.Weight, job.NotBefore, job.NotAfter)
	if err != nil {
		return fmt.Errorf("jobqueue: insert job: %w", err)
	}
	return nil
}

// lockJobForUpdate takes the single row-level lock spec.md §3 invariant (v)
// requires, and returns found=false without error when the row is already
// gone — the designed "concurrent deletion" no-op (spec.md §4.4, §7).
func lockJobForUpdate(ctx context.Context, tx adapter.Tx, jobID int64) (Job, bool, error) {
	row := tx.QueryRow(ctx, sqlLockJobForUpdate, jobID)
	var job Job
	err := row.Scan(&job.JobID, &job.WorkType, &job.Priority, &job.Weight, &job.NotBefore, &job.NotAfter)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("jobqueue: lock job %d: %w", jobID, err)
	}
	return job, true, nil
}

func deleteJob(ctx context.Context, tx adapter.Tx, jobID int64) error {
	if _, err := tx.Exec(ctx, sqlDeleteJob, jobID); err != nil {
		return fmt.Errorf("jobqueue: delete job %d: %w", jobID, err)
	}
	return nil
}

func deleteWorkRow(ctx context.Context, tx adapter.Tx, workType string, jobID int64) error {
	if _, err := tx.Exec(ctx, deleteWorkRowQuery(workType), jobID); err != nil {
		return fmt.Errorf("jobqueue: delete work row %s/%d: %w", workType, jobID, err)
	}
	return nil
}

// selectPastDueJobs returns JOB rows whose NotBefore is older than
// threshold, ordered priority desc / not_before asc / job_id asc — the
// priority-aware ordering spec.md §4.7 specifies as the intended design
// (see DESIGN.md Open Question iii).
func selectPastDueJobs(ctx context.Context, tx adapter.Tx, threshold time.Time) ([]Job, error) {
	rows, err := tx.Query(ctx, sqlPastDueJobs, threshold)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: select past-due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.JobID, &job.WorkType, &job.Priority, &job.Weight, &job.NotBefore, &job.NotAfter); err != nil {
			return nil, fmt.Errorf("jobqueue: scan past-due job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func upsertNodeInfo(ctx context.Context, tx adapter.Tx, node NodeInfo) error {
	_, err := tx.Exec(ctx, sqlUpsertNodeInfo, node.Hostname, node.PID, node.Port, node.Time)
	if err != nil {
		return fmt.Errorf("jobqueue: upsert node info: %w", err)
	}
	return nil
}

func deleteNodeInfoRow(ctx context.Context, tx adapter.Tx, node NodeInfo) error {
	if _, err := tx.Exec(ctx, sqlDeleteNodeInfo, node.Hostname, node.Port); err != nil {
		return fmt.Errorf("jobqueue: delete node info: %w", err)
	}
	return nil
}

func selectNodeInfos(ctx context.Context, tx adapter.Tx) ([]NodeInfo, error) {
	rows, err := tx.Query(ctx, sqlSelectNodeInfo)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: select node info: %w", err)
	}
	defer rows.Close()

	var nodes []NodeInfo
	for rows.Next() {
		var n NodeInfo
		if err := rows.Scan(&n.Hostname, &n.PID, &n.Port, &n.Time); err != nil {
			return nil, fmt.Errorf("jobqueue: scan node info: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}
