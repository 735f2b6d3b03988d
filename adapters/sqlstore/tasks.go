package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/autoflow"
)

type TaskStore struct {
	writer *sql.DB
	reader *sql.DB

	tableName    string
	cols         string
	selectPrefix string
}

func NewTaskStore(writer *sql.DB, reader *sql.DB, tableName string) *TaskStore {
	s := &TaskStore{
		writer:    writer,
		reader:    reader,
		tableName: tableName,
	}

	s.cols = " `id`, `tenant_id`, `enrollment_id`, `step_id`, `run_at`, `dedupe_key`, `attempts`, `completed`, `cancelled`, `created_at` "
	s.selectPrefix = " select " + s.cols + " from " + s.tableName + " where "

	return s
}

var _ autoflow.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) Create(ctx context.Context, task *autoflow.Task) (int64, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// At most one pending task per dedupe key.
	var count int
	err = tx.QueryRowContext(ctx,
		"select count(*) from "+s.tableName+" where dedupe_key=? and completed=0 and cancelled=0 for update",
		task.DedupeKey,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "check task dedupe")
	}

	if count > 0 {
		return 0, errors.Wrap(autoflow.ErrTaskAlreadyPending, "", j.MKV{
			"dedupe_key": task.DedupeKey,
		})
	}

	resp, err := tx.ExecContext(ctx, "insert into "+s.tableName+" set "+
		" tenant_id=?, enrollment_id=?, step_id=?, run_at=?, dedupe_key=?, attempts=0, completed=0, cancelled=0, created_at=now() ",
		task.TenantID,
		task.EnrollmentID,
		task.StepID,
		task.RunAt,
		task.DedupeKey,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create task", j.MKV{
			"enrollment_id": task.EnrollmentID,
			"step_id":       task.StepID,
		})
	}

	id, err := resp.LastInsertId()
	if err != nil {
		return 0, err
	}

	err = tx.Commit()
	if err != nil {
		return 0, err
	}

	task.ID = id
	return id, nil
}

func (s *TaskStore) Complete(ctx context.Context, id int64) error {
	return s.mark(ctx, id, "completed")
}

func (s *TaskStore) Cancel(ctx context.Context, id int64) error {
	return s.mark(ctx, id, "cancelled")
}

func (s *TaskStore) mark(ctx context.Context, id int64, col string) error {
	resp, err := s.writer.ExecContext(ctx, "update "+s.tableName+" set "+col+"=1 where id=?", id)
	if err != nil {
		return errors.Wrap(err, "failed to mark task", j.MKV{"task_id": id})
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		// Marking an already marked task affects no rows; only a missing row
		// is an error.
		var count int
		err := s.reader.QueryRowContext(ctx, "select count(*) from "+s.tableName+" where id=?", id).Scan(&count)
		if err != nil {
			return err
		}

		if count == 0 {
			return errors.Wrap(autoflow.ErrTaskNotFound, "", j.MKV{"task_id": id})
		}
	}

	return nil
}

func (s *TaskStore) CancelPending(ctx context.Context, tenantID int64, enrollmentID string) error {
	_, err := s.writer.ExecContext(ctx,
		"update "+s.tableName+" set cancelled=1 where tenant_id=? and enrollment_id=? and completed=0 and cancelled=0",
		tenantID,
		enrollmentID,
	)
	if err != nil {
		return errors.Wrap(err, "cancel pending tasks", j.MKV{
			"enrollment_id": enrollmentID,
		})
	}

	return nil
}

func (s *TaskStore) Pending(ctx context.Context, tenantID int64, enrollmentID string) ([]autoflow.Task, error) {
	return s.listWhere(ctx, "tenant_id=? and enrollment_id=? and completed=0 and cancelled=0 order by run_at asc", tenantID, enrollmentID)
}

func (s *TaskStore) Retry(ctx context.Context, id int64, runAt time.Time) error {
	resp, err := s.writer.ExecContext(ctx,
		"update "+s.tableName+" set run_at=?, attempts=attempts+1 where id=?",
		runAt,
		id,
	)
	if err != nil {
		return errors.Wrap(err, "retry task", j.MKV{"task_id": id})
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return errors.Wrap(autoflow.ErrTaskNotFound, "", j.MKV{"task_id": id})
	}

	return nil
}

func (s *TaskStore) ListDue(ctx context.Context, now time.Time, limit int64) ([]autoflow.Task, error) {
	return s.listWhere(ctx, "run_at<=? and completed=0 and cancelled=0 order by run_at asc limit ?", now, limit)
}

func (s *TaskStore) listWhere(ctx context.Context, where string, args ...any) ([]autoflow.Task, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listWhere")
	}
	defer rows.Close()

	var res []autoflow.Task
	for rows.Next() {
		t, err := taskScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func taskScan(row row) (*autoflow.Task, error) {
	var t autoflow.Task
	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.EnrollmentID,
		&t.StepID,
		&t.RunAt,
		&t.DedupeKey,
		&t.Attempts,
		&t.Completed,
		&t.Cancelled,
		&t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(autoflow.ErrTaskNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "taskScan")
	}

	return &t, nil
}
