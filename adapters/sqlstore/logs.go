package sqlstore

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/autoflow"
)

type LogStore struct {
	writer *sql.DB
	reader *sql.DB

	tableName    string
	cols         string
	selectPrefix string
}

func NewLogStore(writer *sql.DB, reader *sql.DB, tableName string) *LogStore {
	s := &LogStore{
		writer:    writer,
		reader:    reader,
		tableName: tableName,
	}

	s.cols = " `id`, `tenant_id`, `enrollment_id`, `rule_id`, `step_id`, `outcome`, `detail`, `created_at` "
	s.selectPrefix = " select " + s.cols + " from " + s.tableName + " where "

	return s
}

var _ autoflow.LogStore = (*LogStore)(nil)

func (s *LogStore) Append(ctx context.Context, entry *autoflow.LogEntry) error {
	resp, err := s.writer.ExecContext(ctx, "insert into "+s.tableName+" set "+
		" tenant_id=?, enrollment_id=?, rule_id=?, step_id=?, outcome=?, detail=?, created_at=? ",
		entry.TenantID,
		entry.EnrollmentID,
		entry.RuleID,
		entry.StepID,
		string(entry.Outcome),
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append log entry", j.MKV{
			"tenant_id": entry.TenantID,
			"outcome":   string(entry.Outcome),
		})
	}

	id, err := resp.LastInsertId()
	if err != nil {
		return err
	}

	entry.ID = id
	return nil
}

func (s *LogStore) ListByTenant(ctx context.Context, tenantID int64) ([]autoflow.LogEntry, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+"tenant_id=? order by id asc", tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "list log entries")
	}
	defer rows.Close()

	var res []autoflow.LogEntry
	for rows.Next() {
		var (
			e       autoflow.LogEntry
			outcome string
		)
		err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.EnrollmentID,
			&e.RuleID,
			&e.StepID,
			&outcome,
			&e.Detail,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "logScan")
		}

		e.Outcome = autoflow.Outcome(outcome)
		res = append(res, e)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

type IdempotencyStore struct {
	writer *sql.DB

	tableName string
}

func NewIdempotencyStore(writer *sql.DB, tableName string) *IdempotencyStore {
	return &IdempotencyStore{
		writer:    writer,
		tableName: tableName,
	}
}

var _ autoflow.IdempotencyStore = (*IdempotencyStore)(nil)

// Claim inserts the token relying on the table's unique key over
// (tenant_id, token) to reject duplicates atomically.
func (s *IdempotencyStore) Claim(ctx context.Context, tenantID int64, token string) (bool, error) {
	resp, err := s.writer.ExecContext(ctx,
		"insert ignore into "+s.tableName+" set tenant_id=?, token=?, created_at=now()",
		tenantID,
		token,
	)
	if err != nil {
		return false, errors.Wrap(err, "claim token", j.MKV{
			"tenant_id": tenantID,
		})
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
