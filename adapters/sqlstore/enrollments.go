package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/autoflow"
)

type EnrollmentStore struct {
	writer *sql.DB
	reader *sql.DB

	tableName    string
	cols         string
	selectPrefix string

	outboxTableName    string
	outboxCols         string
	outboxSelectPrefix string
}

func NewEnrollmentStore(writer *sql.DB, reader *sql.DB, tableName string, outboxTableName string) *EnrollmentStore {
	s := &EnrollmentStore{
		writer:          writer,
		reader:          reader,
		tableName:       tableName,
		outboxTableName: outboxTableName,
	}

	s.cols = " `id`, `tenant_id`, `journey_id`, `target_type`, `target_id`, `status`, `current_order_no`, `data`, `remaining_delay`, `version`, `started_at`, `updated_at`, `completed_at` "
	s.selectPrefix = " select " + s.cols + " from " + s.tableName + " where "

	s.outboxCols = " `id`, `tenant_id`, `data`, `created_at` "
	s.outboxSelectPrefix = " select " + s.outboxCols + " from " + s.outboxTableName + " where "

	return s
}

var _ autoflow.EnrollmentStore = (*EnrollmentStore)(nil)

func (s *EnrollmentStore) Create(ctx context.Context, en *autoflow.Enrollment) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Enrollment exclusivity: at most one active or paused enrollment per
	// (tenant, target, journey).
	var count int
	err = tx.QueryRowContext(ctx,
		"select count(*) from "+s.tableName+
			" where tenant_id=? and journey_id=? and target_type=? and target_id=? and status in (?, ?) for update",
		en.TenantID,
		en.JourneyID,
		string(en.Target.Type),
		en.Target.ID,
		int(autoflow.StatusActive),
		int(autoflow.StatusPaused),
	).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "check enrollment exclusivity")
	}

	if count > 0 {
		return errors.Wrap(autoflow.ErrAlreadyEnrolled, "", j.MKV{
			"journey_id": en.JourneyID,
			"target_id":  en.Target.ID,
		})
	}

	en.Version = 1

	data, err := json.Marshal(en.Data)
	if err != nil {
		return errors.Wrap(err, "marshal enrollment data")
	}

	_, err = tx.ExecContext(ctx, "insert into "+s.tableName+" set "+
		" id=?, tenant_id=?, journey_id=?, target_type=?, target_id=?, status=?, current_order_no=?, data=?, remaining_delay=?, version=?, started_at=?, updated_at=? ",
		en.ID,
		en.TenantID,
		en.JourneyID,
		string(en.Target.Type),
		en.Target.ID,
		int(en.Status),
		en.CurrentOrderNo,
		data,
		en.RemainingDelay.Nanoseconds(),
		en.Version,
		en.StartedAt,
		en.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create enrollment", j.MKV{
			"enrollment_id": en.ID,
		})
	}

	err = s.insertOutboxEvent(ctx, tx, en)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *EnrollmentStore) Lookup(ctx context.Context, tenantID int64, id string) (*autoflow.Enrollment, error) {
	return enrollmentScan(s.reader.QueryRowContext(ctx, s.selectPrefix+"id=? and tenant_id=?", id, tenantID))
}

func (s *EnrollmentStore) ActiveByTarget(ctx context.Context, tenantID, journeyID int64, target autoflow.EntityRef) (*autoflow.Enrollment, error) {
	return enrollmentScan(s.reader.QueryRowContext(ctx,
		s.selectPrefix+"tenant_id=? and journey_id=? and target_type=? and target_id=? and status in (?, ?) limit 1",
		tenantID,
		journeyID,
		string(target.Type),
		target.ID,
		int(autoflow.StatusActive),
		int(autoflow.StatusPaused),
	))
}

func (s *EnrollmentStore) Update(ctx context.Context, en *autoflow.Enrollment) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	data, err := json.Marshal(en.Data)
	if err != nil {
		return errors.Wrap(err, "marshal enrollment data")
	}

	var completedAt sql.NullTime
	if !en.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: en.CompletedAt, Valid: true}
	}

	resp, err := tx.ExecContext(ctx, "update "+s.tableName+" set "+
		" status=?, current_order_no=?, data=?, remaining_delay=?, version=version+1, updated_at=?, completed_at=? "+
		" where id=? and tenant_id=? and version=?",
		int(en.Status),
		en.CurrentOrderNo,
		data,
		en.RemainingDelay.Nanoseconds(),
		en.UpdatedAt,
		completedAt,
		en.ID,
		en.TenantID,
		en.Version,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update enrollment", j.MKV{
			"enrollment_id": en.ID,
		})
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		// Either the row moved on past our version or it never existed.
		_, err := enrollmentScan(tx.QueryRowContext(ctx, s.selectPrefix+"id=? and tenant_id=?", en.ID, en.TenantID))
		if errors.Is(err, autoflow.ErrEnrollmentNotFound) {
			return err
		} else if err != nil {
			return err
		}

		return errors.Wrap(autoflow.ErrStaleEnrollment, "", j.MKV{
			"enrollment_id": en.ID,
		})
	}

	en.Version++

	err = s.insertOutboxEvent(ctx, tx, en)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *EnrollmentStore) List(ctx context.Context, tenantID int64, journeyID int64) ([]autoflow.Enrollment, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+"tenant_id=? and journey_id=?", tenantID, journeyID)
	if err != nil {
		return nil, errors.Wrap(err, "list enrollments")
	}
	defer rows.Close()

	var res []autoflow.Enrollment
	for rows.Next() {
		en, err := enrollmentScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *en)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func (s *EnrollmentStore) ListOutboxEvents(ctx context.Context, limit int64) ([]autoflow.OutboxEvent, error) {
	rows, err := s.reader.QueryContext(ctx, s.outboxSelectPrefix+"1=1 order by created_at asc limit ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "list outbox events")
	}
	defer rows.Close()

	var res []autoflow.OutboxEvent
	for rows.Next() {
		e, err := outboxScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func (s *EnrollmentStore) DeleteOutboxEvent(ctx context.Context, id string) error {
	_, err := s.writer.ExecContext(ctx, "delete from "+s.outboxTableName+" where id=?", id)
	if err != nil {
		return errors.Wrap(err, "delete outbox event", j.MKV{"outbox_event_id": id})
	}

	return nil
}

func (s *EnrollmentStore) insertOutboxEvent(ctx context.Context, tx *sql.Tx, en *autoflow.Enrollment) error {
	eventData, err := autoflow.MakeOutboxEventData(en)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "insert into "+s.outboxTableName+" set "+
		" id=?, tenant_id=?, data=?, created_at=now() ",
		eventData.ID,
		eventData.TenantID,
		eventData.Data,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create outbox event", j.MKV{
			"enrollment_id": en.ID,
		})
	}

	return nil
}

func enrollmentScan(row row) (*autoflow.Enrollment, error) {
	var (
		en             autoflow.Enrollment
		targetType     string
		status         int
		data           []byte
		remainingDelay int64
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&en.ID,
		&en.TenantID,
		&en.JourneyID,
		&targetType,
		&en.Target.ID,
		&status,
		&en.CurrentOrderNo,
		&data,
		&remainingDelay,
		&en.Version,
		&en.StartedAt,
		&en.UpdatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(autoflow.ErrEnrollmentNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "enrollmentScan")
	}

	en.Target.Type = autoflow.EntityType(targetType)
	en.Status = autoflow.Status(status)
	en.RemainingDelay = time.Duration(remainingDelay)
	if completedAt.Valid {
		en.CompletedAt = completedAt.Time
	}

	err = json.Unmarshal(data, &en.Data)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal enrollment data")
	}

	return &en, nil
}

func outboxScan(row row) (*autoflow.OutboxEvent, error) {
	var e autoflow.OutboxEvent
	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.Data,
		&e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(autoflow.ErrOutboxEventNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "outboxScan")
	}

	return &e, nil
}
