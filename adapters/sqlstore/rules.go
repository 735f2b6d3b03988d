package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/autoflow"
)

type RuleStore struct {
	writer *sql.DB
	reader *sql.DB

	tableName    string
	cols         string
	selectPrefix string
}

func NewRuleStore(writer *sql.DB, reader *sql.DB, tableName string) *RuleStore {
	s := &RuleStore{
		writer:    writer,
		reader:    reader,
		tableName: tableName,
	}

	s.cols = " `id`, `tenant_id`, `name`, `priority`, `active`, `event_type`, `condition`, `action`, `meta`, `created_at`, `updated_at` "
	s.selectPrefix = " select " + s.cols + " from " + s.tableName + " where "

	return s
}

var _ autoflow.RuleStore = (*RuleStore)(nil)

func (s *RuleStore) Create(ctx context.Context, r *autoflow.Rule) (int64, error) {
	condition, action, meta, err := marshalRule(r)
	if err != nil {
		return 0, err
	}

	resp, err := s.writer.ExecContext(ctx, "insert into "+s.tableName+" set "+
		" tenant_id=?, name=?, priority=?, active=?, event_type=?, `condition`=?, action=?, meta=?, created_at=?, updated_at=? ",
		r.TenantID,
		r.Name,
		r.Priority,
		r.Active,
		string(r.EventType),
		condition,
		action,
		meta,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create rule", j.MKV{
			"tenant_id": r.TenantID,
			"name":      r.Name,
		})
	}

	id, err := resp.LastInsertId()
	if err != nil {
		return 0, err
	}

	r.ID = id
	return id, nil
}

func (s *RuleStore) Update(ctx context.Context, r *autoflow.Rule) error {
	condition, action, meta, err := marshalRule(r)
	if err != nil {
		return err
	}

	resp, err := s.writer.ExecContext(ctx, "update "+s.tableName+" set "+
		" name=?, priority=?, active=?, event_type=?, `condition`=?, action=?, meta=?, updated_at=? "+
		" where id=? and tenant_id=?",
		r.Name,
		r.Priority,
		r.Active,
		string(r.EventType),
		condition,
		action,
		meta,
		r.UpdatedAt,
		r.ID,
		r.TenantID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update rule", j.MKV{
			"rule_id": r.ID,
		})
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return errors.Wrap(autoflow.ErrRuleNotFound, "", j.MKV{"rule_id": r.ID})
	}

	return nil
}

func (s *RuleStore) Lookup(ctx context.Context, tenantID, id int64) (*autoflow.Rule, error) {
	return ruleScan(s.reader.QueryRowContext(ctx, s.selectPrefix+"id=? and tenant_id=?", id, tenantID))
}

func (s *RuleStore) ListActive(ctx context.Context, tenantID int64, eventType autoflow.EventType) ([]autoflow.Rule, error) {
	rows, err := s.reader.QueryContext(ctx, s.selectPrefix+"tenant_id=? and event_type=? and active=1", tenantID, string(eventType))
	if err != nil {
		return nil, errors.Wrap(err, "list active rules")
	}
	defer rows.Close()

	var res []autoflow.Rule
	for rows.Next() {
		r, err := ruleScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func marshalRule(r *autoflow.Rule) (condition, action, meta []byte, err error) {
	condition, err = json.Marshal(r.Condition)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "marshal rule condition")
	}

	action, err = json.Marshal(r.Action)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "marshal rule action")
	}

	meta, err = json.Marshal(r.Meta)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "marshal rule meta")
	}

	return condition, action, meta, nil
}

func ruleScan(row row) (*autoflow.Rule, error) {
	var (
		r         autoflow.Rule
		eventType string
		condition []byte
		action    []byte
		meta      []byte
	)
	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.Name,
		&r.Priority,
		&r.Active,
		&eventType,
		&condition,
		&action,
		&meta,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(autoflow.ErrRuleNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "ruleScan")
	}

	r.EventType = autoflow.EventType(eventType)

	err = json.Unmarshal(condition, &r.Condition)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal rule condition")
	}

	err = json.Unmarshal(action, &r.Action)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal rule action")
	}

	err = json.Unmarshal(meta, &r.Meta)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal rule meta")
	}

	return &r, nil
}
