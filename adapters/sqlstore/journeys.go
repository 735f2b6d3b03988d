package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/autoflow"
)

type JourneyStore struct {
	writer *sql.DB
	reader *sql.DB

	tableName    string
	cols         string
	selectPrefix string
}

func NewJourneyStore(writer *sql.DB, reader *sql.DB, tableName string) *JourneyStore {
	s := &JourneyStore{
		writer:    writer,
		reader:    reader,
		tableName: tableName,
	}

	s.cols = " `id`, `tenant_id`, `name`, `kind`, `active`, `steps`, `created_at`, `updated_at` "
	s.selectPrefix = " select " + s.cols + " from " + s.tableName + " where "

	return s
}

var _ autoflow.JourneyStore = (*JourneyStore)(nil)

func (s *JourneyStore) Create(ctx context.Context, jn *autoflow.Journey) (int64, error) {
	steps, err := json.Marshal(jn.Steps)
	if err != nil {
		return 0, errors.Wrap(err, "marshal journey steps")
	}

	resp, err := s.writer.ExecContext(ctx, "insert into "+s.tableName+" set "+
		" tenant_id=?, name=?, kind=?, active=?, steps=?, created_at=?, updated_at=? ",
		jn.TenantID,
		jn.Name,
		string(jn.Kind),
		jn.Active,
		steps,
		jn.CreatedAt,
		jn.UpdatedAt,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create journey", j.MKV{
			"tenant_id": jn.TenantID,
			"name":      jn.Name,
		})
	}

	id, err := resp.LastInsertId()
	if err != nil {
		return 0, err
	}

	jn.ID = id
	return id, nil
}

func (s *JourneyStore) Update(ctx context.Context, jn *autoflow.Journey) error {
	steps, err := json.Marshal(jn.Steps)
	if err != nil {
		return errors.Wrap(err, "marshal journey steps")
	}

	resp, err := s.writer.ExecContext(ctx, "update "+s.tableName+" set "+
		" name=?, kind=?, active=?, steps=?, updated_at=? where id=? and tenant_id=?",
		jn.Name,
		string(jn.Kind),
		jn.Active,
		steps,
		jn.UpdatedAt,
		jn.ID,
		jn.TenantID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update journey", j.MKV{
			"journey_id": jn.ID,
		})
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return errors.Wrap(autoflow.ErrJourneyNotFound, "", j.MKV{"journey_id": jn.ID})
	}

	return nil
}

func (s *JourneyStore) Lookup(ctx context.Context, tenantID, id int64) (*autoflow.Journey, error) {
	return journeyScan(s.reader.QueryRowContext(ctx, s.selectPrefix+"id=? and tenant_id=?", id, tenantID))
}

func journeyScan(row row) (*autoflow.Journey, error) {
	var (
		jn    autoflow.Journey
		kind  string
		steps []byte
	)
	err := row.Scan(
		&jn.ID,
		&jn.TenantID,
		&jn.Name,
		&kind,
		&jn.Active,
		&steps,
		&jn.CreatedAt,
		&jn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(autoflow.ErrJourneyNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "journeyScan")
	}

	jn.Kind = autoflow.JourneyKind(kind)

	err = json.Unmarshal(steps, &jn.Steps)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal journey steps")
	}

	return &jn, nil
}
