package retry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	MYSQLDriver SQLDriver = "mysql"
	PGDriver    SQLDriver = "pg"

	processingTableName = "event_processing"
)

type SQLDriver string

// NewSQLStore creates a processing store on mysql or postgres.
// driver param is required because of https://github.com/golang/go/issues/3602. Better this than +1 dependency or copy pasting code
func NewSQLStore(db *sql.DB, driver SQLDriver) (Store, error) {
	s := &sqlStore{db: db, driver: driver}
	if err := s.initTables(); err != nil {
		return nil, errors.Wrapf(err, "initializing tables for processing store, driver %s", driver)
	}

	return s, nil
}

type sqlStore struct {
	db     *sql.DB
	driver SQLDriver
}

func (s *sqlStore) Get(ctx context.Context, eventID, handlerID string) (*Processing, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.prepQuery(fmt.Sprintf("SELECT event_id, handler_id, stream, sequence_number, status, priority, attempt_count, started_at, completed_at, next_retry_at, last_error FROM %v WHERE event_id=? AND handler_id=?;", processingTableName)),
		eventID,
		handlerID,
	)

	p, err := scanProcessing(row)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "querying processing row for event %s handler %s", eventID, handlerID)
	}

	return p, nil
}

func (s *sqlStore) Create(ctx context.Context, p *Processing) error {
	_, err := s.db.ExecContext(
		ctx,
		s.prepQuery(fmt.Sprintf("INSERT INTO %v (event_id, handler_id, stream, sequence_number, status, priority, attempt_count, started_at, completed_at, next_retry_at, last_error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);", processingTableName)),
		p.EventID,
		p.HandlerID,
		p.Stream,
		p.SequenceNumber,
		p.Status.String(),
		p.Priority,
		p.AttemptCount,
		p.StartedAt,
		p.CompletedAt,
		p.NextRetryAt,
		p.LastError,
	)

	if err != nil {
		return errors.Wrapf(err, "inserting processing row for event %s handler %s", p.EventID, p.HandlerID)
	}

	return nil
}

func (s *sqlStore) Update(ctx context.Context, p *Processing) error {
	res, err := s.db.ExecContext(
		ctx,
		s.prepQuery(fmt.Sprintf("UPDATE %v SET status=?, priority=?, attempt_count=?, started_at=?, completed_at=?, next_retry_at=?, last_error=? WHERE event_id=? AND handler_id=?;", processingTableName)),
		p.Status.String(),
		p.Priority,
		p.AttemptCount,
		p.StartedAt,
		p.CompletedAt,
		p.NextRetryAt,
		p.LastError,
		p.EventID,
		p.HandlerID,
	)

	if err != nil {
		return errors.Wrapf(err, "updating processing row for event %s handler %s", p.EventID, p.HandlerID)
	}

	affected, err := res.RowsAffected()

	if err == nil && affected == 0 {
		return errors.Errorf("processing row for event %s handler %s does not exist", p.EventID, p.HandlerID)
	}

	return nil
}

func (s *sqlStore) Due(ctx context.Context, now time.Time, limit int) ([]*Processing, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.prepQuery(fmt.Sprintf("SELECT event_id, handler_id, stream, sequence_number, status, priority, attempt_count, started_at, completed_at, next_retry_at, last_error FROM %v WHERE status=? AND next_retry_at <= ? ORDER BY priority DESC, next_retry_at ASC LIMIT %d;", processingTableName, limit)),
		StatusRetrying.String(),
		now,
	)

	if err != nil {
		return nil, errors.Wrap(err, "querying due processing rows")
	}

	defer rows.Close()

	return collectProcessingRows(rows)
}

func (s *sqlStore) DeadLettered(ctx context.Context, offset, limit int) ([]*Processing, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.prepQuery(fmt.Sprintf("SELECT event_id, handler_id, stream, sequence_number, status, priority, attempt_count, started_at, completed_at, next_retry_at, last_error FROM %v WHERE status=? ORDER BY event_id LIMIT %d OFFSET %d;", processingTableName, limit, offset)),
		StatusDeadLetter.String(),
	)

	if err != nil {
		return nil, errors.Wrap(err, "querying dead lettered rows")
	}

	defer rows.Close()

	return collectProcessingRows(rows)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanProcessing(row scannable) (*Processing, error) {
	model := processingSqlModel{}

	if err := row.Scan(
		&model.EventID,
		&model.HandlerID,
		&model.Stream,
		&model.SequenceNumber,
		&model.Status,
		&model.Priority,
		&model.AttemptCount,
		&model.StartedAt,
		&model.CompletedAt,
		&model.NextRetryAt,
		&model.LastError,
	); err != nil {
		return nil, err
	}

	status, err := StatusFromStr(model.Status.String)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	p := &Processing{
		EventID:        model.EventID.String,
		HandlerID:      model.HandlerID.String,
		Stream:         model.Stream.String,
		SequenceNumber: uint64(model.SequenceNumber.Int64),
		Status:         status,
		Priority:       int(model.Priority.Int64),
		AttemptCount:   int(model.AttemptCount.Int64),
		LastError:      model.LastError.String,
	}

	if model.StartedAt.Valid {
		p.StartedAt = &model.StartedAt.Time
	}

	if model.CompletedAt.Valid {
		p.CompletedAt = &model.CompletedAt.Time
	}

	if model.NextRetryAt.Valid {
		p.NextRetryAt = &model.NextRetryAt.Time
	}

	return p, nil
}

func collectProcessingRows(rows *sql.Rows) ([]*Processing, error) {
	var res []*Processing

	for rows.Next() {
		p, err := scanProcessing(rows)

		if err != nil {
			return nil, errors.Wrap(err, "scanning processing row")
		}

		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return res, nil
}

type processingSqlModel struct {
	EventID        sql.NullString
	HandlerID      sql.NullString
	Stream         sql.NullString
	SequenceNumber sql.NullInt64
	Status         sql.NullString
	Priority       sql.NullInt64
	AttemptCount   sql.NullInt64
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
	NextRetryAt    sql.NullTime
	LastError      sql.NullString
}

// prepQuery replaces the ? placeholders with $1, $2 etc in case of PGDriver
func (s *sqlStore) prepQuery(query string) string {
	if s.driver != PGDriver {
		return query
	}

	counter := 1
	res := ""

	for _, symbol := range query {
		if string(symbol) == "?" {
			res += "$" + strconv.Itoa(counter)
			counter++
			continue
		}
		res += string(symbol)
	}

	return res
}

func (s *sqlStore) initTables() error {
	var createTableQuery string

	if s.driver == MYSQLDriver {
		createTableQuery = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	event_id varchar(255) NOT NULL,
	handler_id varchar(255) NOT NULL,
	stream varchar(255) NOT NULL,
	sequence_number bigint unsigned NOT NULL,
	status varchar(255) NOT NULL,
	priority int NOT NULL DEFAULT 0,
	attempt_count int NOT NULL DEFAULT 0,
	started_at timestamp(6) NULL,
	completed_at timestamp(6) NULL,
	next_retry_at timestamp(6) NULL,
	last_error text,
	PRIMARY KEY (event_id, handler_id),
	KEY idx_status_next_retry (status, next_retry_at)
) ENGINE=InnoDB;`, processingTableName)
	} else {
		createTableQuery = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	event_id varchar(255) NOT NULL,
	handler_id varchar(255) NOT NULL,
	stream varchar(255) NOT NULL,
	sequence_number bigint NOT NULL,
	status varchar(255) NOT NULL,
	priority int NOT NULL DEFAULT 0,
	attempt_count int NOT NULL DEFAULT 0,
	started_at timestamp NULL,
	completed_at timestamp NULL,
	next_retry_at timestamp NULL,
	last_error text,
	PRIMARY KEY (event_id, handler_id)
);
CREATE INDEX IF NOT EXISTS idx_status_next_retry ON %v (status, next_retry_at);`, processingTableName, processingTableName)
	}

	tx, err := s.db.Begin()

	if err != nil {
		return errors.WithStack(err)
	}

	if _, err := tx.Exec(createTableQuery); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(rErr, "rollback when %s", err)
		}
		return errors.WithStack(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
