package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const (
	MYSQLDriver SQLDriver = "mysql"
	PGDriver    SQLDriver = "pg"
)

type SQLDriver string

// NewSQLStore creates a saga store on mysql or postgres.
// driver param is required because of https://github.com/golang/go/issues/3602. Better this than +1 dependency or copy pasting code
func NewSQLStore(db *sql.DB, driver SQLDriver) (Store, error) {
	s := &sqlStore{db: db, driver: driver}
	if err := s.initTables(); err != nil {
		return nil, errors.Wrapf(err, "initializing tables for saga store, driver %s", driver)
	}

	return s, nil
}

type sqlStore struct {
	db     *sql.DB
	driver SQLDriver
}

// instancePayload is the serialized part of an instance: the definition it
// was started with, the accumulated values and per-step states. Keeping the
// definition inside makes instances resumable without a definition registry.
type instancePayload struct {
	Definition Definition             `json:"definition"`
	Values     map[string]interface{} `json:"values"`
	Steps      []StepState            `json:"steps"`
}

func (s *sqlStore) Create(ctx context.Context, instance *Instance) error {
	payload, err := marshalInstancePayload(instance)

	if err != nil {
		return errors.WithStack(err)
	}

	_, err = s.db.ExecContext(
		ctx,
		s.prepQuery(fmt.Sprintf("INSERT INTO %v (uid, parent_uid, name, correlation_id, payload, status, current_step, version, last_error, started_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);", sagaTableName)),
		instance.UID(),
		instance.ParentID(),
		instance.Definition().Name,
		instance.CorrelationID(),
		payload,
		instance.Status().String(),
		instance.CurrentStep(),
		instance.Version(),
		instance.LastError(),
		instance.StartedAt(),
		instance.UpdatedAt(),
	)

	if err != nil {
		return errors.Wrapf(err, "inserting saga instance %s", instance.UID())
	}

	return nil
}

func (s *sqlStore) Update(ctx context.Context, instance *Instance) error {
	payload, err := marshalInstancePayload(instance)

	if err != nil {
		return errors.Wrapf(err, "marshaling saga instance %s on update", instance.UID())
	}

	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return errors.Wrapf(err, "beginning a transaction for saga %s", instance.UID())
	}

	res, err := tx.ExecContext(
		ctx,
		s.prepQuery(fmt.Sprintf("UPDATE %v SET payload=?, status=?, current_step=?, version=version+1, last_error=?, updated_at=? WHERE uid=? AND version=?;", sagaTableName)),
		payload,
		instance.Status().String(),
		instance.CurrentStep(),
		instance.LastError(),
		instance.UpdatedAt(),
		instance.UID(),
		instance.Version(),
	)

	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(rErr, "rollback when %s", err)
		}
		return errors.Wrapf(err, "updating saga instance %s", instance.UID())
	}

	affected, err := res.RowsAffected()

	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(rErr, "rollback when %s", err)
		}
		return errors.WithStack(err)
	}

	if affected == 0 {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrap(rErr, "rollback on version conflict")
		}
		return WithOptimisticLockErr(errors.Errorf("saga %s was advanced concurrently, update at version %d lost", instance.UID(), instance.Version()))
	}

	if err := s.insertMissingHistory(ctx, tx, instance); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(rErr, "rollback when %s", err)
		}
		return errors.WithStack(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing update of saga %s", instance.UID())
	}

	instance.version++

	return nil
}

func (s *sqlStore) insertMissingHistory(ctx context.Context, tx *sql.Tx, instance *Instance) error {
	rows, err := tx.QueryContext(ctx, s.prepQuery(fmt.Sprintf("SELECT uid FROM %v WHERE saga_uid=?;", sagaHistoryTableName)), instance.UID())

	if err != nil {
		return errors.Wrapf(err, "querying %s for saga_uid %s", sagaHistoryTableName, instance.UID())
	}

	defer rows.Close()

	var eventID string
	eventsIDs := make(map[string]struct{})

	for rows.Next() {
		if err := rows.Scan(&eventID); err != nil {
			return errors.Wrap(err, "scanning row")
		}

		eventsIDs[eventID] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return errors.WithStack(err)
	}

	if len(eventsIDs) >= len(instance.HistoryEvents()) {
		return nil
	}

	for _, ev := range instance.HistoryEvents() {
		if _, exists := eventsIDs[ev.UID]; exists {
			continue
		}

		_, err = tx.ExecContext(
			ctx,
			s.prepQuery(fmt.Sprintf("INSERT INTO %v (uid, saga_uid, step_name, status, description, created_at) VALUES (?, ?, ?, ?, ?, ?);", sagaHistoryTableName)),
			ev.UID,
			instance.UID(),
			ev.StepName,
			ev.SagaStatus,
			ev.Description,
			ev.CreatedAt,
		)

		if err != nil {
			return errors.Wrapf(err, "inserting history event %v for saga %s", ev, instance.UID())
		}
	}

	return nil
}

func (s *sqlStore) GetByID(ctx context.Context, sagaUID string) (*Instance, error) {
	model := sagaSqlModel{}

	err := s.db.QueryRowContext(
		ctx,
		s.prepQuery(fmt.Sprintf("SELECT uid, parent_uid, correlation_id, payload, status, current_step, version, last_error, started_at, updated_at FROM %v WHERE uid=?;", sagaTableName)),
		sagaUID,
	).Scan(
		&model.UID,
		&model.ParentUID,
		&model.CorrelationID,
		&model.Payload,
		&model.Status,
		&model.CurrentStep,
		&model.Version,
		&model.LastError,
		&model.StartedAt,
		&model.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "querying saga %s", sagaUID)
	}

	instance, err := instanceFromModel(model)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	history, err := s.queryHistory(ctx, sagaUID)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	instance.history = history

	return instance, nil
}

func (s *sqlStore) GetByFilter(ctx context.Context, filters ...FilterOption) (*Batch, error) {
	opts, err := applyFilters(filters)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	if opts.empty() && opts.limit == nil {
		return nil, errors.New("all specified filters are empty, you have to specify at least one so result won't be whole store")
	}

	var (
		args       []interface{}
		conditions string
	)

	if opts.sagaUID != "" {
		conditions += " AND uid = ?"
		args = append(args, opts.sagaUID)
	}

	if opts.status != "" {
		conditions += " AND status = ?"
		args = append(args, opts.status)
	}

	if opts.definitionName != "" {
		conditions += " AND name = ?"
		args = append(args, opts.definitionName)
	}

	if opts.correlationID != "" {
		conditions += " AND correlation_id = ?"
		args = append(args, opts.correlationID)
	}

	var total int

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %v WHERE 1=1%v;", sagaTableName, conditions)

	if err := s.db.QueryRowContext(ctx, s.prepQuery(countQuery), args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "counting sagas matching filter")
	}

	query := fmt.Sprintf("SELECT uid, parent_uid, correlation_id, payload, status, current_step, version, last_error, started_at, updated_at FROM %v WHERE 1=1%v ORDER BY started_at", sagaTableName, conditions)

	if opts.limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *opts.limit)
	}

	if opts.offset != nil {
		query += fmt.Sprintf(" OFFSET %d", *opts.offset)
	}

	query += ";"

	rows, err := s.db.QueryContext(ctx, s.prepQuery(query), args...)

	if err != nil {
		return nil, errors.Wrap(err, "querying sagas with filter")
	}

	defer rows.Close()

	var instances []*Instance

	for rows.Next() {
		model := sagaSqlModel{}

		if err := rows.Scan(
			&model.UID,
			&model.ParentUID,
			&model.CorrelationID,
			&model.Payload,
			&model.Status,
			&model.CurrentStep,
			&model.Version,
			&model.LastError,
			&model.StartedAt,
			&model.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scanning saga row")
		}

		instance, err := instanceFromModel(model)

		if err != nil {
			return nil, errors.WithStack(err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	for _, instance := range instances {
		history, err := s.queryHistory(ctx, instance.UID())

		if err != nil {
			return nil, errors.WithStack(err)
		}

		instance.history = history
	}

	return &Batch{Total: total, Items: instances}, nil
}

func (s *sqlStore) Delete(ctx context.Context, sagaUID string) error {
	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return errors.WithStack(err)
	}

	if _, err := tx.ExecContext(ctx, s.prepQuery(fmt.Sprintf("DELETE FROM %v WHERE saga_uid=?;", sagaHistoryTableName)), sagaUID); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(rErr, "rollback when %s", err)
		}
		return errors.Wrapf(err, "deleting history of saga %s", sagaUID)
	}

	if _, err := tx.ExecContext(ctx, s.prepQuery(fmt.Sprintf("DELETE FROM %v WHERE uid=?;", sagaTableName)), sagaUID); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Wrapf(rErr, "rollback when %s", err)
		}
		return errors.Wrapf(err, "deleting saga %s", sagaUID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing deletion of saga %s", sagaUID)
	}

	return nil
}

func (s *sqlStore) queryHistory(ctx context.Context, sagaUID string) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.prepQuery(fmt.Sprintf("SELECT uid, step_name, status, description, created_at FROM %v WHERE saga_uid=? ORDER BY created_at;", sagaHistoryTableName)),
		sagaUID,
	)

	if err != nil {
		return nil, errors.Wrapf(err, "querying history of saga %s", sagaUID)
	}

	defer rows.Close()

	var history []HistoryEvent

	for rows.Next() {
		ev := HistoryEvent{}

		if err := rows.Scan(&ev.UID, &ev.StepName, &ev.SagaStatus, &ev.Description, &ev.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning history row")
		}

		history = append(history, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return history, nil
}

func marshalInstancePayload(instance *Instance) ([]byte, error) {
	payload, err := json.Marshal(instancePayload{
		Definition: instance.definition,
		Values:     instance.values,
		Steps:      instance.steps,
	})

	if err != nil {
		return nil, errors.Wrapf(err, "marshaling payload of saga %s", instance.UID())
	}

	return payload, nil
}

func instanceFromModel(model sagaSqlModel) (*Instance, error) {
	status, err := StatusFromStr(model.Status.String)

	if err != nil {
		return nil, errors.WithStack(err)
	}

	payload := instancePayload{}

	if err := json.Unmarshal([]byte(model.Payload.String), &payload); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling payload of saga %s", model.UID.String)
	}

	instance := &Instance{
		uid:           model.UID.String,
		parentID:      model.ParentUID.String,
		definition:    payload.Definition,
		correlationID: model.CorrelationID.String,
		values:        payload.Values,
		steps:         payload.Steps,
		currentStep:   int(model.CurrentStep.Int64),
		status:        status,
		version:       model.Version.Int64,
		lastError:     model.LastError.String,
	}

	if instance.values == nil {
		instance.values = make(map[string]interface{})
	}

	if model.StartedAt.Valid {
		instance.startedAt = &model.StartedAt.Time
	}

	if model.UpdatedAt.Valid {
		instance.updatedAt = &model.UpdatedAt.Time
	}

	return instance, nil
}

type sagaSqlModel struct {
	UID           sql.NullString
	ParentUID     sql.NullString
	CorrelationID sql.NullString
	Payload       sql.NullString
	Status        sql.NullString
	CurrentStep   sql.NullInt64
	Version       sql.NullInt64
	LastError     sql.NullString
	StartedAt     sql.NullTime
	UpdatedAt     sql.NullTime
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
	var queries []string

	if s.driver == MYSQLDriver {
		queries = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	uid varchar(255) NOT NULL,
	parent_uid varchar(255) NULL,
	name varchar(255) NOT NULL,
	correlation_id varchar(255) NULL,
	payload text,
	status varchar(255) NOT NULL,
	current_step int NOT NULL DEFAULT 0,
	version bigint NOT NULL DEFAULT 0,
	last_error text,
	started_at timestamp(6) NULL,
	updated_at timestamp(6) NULL,
	PRIMARY KEY (uid),
	KEY idx_status (status)
) ENGINE=InnoDB;`, sagaTableName),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	uid varchar(255) NOT NULL,
	saga_uid varchar(255) NOT NULL,
	step_name varchar(255) NULL,
	status varchar(255) NOT NULL,
	description text,
	created_at timestamp(6) NULL,
	PRIMARY KEY (uid),
	KEY idx_saga_uid (saga_uid),
	FOREIGN KEY (saga_uid) REFERENCES %v (uid)
) ENGINE=InnoDB;`, sagaHistoryTableName, sagaTableName),
		}
	} else {
		queries = []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	uid varchar(255) NOT NULL,
	parent_uid varchar(255) NULL,
	name varchar(255) NOT NULL,
	correlation_id varchar(255) NULL,
	payload text,
	status varchar(255) NOT NULL,
	current_step int NOT NULL DEFAULT 0,
	version bigint NOT NULL DEFAULT 0,
	last_error text,
	started_at timestamp NULL,
	updated_at timestamp NULL,
	PRIMARY KEY (uid)
);`, sagaTableName),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %v (
	uid varchar(255) NOT NULL,
	saga_uid varchar(255) NOT NULL,
	step_name varchar(255) NULL,
	status varchar(255) NOT NULL,
	description text,
	created_at timestamp NULL,
	PRIMARY KEY (uid),
	FOREIGN KEY (saga_uid) REFERENCES %v (uid)
);`, sagaHistoryTableName, sagaTableName),
		}
	}

	tx, err := s.db.Begin()

	if err != nil {
		return errors.WithStack(err)
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				return errors.Wrapf(rErr, "rollback when %s", err)
			}
			return errors.WithStack(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
