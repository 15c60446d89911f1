package mutex

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
)

const (
	MYSQLDriver SQLDriver = "mysql"
	PGDriver    SQLDriver = "pg"
)

type SQLDriver string

// NewSqlMutex returns a Mutex backed by server-side advisory locks (GET_LOCK
// on mysql, pg_advisory_lock on pg), so the lock holds across process
// replicas sharing one database. Every locked saga pins a dedicated
// connection until Release; the lock dies with that connection.
func NewSqlMutex(db *sql.DB, driver SQLDriver) Mutex {
	return &sqlMutex{db: db, driver: driver, connections: make(map[string]*sql.Conn)}
}

type sqlMutex struct {
	db     *sql.DB
	driver SQLDriver

	mapLock     sync.Mutex
	connections map[string]*sql.Conn
}

func (m *sqlMutex) Lock(ctx context.Context, sagaID string) error {
	conn, err := m.acquireConn(ctx, sagaID)

	if err != nil {
		return err
	}

	if err := m.acquireLock(ctx, conn, sagaID); err != nil {
		if closingErr := conn.Close(); closingErr != nil {
			return WithMutexErr(errors.Wrapf(err, "acquiring lock for saga %s, also failed to close the connection: %s", sagaID, closingErr))
		}

		return WithMutexErr(errors.Wrapf(err, "acquiring lock for saga %s", sagaID))
	}

	// the advisory lock is granted, concurrent Lock calls for this saga are
	// parked server-side inside acquireLock, never here
	m.mapLock.Lock()
	defer m.mapLock.Unlock()

	m.connections[sagaID] = conn

	return nil
}

func (m *sqlMutex) Release(ctx context.Context, sagaID string) error {
	m.mapLock.Lock()
	conn, exists := m.connections[sagaID]
	if !exists {
		m.mapLock.Unlock()
		return WithMutexErr(errors.Errorf("no connection holds the lock of saga %s, was Release() called before Lock()?", sagaID))
	}

	delete(m.connections, sagaID)
	m.mapLock.Unlock()

	if err := m.releaseLock(ctx, conn, sagaID); err != nil {
		if closingErr := conn.Close(); closingErr != nil {
			return WithMutexErr(errors.Wrapf(err, "releasing lock for saga %s, also failed to close the connection: %s", sagaID, closingErr))
		}

		return WithMutexErr(errors.Wrapf(err, "releasing lock for saga %s", sagaID))
	}

	if err := conn.Close(); err != nil {
		return WithMutexErr(errors.Wrapf(err, "closing the lock connection of saga %s", sagaID))
	}

	return nil
}

// acquireConn checks a dedicated connection out of the pool. With pgx,
// database/sql sometimes hands out a connection the server already closed,
// so pg connections are pinged before use.
// https://github.com/golang/go/issues/39449
// https://github.com/golang/go/issues/32530
func (m *sqlMutex) acquireConn(ctx context.Context, sagaID string) (*sql.Conn, error) {
	const retries = 3

	for i := 0; ; i++ {
		conn, err := m.db.Conn(ctx)

		if err != nil {
			return nil, WithMutexErr(errors.Wrapf(err, "obtaining a connection from the pool for saga %s", sagaID))
		}

		if m.driver != PGDriver {
			return conn, nil
		}

		if pingErr := conn.PingContext(ctx); pingErr == nil || i == retries-1 {
			return conn, nil
		}

		if err := conn.Close(); err != nil {
			return nil, WithMutexErr(errors.Wrapf(err, "closing a dead connection of saga %s", sagaID))
		}
	}
}

func (m *sqlMutex) acquireLock(ctx context.Context, conn *sql.Conn, sagaID string) error {
	if m.driver == MYSQLDriver {
		// a negative timeout waits until the lock is granted: 1 means granted,
		// 0 a timeout, NULL a server-side error
		r := sql.NullInt64{}
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, -1);", sagaID).Scan(&r); err != nil {
			return err
		}

		if r.Int64 != 1 {
			return errors.Errorf("server returned %d instead of granting the lock", r.Int64)
		}

		return nil
	}

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1));", sagaID)

	return err
}

func (m *sqlMutex) releaseLock(ctx context.Context, conn *sql.Conn, sagaID string) error {
	if m.driver == MYSQLDriver {
		r := sql.NullInt64{}
		if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?);", sagaID).Scan(&r); err != nil {
			return err
		}

		if r.Int64 != 1 {
			return errors.New("the lock is not held by this connection")
		}

		return nil
	}

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1));", sagaID)

	return err
}
