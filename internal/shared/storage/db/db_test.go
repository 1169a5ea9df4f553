package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type nopDriver struct{}

func (d nopDriver) Open(name string) (driver.Conn, error) {
	return nopConn{}, nil
}

type nopConn struct{}

func (nopConn) Prepare(query string) (driver.Stmt, error) { return nopStmt{}, nil }
func (nopConn) Close() error                              { return nil }
func (nopConn) Begin() (driver.Tx, error)                 { return nopTx{}, nil }
func (nopConn) Ping(ctx context.Context) error            { return nil }

type nopStmt struct{}

func (nopStmt) Close() error                                    { return nil }
func (nopStmt) NumInput() int                                   { return -1 }
func (nopStmt) Exec(args []driver.Value) (driver.Result, error) { return nopResult{}, nil }
func (nopStmt) Query(args []driver.Value) (driver.Rows, error)  { return nopRows{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

type nopResult struct{}

func (nopResult) LastInsertId() (int64, error) { return 0, nil }
func (nopResult) RowsAffected() (int64, error) { return 0, nil }

type nopRows struct{}

func (nopRows) Columns() []string              { return []string{} }
func (nopRows) Close() error                   { return nil }
func (nopRows) Next(dest []driver.Value) error { return driver.ErrBadConn }

var registerTestDriverOnce sync.Once

func ensureTestDriverRegistered() {
	registerTestDriverOnce.Do(func() {
		sql.Register("dbtest", nopDriver{})
	})
}

func withTestDriver(t *testing.T) func() {
	t.Helper()
	ensureTestDriverRegistered()
	prev := openDB
	openDB = func(name, dsn string) (*sql.DB, error) {
		return sql.Open("dbtest", dsn)
	}
	return func() {
		openDB = prev
	}
}

func TestSharedPoolReturnsSamePointer(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()

	pool := newSharedPool()
	db1, err := pool.get(context.Background(), "ignored", Defaults(RoleLambda))
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	db2, err := pool.get(context.Background(), "ignored", Defaults(RoleLambda))
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if db1 != db2 {
		t.Fatalf("expected pooled pointers to match")
	}
}

func TestSharedPoolRetriesAfterFailure(t *testing.T) {
	var calls int32
	prev := openDB
	openDB = func(name, dsn string) (*sql.DB, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, driver.ErrBadConn
		}
		ensureTestDriverRegistered()
		return sql.Open("dbtest", dsn)
	}
	defer func() { openDB = prev }()
	ensureTestDriverRegistered()

	pool := newSharedPool()
	if _, err := pool.get(context.Background(), "ignored", Defaults(RoleLambda)); err == nil {
		t.Fatalf("expected first call to fail")
	}
	db2, err := pool.get(context.Background(), "ignored", Defaults(RoleLambda))
	if err != nil || db2 == nil {
		t.Fatalf("expected second call to succeed: %v", err)
	}
}

func TestOpenAppliesEnvOverrides(t *testing.T) {
	restore := withTestDriver(t)
	defer restore()

	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_CONN_MAX_LIFETIME", "20m")
	t.Setenv("DB_PING_TIMEOUT", "bogus")

	db, err := Open(context.Background(), "ignored", RoleAPI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if got := db.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("expected MaxOpenConnections=7, got %d", got)
	}

	opts := OptionsFromEnv(Defaults(RoleAPI))
	if opts.ConnMaxLifetime != 20*time.Minute {
		t.Fatalf("expected ConnMaxLifetime=20m, got %s", opts.ConnMaxLifetime)
	}
	if opts.PingTimeout != 5*time.Second {
		t.Fatalf("expected invalid duration to keep the default, got %s", opts.PingTimeout)
	}
}

func TestWorkerPoolFollowsConcurrency(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "20")
	if got := Defaults(RoleWorker).MaxOpenConns; got != 22 {
		t.Fatalf("expected 22 conns for 20 workers, got %d", got)
	}
	t.Setenv("WORKER_CONCURRENCY", "")
	if got := Defaults(RoleWorker).MaxOpenConns; got != 8 {
		t.Fatalf("expected default worker pool of 8, got %d", got)
	}
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	if _, err := Connect(context.Background(), "  ", Defaults(RoleMigrate)); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
