package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

type fakeOpener struct {
	t      *testing.T
	opened []string
	mocks  []sqlmock.Sqlmock
	ping   error
}

func (f *fakeOpener) open(driverName, dsn string) (*sql.DB, error) {
	f.t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		f.t.Fatalf("sqlmock.New() error = %v", err)
	}
	f.t.Cleanup(func() { _ = db.Close() })
	if f.ping != nil {
		mock.ExpectPing().WillReturnError(f.ping)
		mock.ExpectClose()
	} else {
		mock.ExpectPing()
	}
	f.opened = append(f.opened, driverName+" "+dsn)
	f.mocks = append(f.mocks, mock)
	return db, nil
}

func TestPoolReusesHandleWithinTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opener := &fakeOpener{t: t}
	pool := newPool(PoolConfig{Expiry: ExpiryPolicy{TTL: 2 * time.Hour}}, opener.open, func() time.Time { return now })

	target, err := LocalTarget("student.duckdb")
	if err != nil {
		t.Fatalf("LocalTarget() error = %v", err)
	}
	first, err := pool.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	now = now.Add(time.Hour)
	second, err := pool.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first != second {
		t.Fatal("expected cached handle within TTL")
	}
	if len(opener.opened) != 1 || opener.opened[0] != "duckdb student.duckdb?access_mode=READ_ONLY" {
		t.Fatalf("opened = %#v", opener.opened)
	}
}

func TestPoolReopensAfterTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opener := &fakeOpener{t: t}
	pool := newPool(PoolConfig{Expiry: ExpiryPolicy{TTL: 2 * time.Hour}}, opener.open, func() time.Time { return now })
	target, _ := LocalTarget("student.duckdb")

	first, err := pool.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	opener.mocks[0].ExpectClose()

	now = now.Add(2 * time.Hour)
	second, err := pool.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first == second {
		t.Fatal("expected a new handle after TTL")
	}
	if len(opener.opened) != 2 {
		t.Fatalf("opened = %#v", opener.opened)
	}
	if err := opener.mocks[0].ExpectationsWereMet(); err != nil {
		t.Fatalf("expired handle not closed: %v", err)
	}
}

func TestPoolSweepsExpiredHandlesOfOtherTargets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opener := &fakeOpener{t: t}
	pool := newPool(PoolConfig{Expiry: ExpiryPolicy{TTL: 2 * time.Hour}}, opener.open, func() time.Time { return now })

	for _, host := range []string{"db1:5432", "db2:5432", "db3:5432"} {
		remote, err := RemoteTarget(RemoteCredentials{Driver: "postgres", Host: host, User: "reader", Password: "pw", Database: "school"})
		if err != nil {
			t.Fatalf("RemoteTarget() error = %v", err)
		}
		if _, err := pool.Acquire(context.Background(), remote); err != nil {
			t.Fatalf("Acquire(%s) error = %v", host, err)
		}
	}
	for _, mock := range opener.mocks {
		mock.ExpectClose()
	}

	now = now.Add(24 * time.Hour)
	local, _ := LocalTarget("student.duckdb")
	if _, err := pool.Acquire(context.Background(), local); err != nil {
		t.Fatalf("Acquire(local) error = %v", err)
	}
	if len(pool.handles) != 1 {
		t.Fatalf("handles = %d, want 1", len(pool.handles))
	}
	for i, mock := range opener.mocks[:3] {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expired handle %d not closed: %v", i, err)
		}
	}
}

func TestPoolServesCachedHandleWhileAnotherTargetOpens(t *testing.T) {
	base := &fakeOpener{t: t}
	remote, err := RemoteTarget(RemoteCredentials{Driver: "postgres", Host: "slow:5432", User: "reader", Password: "pw", Database: "school"})
	if err != nil {
		t.Fatalf("RemoteTarget() error = %v", err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	open := func(driverName, dsn string) (*sql.DB, error) {
		if dsn == remote.DSN {
			close(entered)
			<-release
		}
		return base.open(driverName, dsn)
	}
	pool := newPool(PoolConfig{}, open, time.Now)
	local, _ := LocalTarget("student.duckdb")
	cached, err := pool.Acquire(context.Background(), local)
	if err != nil {
		t.Fatalf("Acquire(local) error = %v", err)
	}

	remoteDone := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), remote)
		remoteDone <- err
	}()
	<-entered

	localDone := make(chan *sql.DB, 1)
	go func() {
		db, _ := pool.Acquire(context.Background(), local)
		localDone <- db
	}()
	select {
	case db := <-localDone:
		if db != cached {
			t.Fatal("expected the cached local handle")
		}
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("Acquire of a cached target waited for another target to open")
	}

	close(release)
	if err := <-remoteDone; err != nil {
		t.Fatalf("Acquire(remote) error = %v", err)
	}
}

func TestPoolKeepsSeparateHandlesPerTarget(t *testing.T) {
	opener := &fakeOpener{t: t}
	pool := newPool(PoolConfig{}, opener.open, time.Now)
	local, _ := LocalTarget("student.duckdb")
	remote, err := RemoteTarget(RemoteCredentials{Driver: "postgres", Host: "db:5432", User: "reader", Password: "pw", Database: "school"})
	if err != nil {
		t.Fatalf("RemoteTarget() error = %v", err)
	}

	a, err := pool.Acquire(context.Background(), local)
	if err != nil {
		t.Fatalf("Acquire(local) error = %v", err)
	}
	b, err := pool.Acquire(context.Background(), remote)
	if err != nil {
		t.Fatalf("Acquire(remote) error = %v", err)
	}
	if a == b {
		t.Fatal("expected distinct handles per target")
	}
	if opener.opened[1] != "pgx postgres://reader:pw@db:5432/school" {
		t.Fatalf("opened = %#v", opener.opened)
	}

	for _, mock := range opener.mocks {
		mock.ExpectClose()
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, mock := range opener.mocks {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet sql expectations: %v", err)
		}
	}
	if _, err := pool.Acquire(context.Background(), local); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire() after Close error = %v", err)
	}
}

func TestPoolClosesHandleWhenPingFails(t *testing.T) {
	boom := errors.New("connection refused")
	opener := &fakeOpener{t: t, ping: boom}
	pool := newPool(PoolConfig{}, opener.open, time.Now)
	target, _ := LocalTarget("student.duckdb")

	if _, err := pool.Acquire(context.Background(), target); !errors.Is(err, boom) {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := opener.mocks[0].ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRemoteTargetRequiresAllCredentials(t *testing.T) {
	_, err := RemoteTarget(RemoteCredentials{Driver: "mysql", Host: "db", User: "reader"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("RemoteTarget() error = %v", err)
	}
	if !strings.Contains(err.Error(), "password, database") {
		t.Fatalf("error = %v", err)
	}
}

func TestRemoteTargetBuildsMySQLDSN(t *testing.T) {
	target, err := RemoteTarget(RemoteCredentials{Driver: "mysql", Host: "db.internal:3306", User: "reader", Password: "pw", Database: "school"})
	if err != nil {
		t.Fatalf("RemoteTarget() error = %v", err)
	}
	if target.Kind != KindMySQL || target.DriverName() != "mysql" || target.ReadOnly {
		t.Fatalf("target = %#v", target)
	}
	if !strings.HasPrefix(target.DSN, "reader:pw@tcp(db.internal:3306)/school") || !strings.Contains(target.DSN, "parseTime=true") {
		t.Fatalf("DSN = %q", target.DSN)
	}
}

func TestRemoteTargetRejectsUnknownDriver(t *testing.T) {
	_, err := RemoteTarget(RemoteCredentials{Driver: "oracle", Host: "h", User: "u", Password: "p", Database: "d"})
	if err == nil || errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("RemoteTarget() error = %v", err)
	}
}
