package database

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrMissingCredentials is returned when a remote target lacks one of
// host, user, password or database.
var ErrMissingCredentials = errors.New("missing database credentials")

const (
	KindDuckDB   = "duckdb"
	KindPostgres = "postgres"
	KindMySQL    = "mysql"
)

// Target identifies one database to connect to.
type Target struct {
	Kind     string
	DSN      string
	ReadOnly bool
}

func (t Target) DriverName() string {
	if t.Kind == KindPostgres {
		return "pgx"
	}
	return t.Kind
}

func (t Target) key() string {
	return fmt.Sprintf("%s|%t|%s", t.Kind, t.ReadOnly, t.DSN)
}

// LocalTarget opens the embedded DuckDB file without write access.
func LocalTarget(path string) (Target, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Target{}, fmt.Errorf("local database path is required")
	}
	return Target{Kind: KindDuckDB, DSN: path + "?access_mode=READ_ONLY", ReadOnly: true}, nil
}

type RemoteCredentials struct {
	Driver   string
	Host     string
	User     string
	Password string
	Database string
}

func (c RemoteCredentials) Missing() []string {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(c.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(c.User) == "" {
		missing = append(missing, "user")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(c.Database) == "" {
		missing = append(missing, "database")
	}
	return missing
}

func RemoteTarget(creds RemoteCredentials) (Target, error) {
	if missing := creds.Missing(); len(missing) > 0 {
		return Target{}, fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	host := strings.TrimSpace(creds.Host)
	user := strings.TrimSpace(creds.User)
	name := strings.TrimSpace(creds.Database)

	switch strings.ToLower(strings.TrimSpace(creds.Driver)) {
	case KindMySQL, "":
		cfg := mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = host
		cfg.User = user
		cfg.Passwd = creds.Password
		cfg.DBName = name
		cfg.ParseTime = true
		return Target{Kind: KindMySQL, DSN: cfg.FormatDSN()}, nil
	case KindPostgres, "pgx":
		dsn := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(user, creds.Password),
			Host:   host,
			Path:   "/" + name,
		}
		return Target{Kind: KindPostgres, DSN: dsn.String()}, nil
	default:
		return Target{}, fmt.Errorf("unsupported remote driver %q", creds.Driver)
	}
}
