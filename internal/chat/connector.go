package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/query/sqldb"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// ConnectionSettings selects the database for a turn. Empty fields fall
// back to the server defaults.
type ConnectionSettings struct {
	Mode     string `json:"mode,omitempty"`
	Driver   string `json:"driver,omitempty"`
	Host     string `json:"host,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
}

type Connection struct {
	Engine   query.Engine
	ReadOnly bool
}

type Connector interface {
	Connect(ctx context.Context, settings ConnectionSettings) (Connection, error)
}

// PoolConnector resolves settings to a pooled database handle.
type PoolConnector struct {
	Pool      *database.Pool
	LocalPath string
	Defaults  ConnectionSettings
}

func (c *PoolConnector) Connect(ctx context.Context, settings ConnectionSettings) (Connection, error) {
	target, err := c.resolve(settings)
	if err != nil {
		return Connection{}, err
	}
	db, err := c.Pool.Acquire(ctx, target)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	dialect, err := sqldb.DialectFor(target.Kind)
	if err != nil {
		return Connection{}, err
	}
	return Connection{Engine: sqldb.NewEngine(db, dialect), ReadOnly: target.ReadOnly}, nil
}

func (c *PoolConnector) resolve(settings ConnectionSettings) (database.Target, error) {
	merged := mergeSettings(settings, c.Defaults)
	switch merged.Mode {
	case ModeLocal:
		target, err := database.LocalTarget(c.LocalPath)
		if err != nil {
			return database.Target{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return target, nil
	case ModeRemote:
		target, err := database.RemoteTarget(database.RemoteCredentials{
			Driver:   merged.Driver,
			Host:     merged.Host,
			User:     merged.User,
			Password: merged.Password,
			Database: merged.Database,
		})
		if errors.Is(err, database.ErrMissingCredentials) {
			return database.Target{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		if err != nil {
			return database.Target{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		return target, nil
	default:
		return database.Target{}, fmt.Errorf("%w: unknown database mode %q", ErrConfiguration, merged.Mode)
	}
}

func mergeSettings(settings, defaults ConnectionSettings) ConnectionSettings {
	pick := func(value, fallback string) string {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(fallback)
	}
	merged := ConnectionSettings{
		Mode:   strings.ToLower(pick(settings.Mode, defaults.Mode)),
		Driver: strings.ToLower(pick(settings.Driver, defaults.Driver)),
	}
	if merged.Mode == "" {
		merged.Mode = ModeLocal
	}
	if merged.Mode != ModeRemote {
		return merged
	}
	// A caller that names its own host does not inherit the server's
	// credentials.
	if strings.TrimSpace(settings.Host) != "" {
		merged.Host = strings.TrimSpace(settings.Host)
		merged.User = strings.TrimSpace(settings.User)
		merged.Password = settings.Password
		merged.Database = strings.TrimSpace(settings.Database)
		return merged
	}
	merged.Host = pick(settings.Host, defaults.Host)
	merged.User = pick(settings.User, defaults.User)
	merged.Password = settings.Password
	if merged.Password == "" {
		merged.Password = defaults.Password
	}
	merged.Database = pick(settings.Database, defaults.Database)
	return merged
}
