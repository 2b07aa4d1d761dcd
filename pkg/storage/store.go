package storage

import (
	"errors"

	"github.com/craftd/msm/pkg/types"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for supervisor state storage. Every read and
// mutation runs inside a scope: either an explicit WithTx block or a
// one-shot convenience method that opens its own scope. All results are
// value snapshots scanned into fresh structs; nothing handed out stays
// bound to the database, so callers may keep results after Close.
type Store interface {
	// WithTx runs fn inside one transaction, committing on nil and
	// rolling back on error or panic.
	WithTx(fn func(tx *Tx) error) error

	// Servers
	GetServer(id int64) (*types.Server, error)
	GetServerByName(name string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	ListRunningServers() ([]*types.Server, error)

	// Backups
	GetBackup(id int64) (*types.Backup, error)
	ListBackups() ([]*types.Backup, error)
	ListBackupsByServer(serverID int64) ([]*types.Backup, error)

	// Schedules
	GetSchedule(id int64) (*types.Schedule, error)
	ListSchedules() ([]*types.Schedule, error)
	ListEnabledSchedules() ([]*types.Schedule, error)
	ListSchedulesByServer(serverID int64) ([]*types.Schedule, error)

	// Plugins
	GetPlugin(id int64) (*types.Plugin, error)
	ListPluginsByServer(serverID int64) ([]*types.Plugin, error)

	// API keys
	GetAPIKeyByPrefix(prefix string) (*types.APIKey, error)
	ListAPIKeys() ([]*types.APIKey, error)
	CountActiveAPIKeys() (int, error)

	// Utility
	Close() error
}

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
