package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/craftd/msm/pkg/types"
)

// SQLiteStore implements Store backed by a single SQLite database file.
// The connection pool is capped at one connection so concurrent scopes
// serialize on the database itself rather than racing into SQLITE_BUSY.
type SQLiteStore struct {
	db *sqlx.DB
}

// Tx is one storage scope. All entity operations hang off it; a Tx is only
// valid inside the WithTx callback that produced it.
type Tx struct {
	tx *sqlx.Tx
}

// Open opens (or creates) the database file without touching its schema.
// Most callers want NewSQLiteStore; this exists for tooling that needs to
// inspect a database before deciding to migrate it.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore opens (or creates) the database at path and applies any
// pending migrations before returning.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// WithTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back when fn returns an error or panics.
func (s *SQLiteStore) WithTx(fn func(tx *Tx) error) error {
	txx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	done := false
	defer func() {
		if !done {
			txx.Rollback()
		}
	}()

	if err := fn(&Tx{tx: txx}); err != nil {
		return err
	}

	done = true
	if err := txx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Server operations

// InsertServer stores a new server row and returns its assigned ID.
func (t *Tx) InsertServer(srv *types.Server) (int64, error) {
	res, err := t.tx.NamedExec(`
		INSERT INTO servers (name, distro, version, dir, port, memory, java_path, java_args,
			restart_on_crash, running, pid, created_at, last_started, last_stopped)
		VALUES (:name, :distro, :version, :dir, :port, :memory, :java_path, :java_args,
			:restart_on_crash, :running, :pid, :created_at, :last_started, :last_stopped)`, srv)
	if err != nil {
		return 0, fmt.Errorf("failed to insert server: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read server id: %w", err)
	}
	return id, nil
}

// GetServer retrieves a server by ID.
func (t *Tx) GetServer(id int64) (*types.Server, error) {
	var srv types.Server
	err := t.tx.Get(&srv, `SELECT * FROM servers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &srv, nil
}

// GetServerByName retrieves a server by its unique name.
func (t *Tx) GetServerByName(name string) (*types.Server, error) {
	var srv types.Server
	err := t.tx.Get(&srv, `SELECT * FROM servers WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &srv, nil
}

// ListServers retrieves all servers ordered by name.
func (t *Tx) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	if err := t.tx.Select(&servers, `SELECT * FROM servers ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// ListRunningServers retrieves servers whose stored state says they run.
func (t *Tx) ListRunningServers() ([]*types.Server, error) {
	var servers []*types.Server
	if err := t.tx.Select(&servers, `SELECT * FROM servers WHERE running = 1 ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list running servers: %w", err)
	}
	return servers, nil
}

// UpdateServer rewrites every mutable column of a server row.
func (t *Tx) UpdateServer(srv *types.Server) error {
	res, err := t.tx.NamedExec(`
		UPDATE servers SET name = :name, distro = :distro, version = :version, dir = :dir,
			port = :port, memory = :memory, java_path = :java_path, java_args = :java_args,
			restart_on_crash = :restart_on_crash, running = :running, pid = :pid,
			last_started = :last_started, last_stopped = :last_stopped
		WHERE id = :id`, srv)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	return requireRow(res, "server")
}

// MarkServerStarted records a successful launch: running, PID and the
// start timestamp in one write.
func (t *Tx) MarkServerStarted(id int64, pid int32, at time.Time) error {
	res, err := t.tx.Exec(`UPDATE servers SET running = 1, pid = ?, last_started = ? WHERE id = ?`, pid, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark server started: %w", err)
	}
	return requireRow(res, "server")
}

// MarkServerStopped records an observed exit: not running, no PID, and the
// stop timestamp.
func (t *Tx) MarkServerStopped(id int64, at time.Time) error {
	res, err := t.tx.Exec(`UPDATE servers SET running = 0, pid = NULL, last_stopped = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark server stopped: %w", err)
	}
	return requireRow(res, "server")
}

// ClearServerRunState heals a stale row (claims running but the process is
// gone) without touching the stop timestamp.
func (t *Tx) ClearServerRunState(id int64) error {
	res, err := t.tx.Exec(`UPDATE servers SET running = 0, pid = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear server run state: %w", err)
	}
	return requireRow(res, "server")
}

// DeleteServer removes a server row.
func (t *Tx) DeleteServer(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return requireRow(res, "server")
}

// Backup operations

// InsertBackup stores a new backup row and returns its assigned ID.
func (t *Tx) InsertBackup(b *types.Backup) (int64, error) {
	res, err := t.tx.NamedExec(`
		INSERT INTO backups (server_id, server_name, path, size_bytes, kind, status, created_at)
		VALUES (:server_id, :server_name, :path, :size_bytes, :kind, :status, :created_at)`, b)
	if err != nil {
		return 0, fmt.Errorf("failed to insert backup: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read backup id: %w", err)
	}
	return id, nil
}

// GetBackup retrieves a backup by ID.
func (t *Tx) GetBackup(id int64) (*types.Backup, error) {
	var b types.Backup
	err := t.tx.Get(&b, `SELECT * FROM backups WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	return &b, nil
}

// ListBackups retrieves all backups, newest first.
func (t *Tx) ListBackups() ([]*types.Backup, error) {
	var backups []*types.Backup
	if err := t.tx.Select(&backups, `SELECT * FROM backups ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return backups, nil
}

// ListBackupsByServer retrieves backups for one server, newest first.
func (t *Tx) ListBackupsByServer(serverID int64) ([]*types.Backup, error) {
	var backups []*types.Backup
	if err := t.tx.Select(&backups, `SELECT * FROM backups WHERE server_id = ? ORDER BY created_at DESC, id DESC`, serverID); err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return backups, nil
}

// UpdateBackupStatus finalizes a backup row after the archive attempt.
func (t *Tx) UpdateBackupStatus(id int64, status types.BackupStatus, sizeBytes int64) error {
	res, err := t.tx.Exec(`UPDATE backups SET status = ?, size_bytes = ? WHERE id = ?`, status, sizeBytes, id)
	if err != nil {
		return fmt.Errorf("failed to update backup status: %w", err)
	}
	return requireRow(res, "backup")
}

// DeleteBackup removes a backup row.
func (t *Tx) DeleteBackup(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return requireRow(res, "backup")
}

// Schedule operations

// InsertSchedule stores a new schedule row and returns its assigned ID.
func (t *Tx) InsertSchedule(sc *types.Schedule) (int64, error) {
	res, err := t.tx.NamedExec(`
		INSERT INTO schedules (server_id, action, cron, payload, enabled, last_run, next_run, created_at)
		VALUES (:server_id, :action, :cron, :payload, :enabled, :last_run, :next_run, :created_at)`, sc)
	if err != nil {
		return 0, fmt.Errorf("failed to insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read schedule id: %w", err)
	}
	return id, nil
}

// GetSchedule retrieves a schedule by ID.
func (t *Tx) GetSchedule(id int64) (*types.Schedule, error) {
	var sc types.Schedule
	err := t.tx.Get(&sc, `SELECT * FROM schedules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &sc, nil
}

// ListSchedules retrieves all schedules.
func (t *Tx) ListSchedules() ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	if err := t.tx.Select(&schedules, `SELECT * FROM schedules ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// ListEnabledSchedules retrieves schedules eligible for dispatch.
func (t *Tx) ListEnabledSchedules() ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	if err := t.tx.Select(&schedules, `SELECT * FROM schedules WHERE enabled = 1 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list enabled schedules: %w", err)
	}
	return schedules, nil
}

// ListSchedulesByServer retrieves schedules attached to one server.
func (t *Tx) ListSchedulesByServer(serverID int64) ([]*types.Schedule, error) {
	var schedules []*types.Schedule
	if err := t.tx.Select(&schedules, `SELECT * FROM schedules WHERE server_id = ? ORDER BY id`, serverID); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// UpdateSchedule rewrites the mutable columns of a schedule row.
func (t *Tx) UpdateSchedule(sc *types.Schedule) error {
	res, err := t.tx.NamedExec(`
		UPDATE schedules SET action = :action, cron = :cron, payload = :payload,
			enabled = :enabled, last_run = :last_run, next_run = :next_run
		WHERE id = :id`, sc)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRow(res, "schedule")
}

// SetScheduleEnabled toggles a schedule without touching its run bookkeeping.
func (t *Tx) SetScheduleEnabled(id int64, enabled bool) error {
	res, err := t.tx.Exec(`UPDATE schedules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to toggle schedule: %w", err)
	}
	return requireRow(res, "schedule")
}

// MarkScheduleRun records a dispatch and the precomputed next fire time.
func (t *Tx) MarkScheduleRun(id int64, lastRun, nextRun time.Time) error {
	res, err := t.tx.Exec(`UPDATE schedules SET last_run = ?, next_run = ? WHERE id = ?`, lastRun, nextRun, id)
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	return requireRow(res, "schedule")
}

// DeleteSchedule removes a schedule row.
func (t *Tx) DeleteSchedule(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return requireRow(res, "schedule")
}

// DeleteSchedulesByServer removes every schedule attached to one server.
func (t *Tx) DeleteSchedulesByServer(serverID int64) error {
	if _, err := t.tx.Exec(`DELETE FROM schedules WHERE server_id = ?`, serverID); err != nil {
		return fmt.Errorf("failed to delete schedules: %w", err)
	}
	return nil
}

// Plugin operations

// InsertPlugin stores a new plugin row and returns its assigned ID.
func (t *Tx) InsertPlugin(p *types.Plugin) (int64, error) {
	res, err := t.tx.NamedExec(`
		INSERT INTO plugins (server_id, name, source, project_id, version, file_path, enabled, installed_at)
		VALUES (:server_id, :name, :source, :project_id, :version, :file_path, :enabled, :installed_at)`, p)
	if err != nil {
		return 0, fmt.Errorf("failed to insert plugin: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read plugin id: %w", err)
	}
	return id, nil
}

// GetPlugin retrieves a plugin by ID.
func (t *Tx) GetPlugin(id int64) (*types.Plugin, error) {
	var p types.Plugin
	err := t.tx.Get(&p, `SELECT * FROM plugins WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plugin: %w", err)
	}
	return &p, nil
}

// ListPluginsByServer retrieves plugins installed on one server.
func (t *Tx) ListPluginsByServer(serverID int64) ([]*types.Plugin, error) {
	var plugins []*types.Plugin
	if err := t.tx.Select(&plugins, `SELECT * FROM plugins WHERE server_id = ? ORDER BY name`, serverID); err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	return plugins, nil
}

// UpdatePlugin rewrites the mutable columns of a plugin row.
func (t *Tx) UpdatePlugin(p *types.Plugin) error {
	res, err := t.tx.NamedExec(`
		UPDATE plugins SET name = :name, source = :source, project_id = :project_id,
			version = :version, file_path = :file_path, enabled = :enabled
		WHERE id = :id`, p)
	if err != nil {
		return fmt.Errorf("failed to update plugin: %w", err)
	}
	return requireRow(res, "plugin")
}

// DeletePlugin removes a plugin row.
func (t *Tx) DeletePlugin(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM plugins WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plugin: %w", err)
	}
	return requireRow(res, "plugin")
}

// DeletePluginsByServer removes every plugin row for one server.
func (t *Tx) DeletePluginsByServer(serverID int64) error {
	if _, err := t.tx.Exec(`DELETE FROM plugins WHERE server_id = ?`, serverID); err != nil {
		return fmt.Errorf("failed to delete plugins: %w", err)
	}
	return nil
}

// API key operations

// InsertAPIKey stores a new API key row and returns its assigned ID.
func (t *Tx) InsertAPIKey(k *types.APIKey) (int64, error) {
	res, err := t.tx.NamedExec(`
		INSERT INTO api_keys (label, prefix, key_hash, permissions, active, created_at, last_used)
		VALUES (:label, :prefix, :key_hash, :permissions, :active, :created_at, :last_used)`, k)
	if err != nil {
		return 0, fmt.Errorf("failed to insert api key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read api key id: %w", err)
	}
	return id, nil
}

// GetAPIKeyByPrefix retrieves an API key by its public prefix.
func (t *Tx) GetAPIKeyByPrefix(prefix string) (*types.APIKey, error) {
	var k types.APIKey
	err := t.tx.Get(&k, `SELECT * FROM api_keys WHERE prefix = ?`, prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key %q: %w", prefix, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

// ListAPIKeys retrieves all API keys.
func (t *Tx) ListAPIKeys() ([]*types.APIKey, error) {
	var keys []*types.APIKey
	if err := t.tx.Select(&keys, `SELECT * FROM api_keys ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

// CountActiveAPIKeys reports how many keys can currently authenticate.
func (t *Tx) CountActiveAPIKeys() (int, error) {
	var n int
	if err := t.tx.Get(&n, `SELECT COUNT(*) FROM api_keys WHERE active = 1`); err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return n, nil
}

// SetAPIKeyActive toggles whether a key can authenticate.
func (t *Tx) SetAPIKeyActive(id int64, active bool) error {
	res, err := t.tx.Exec(`UPDATE api_keys SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to toggle api key: %w", err)
	}
	return requireRow(res, "api key")
}

// TouchAPIKey records the most recent successful authentication.
func (t *Tx) TouchAPIKey(id int64, at time.Time) error {
	res, err := t.tx.Exec(`UPDATE api_keys SET last_used = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return requireRow(res, "api key")
}

// DeleteAPIKey removes an API key row.
func (t *Tx) DeleteAPIKey(id int64) error {
	res, err := t.tx.Exec(`DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return requireRow(res, "api key")
}

// One-shot convenience wrappers. Each opens its own scope.

func (s *SQLiteStore) GetServer(id int64) (*types.Server, error) {
	return oneShot(s, func(tx *Tx) (*types.Server, error) { return tx.GetServer(id) })
}

func (s *SQLiteStore) GetServerByName(name string) (*types.Server, error) {
	return oneShot(s, func(tx *Tx) (*types.Server, error) { return tx.GetServerByName(name) })
}

func (s *SQLiteStore) ListServers() ([]*types.Server, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Server, error) { return tx.ListServers() })
}

func (s *SQLiteStore) ListRunningServers() ([]*types.Server, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Server, error) { return tx.ListRunningServers() })
}

func (s *SQLiteStore) GetBackup(id int64) (*types.Backup, error) {
	return oneShot(s, func(tx *Tx) (*types.Backup, error) { return tx.GetBackup(id) })
}

func (s *SQLiteStore) ListBackups() ([]*types.Backup, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Backup, error) { return tx.ListBackups() })
}

func (s *SQLiteStore) ListBackupsByServer(serverID int64) ([]*types.Backup, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Backup, error) { return tx.ListBackupsByServer(serverID) })
}

func (s *SQLiteStore) GetSchedule(id int64) (*types.Schedule, error) {
	return oneShot(s, func(tx *Tx) (*types.Schedule, error) { return tx.GetSchedule(id) })
}

func (s *SQLiteStore) ListSchedules() ([]*types.Schedule, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Schedule, error) { return tx.ListSchedules() })
}

func (s *SQLiteStore) ListEnabledSchedules() ([]*types.Schedule, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Schedule, error) { return tx.ListEnabledSchedules() })
}

func (s *SQLiteStore) ListSchedulesByServer(serverID int64) ([]*types.Schedule, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Schedule, error) { return tx.ListSchedulesByServer(serverID) })
}

func (s *SQLiteStore) GetPlugin(id int64) (*types.Plugin, error) {
	return oneShot(s, func(tx *Tx) (*types.Plugin, error) { return tx.GetPlugin(id) })
}

func (s *SQLiteStore) ListPluginsByServer(serverID int64) ([]*types.Plugin, error) {
	return oneShot(s, func(tx *Tx) ([]*types.Plugin, error) { return tx.ListPluginsByServer(serverID) })
}

func (s *SQLiteStore) GetAPIKeyByPrefix(prefix string) (*types.APIKey, error) {
	return oneShot(s, func(tx *Tx) (*types.APIKey, error) { return tx.GetAPIKeyByPrefix(prefix) })
}

func (s *SQLiteStore) ListAPIKeys() ([]*types.APIKey, error) {
	return oneShot(s, func(tx *Tx) ([]*types.APIKey, error) { return tx.ListAPIKeys() })
}

func (s *SQLiteStore) CountActiveAPIKeys() (int, error) {
	return oneShot(s, func(tx *Tx) (int, error) { return tx.CountActiveAPIKeys() })
}

func oneShot[T any](s *SQLiteStore, fn func(tx *Tx) (T, error)) (T, error) {
	var out T
	err := s.WithTx(func(tx *Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}
