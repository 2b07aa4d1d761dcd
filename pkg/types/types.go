package types

import (
	"regexp"
	"time"
)

// NameRE constrains server names. Names become directory names under the
// data root, so the character set is deliberately narrow.
var NameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// MemoryRE matches heap sizes like "512M" or "2G".
var MemoryRE = regexp.MustCompile(`^(\d+)([MG])$`)

// Server represents a managed Minecraft server
type Server struct {
	ID             int64      `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	Distro         Distro     `db:"distro" json:"distro"`
	Version        string     `db:"version" json:"version"`
	Dir            string     `db:"dir" json:"dir"`
	Port           int        `db:"port" json:"port"`
	Memory         string     `db:"memory" json:"memory"`
	JavaPath       string     `db:"java_path" json:"java_path,omitempty"`
	JavaArgs       string     `db:"java_args" json:"java_args,omitempty"`
	RestartOnCrash bool       `db:"restart_on_crash" json:"restart_on_crash"`
	Running        bool       `db:"running" json:"running"`
	PID            *int32     `db:"pid" json:"pid,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	LastStarted    *time.Time `db:"last_started" json:"last_started,omitempty"`
	LastStopped    *time.Time `db:"last_stopped" json:"last_stopped,omitempty"`
}

// Distro identifies which server distribution a jar comes from
type Distro string

const (
	DistroPaper   Distro = "paper"
	DistroVanilla Distro = "vanilla"
	DistroFabric  Distro = "fabric"
	DistroPurpur  Distro = "purpur"
	DistroForge   Distro = "forge"
)

// KnownDistros lists every supported distribution.
var KnownDistros = []Distro{DistroPaper, DistroVanilla, DistroFabric, DistroPurpur, DistroForge}

// Valid reports whether d names a supported distribution.
func (d Distro) Valid() bool {
	switch d {
	case DistroPaper, DistroVanilla, DistroFabric, DistroPurpur, DistroForge:
		return true
	}
	return false
}

// Backup is a catalog entry for an on-disk archive. The archive is the
// source of truth; a record whose file is missing is reported as broken.
type Backup struct {
	ID         int64        `db:"id" json:"id"`
	ServerID   int64        `db:"server_id" json:"server_id"`
	ServerName string       `db:"server_name" json:"server_name"`
	Path       string       `db:"path" json:"path"`
	SizeBytes  int64        `db:"size_bytes" json:"size_bytes"`
	Kind       BackupKind   `db:"kind" json:"kind"`
	Status     BackupStatus `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// BackupKind records why a backup was taken
type BackupKind string

const (
	BackupManual    BackupKind = "manual"
	BackupScheduled BackupKind = "scheduled"
	BackupPreUpdate BackupKind = "pre-update"
)

// BackupStatus tracks archive creation progress
type BackupStatus string

const (
	BackupInProgress BackupStatus = "in-progress"
	BackupCompleted  BackupStatus = "completed"
	BackupFailed     BackupStatus = "failed"
	// BackupBroken is never persisted; listings report it when the
	// archive file has gone missing.
	BackupBroken BackupStatus = "broken"
)

// Schedule is a durable cron-triggered action against one server
type Schedule struct {
	ID        int64          `db:"id" json:"id"`
	ServerID  int64          `db:"server_id" json:"server_id"`
	Action    ScheduleAction `db:"action" json:"action"`
	Cron      string         `db:"cron" json:"cron"`
	Payload   string         `db:"payload" json:"payload,omitempty"`
	Enabled   bool           `db:"enabled" json:"enabled"`
	LastRun   *time.Time     `db:"last_run" json:"last_run,omitempty"`
	NextRun   *time.Time     `db:"next_run" json:"next_run,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// ScheduleAction defines what a schedule does when it fires
type ScheduleAction string

const (
	ActionBackup  ScheduleAction = "backup"
	ActionRestart ScheduleAction = "restart"
	ActionStop    ScheduleAction = "stop"
	ActionStart   ScheduleAction = "start"
	ActionCommand ScheduleAction = "command"
)

// Valid reports whether a names a supported schedule action.
func (a ScheduleAction) Valid() bool {
	switch a {
	case ActionBackup, ActionRestart, ActionStop, ActionStart, ActionCommand:
		return true
	}
	return false
}

// Plugin is an installed server plugin. Enable/disable is a file rename
// (.jar <-> .jar.disabled); the record follows the file.
type Plugin struct {
	ID          int64        `db:"id" json:"id"`
	ServerID    int64        `db:"server_id" json:"server_id"`
	Name        string       `db:"name" json:"name"`
	Source      PluginSource `db:"source" json:"source"`
	ProjectID   string       `db:"project_id" json:"project_id,omitempty"`
	Version     string       `db:"version" json:"version,omitempty"`
	FilePath    string       `db:"file_path" json:"file_path"`
	Enabled     bool         `db:"enabled" json:"enabled"`
	InstalledAt time.Time    `db:"installed_at" json:"installed_at"`
}

// PluginSource identifies where a plugin was fetched from
type PluginSource string

const (
	SourceModrinth PluginSource = "modrinth"
	SourceHangar   PluginSource = "hangar"
	SourceURL      PluginSource = "url"
)

// APIKey authenticates HTTP callers. Only the SHA-256 of the secret is
// stored; the raw key exists once, at issuance.
type APIKey struct {
	ID          int64      `db:"id" json:"id"`
	Label       string     `db:"label" json:"label"`
	Prefix      string     `db:"prefix" json:"prefix"`
	KeyHash     string     `db:"key_hash" json:"-"`
	Permissions Permission `db:"permissions" json:"permissions"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastUsed    *time.Time `db:"last_used" json:"last_used,omitempty"`
}

// Permission is the authorization tier carried by an API key
type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

// Allows reports whether a key holding p may perform actions requiring need.
func (p Permission) Allows(need Permission) bool {
	rank := map[Permission]int{PermRead: 0, PermWrite: 1, PermAdmin: 2}
	pr, ok1 := rank[p]
	nr, ok2 := rank[need]
	return ok1 && ok2 && pr >= nr
}

// Stream tags which descriptor a console line came from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamStdin  Stream = "stdin"
	StreamSystem Stream = "system"
)

// ConsoleLine is one line of child output. Lines live only in the
// per-server ring; they are never persisted.
type ConsoleLine struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    Stream    `json:"stream"`
	Text      string    `json:"line"`
}

// JavaInstall describes one discovered Java runtime
type JavaInstall struct {
	Path         string `json:"path"`
	MajorVersion int    `json:"major_version"`
	Vendor       string `json:"vendor"`
	IsJDK        bool   `json:"is_jdk"`
}

// ServerStatus is the live view returned by the lifecycle engine after
// inline reconciliation against the OS process table
type ServerStatus struct {
	Running       bool    `json:"running"`
	PID           *int32  `json:"pid,omitempty"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	PortOpen      bool    `json:"port_open"`
}

// CreateServerSpec is the inbound shape for creating a server
type CreateServerSpec struct {
	Name           string `json:"name" validate:"required"`
	Distro         Distro `json:"distro" validate:"required"`
	Version        string `json:"version" validate:"required"`
	Port           int    `json:"port" validate:"required,min=1,max=65535"`
	Memory         string `json:"memory" validate:"required"`
	JavaPath       string `json:"java_path,omitempty"`
	JavaArgs       string `json:"java_args,omitempty"`
	RestartOnCrash bool   `json:"restart_on_crash,omitempty"`
}

// ImportServerSpec is the inbound shape for adopting an existing directory
type ImportServerSpec struct {
	Name     string `json:"name" validate:"required"`
	Dir      string `json:"dir" validate:"required"`
	Distro   Distro `json:"distro,omitempty"`
	Version  string `json:"version,omitempty"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Memory   string `json:"memory" validate:"required"`
	JavaPath string `json:"java_path,omitempty"`
}

// UpdateServerSpec carries the mutable subset for PATCH; nil means keep
type UpdateServerSpec struct {
	Port           *int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Memory         *string `json:"memory,omitempty"`
	JavaPath       *string `json:"java_path,omitempty"`
	JavaArgs       *string `json:"java_args,omitempty"`
	RestartOnCrash *bool   `json:"restart_on_crash,omitempty"`
}

// CreateScheduleSpec is the inbound shape for creating a schedule
type CreateScheduleSpec struct {
	ServerID int64          `json:"server_id"`
	Action   ScheduleAction `json:"action" validate:"required"`
	Cron     string         `json:"cron" validate:"required"`
	Payload  string         `json:"payload,omitempty"`
	Enabled  bool           `json:"enabled"`
}

// UpdateScheduleSpec carries the mutable subset for PATCH; nil means keep
type UpdateScheduleSpec struct {
	Action  *ScheduleAction `json:"action,omitempty"`
	Cron    *string         `json:"cron,omitempty"`
	Payload *string         `json:"payload,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
}
