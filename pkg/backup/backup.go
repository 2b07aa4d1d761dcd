// Package backup archives server directories into the supervisor's backup
// store and restores them. Archives are gzip-compressed tars whose single
// top-level entry is the server name; catalog records in the database point
// at them but the file itself is the source of truth.
package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

// ConsoleHub is the slice of the process registry backups need: telling
// whether a server is live and injecting save-off/save-on around the
// archive pass.
type ConsoleHub interface {
	Live(serverID int64) bool
	WriteCommand(serverID int64, command string) error
}

// Config tunes the backup manager.
type Config struct {
	// Dir is where archives land, <data-root>/backups.
	Dir string
	// Keep is how many completed backups Prune leaves per server.
	Keep int
	// FlushWait is how long to let the game flush chunks after save-all
	// before the archive pass starts.
	FlushWait time.Duration
}

// DefaultConfig returns the production settings for a backups directory.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, Keep: 5, FlushWait: 2 * time.Second}
}

// Manager creates, restores, and prunes backups.
type Manager struct {
	store  storage.Store
	hub    ConsoleHub
	events *events.Broker
	cfg    Config
}

// NewManager wires a backup manager to the store, the console hub, and the
// event broker.
func NewManager(store storage.Store, hub ConsoleHub, broker *events.Broker, cfg Config) *Manager {
	if cfg.Keep <= 0 {
		cfg.Keep = 5
	}
	return &Manager{store: store, hub: hub, events: broker, cfg: cfg}
}

// Create archives srv's directory. The catalog record is inserted as
// in-progress before the archive pass and flipped to completed or failed
// after, so a crash mid-archive leaves an honest record behind. A live
// server gets save-off/save-all before the pass and save-on after.
func (m *Manager) Create(ctx context.Context, srv *types.Server, kind types.BackupKind) (*types.Backup, error) {
	if _, err := os.Stat(srv.Dir); err != nil {
		return nil, apierr.Resourcef(err, "server directory is missing")
	}
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return nil, apierr.Resourcef(err, "failed to create backups directory")
	}

	now := time.Now()
	rec := &types.Backup{
		ServerID:   srv.ID,
		ServerName: srv.Name,
		Path:       filepath.Join(m.cfg.Dir, fmt.Sprintf("%s_%s.tar.gz", srv.Name, now.Format("20060102_150405"))),
		Kind:       kind,
		Status:     types.BackupInProgress,
		CreatedAt:  now,
	}
	err := m.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertBackup(rec)
		rec.ID = id
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("backup")
	logger.Info().Str("server", srv.Name).Str("path", rec.Path).Str("kind", string(kind)).Msg("backup started")
	m.events.Publish(&events.Event{Type: events.EventBackupStarted, ServerID: srv.ID, ServerName: srv.Name})

	if m.hub != nil && m.hub.Live(srv.ID) {
		m.suspendSaves(srv.ID)
		defer m.resumeSaves(srv.ID)
	}

	if err := writeArchive(ctx, srv.Dir, rec.Path, srv.Name); err != nil {
		os.Remove(rec.Path)
		m.finish(rec, types.BackupFailed, 0)
		m.events.Publish(&events.Event{Type: events.EventBackupFailed, ServerID: srv.ID, ServerName: srv.Name, Message: err.Error()})
		return nil, err
	}

	info, err := os.Stat(rec.Path)
	if err != nil {
		m.finish(rec, types.BackupFailed, 0)
		return nil, apierr.Resourcef(err, "archive vanished after writing")
	}

	m.finish(rec, types.BackupCompleted, info.Size())
	logger.Info().Str("server", srv.Name).Int64("size_bytes", rec.SizeBytes).Msg("backup completed")
	m.events.Publish(&events.Event{Type: events.EventBackupFinished, ServerID: srv.ID, ServerName: srv.Name})
	return rec, nil
}

func (m *Manager) finish(rec *types.Backup, status types.BackupStatus, size int64) {
	rec.Status = status
	rec.SizeBytes = size
	err := m.store.WithTx(func(tx *storage.Tx) error {
		return tx.UpdateBackupStatus(rec.ID, status, size)
	})
	if err != nil {
		logger := log.WithComponent("backup")
		logger.Error().Err(err).Int64("backup_id", rec.ID).Msg("failed to update backup record")
	}
}

// suspendSaves turns off autosave and forces a full flush so the archive
// sees a consistent world.
func (m *Manager) suspendSaves(serverID int64) {
	logger := log.WithComponent("backup")
	for _, cmd := range []string{"save-off", "save-all"} {
		if err := m.hub.WriteCommand(serverID, cmd); err != nil {
			logger.Warn().Err(err).Str("command", cmd).Msg("failed to suspend saves before backup")
			return
		}
	}
	if m.cfg.FlushWait > 0 {
		time.Sleep(m.cfg.FlushWait)
	}
}

func (m *Manager) resumeSaves(serverID int64) {
	if err := m.hub.WriteCommand(serverID, "save-on"); err != nil {
		logger := log.WithComponent("backup")
		logger.Warn().Err(err).Msg("failed to resume saves after backup")
	}
}

// Restore replaces srv's directory with the archive contents. The caller
// must have stopped the server first.
func (m *Manager) Restore(ctx context.Context, rec *types.Backup, srv *types.Server) error {
	if m.hub != nil && m.hub.Live(srv.ID) {
		return apierr.AlreadyRunning(srv.Name)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		return apierr.Resourcef(err, "backup archive is missing")
	}

	if err := os.RemoveAll(srv.Dir); err != nil {
		return apierr.Resourcef(err, "failed to clear server directory")
	}
	if err := os.MkdirAll(srv.Dir, 0o755); err != nil {
		return apierr.Resourcef(err, "failed to recreate server directory")
	}

	if err := extractArchive(ctx, rec.Path, srv.Dir); err != nil {
		return err
	}
	logger := log.WithComponent("backup")
	logger.Info().Str("server", srv.Name).Int64("backup_id", rec.ID).Msg("backup restored")
	return nil
}

// Delete removes the archive file (if still present) and the record.
func (m *Manager) Delete(rec *types.Backup) error {
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		return apierr.Resourcef(err, "failed to delete backup archive")
	}
	return m.store.WithTx(func(tx *storage.Tx) error {
		return tx.DeleteBackup(rec.ID)
	})
}

// Prune deletes completed backups beyond the configured keep count for one
// server, oldest first, and returns how many were removed. In-progress and
// failed records are left alone.
func (m *Manager) Prune(serverID int64) (int, error) {
	backups, err := m.store.ListBackupsByServer(serverID)
	if err != nil {
		return 0, err
	}

	var completed []*types.Backup
	for _, b := range backups {
		if b.Status == types.BackupCompleted {
			completed = append(completed, b)
		}
	}
	if len(completed) <= m.cfg.Keep {
		return 0, nil
	}

	pruned := 0
	for _, b := range completed[m.cfg.Keep:] { // list is newest first
		if err := m.Delete(b); err != nil {
			logger := log.WithComponent("backup")
			logger.Warn().Err(err).Int64("backup_id", b.ID).Msg("failed to prune backup")
			continue
		}
		pruned++
	}
	if pruned > 0 {
		logger := log.WithComponent("backup")
		logger.Info().Int64("server_id", serverID).Int("pruned", pruned).Msg("pruned old backups")
	}
	return pruned, nil
}

// MarkBroken flags completed records whose archive file has gone missing.
// The flag is computed per listing and never persisted.
func MarkBroken(backups []*types.Backup) []*types.Backup {
	for _, b := range backups {
		if b.Status != types.BackupCompleted {
			continue
		}
		if _, err := os.Stat(b.Path); os.IsNotExist(err) {
			b.Status = types.BackupBroken
		}
	}
	return backups
}

// writeArchive tars srcDir into destPath with every entry nested under
// topName. Symlinks are stored as links; sockets and devices are skipped.
func writeArchive(ctx context.Context, srcDir, destPath, topName string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return apierr.Resourcef(err, "failed to create archive")
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := topName
		if rel != "." {
			name = topName + "/" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		return err
	})
	if err != nil {
		tw.Close()
		gz.Close()
		return apierr.Resourcef(err, "failed to archive server directory")
	}

	if err := tw.Close(); err != nil {
		return apierr.Resourcef(err, "failed to finalize archive")
	}
	if err := gz.Close(); err != nil {
		return apierr.Resourcef(err, "failed to finalize archive")
	}
	if err := f.Sync(); err != nil {
		return apierr.Resourcef(err, "failed to sync archive")
	}
	return nil
}

// extractArchive unpacks an archive into destDir, stripping the top-level
// name the archive was created with. Entries that would escape destDir are
// refused.
func extractArchive(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apierr.Resourcef(err, "failed to open archive")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return apierr.Resourcef(err, "archive is not valid gzip")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apierr.Resourcef(err, "failed to read archive")
		}

		name := stripTop(hdr.Name)
		if name == "" {
			continue
		}
		path, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return apierr.Resourcef(err, "failed to create directory")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return apierr.Resourcef(err, "failed to create directory")
			}
			dst, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return apierr.Resourcef(err, "failed to create file")
			}
			if _, err := io.Copy(dst, tr); err != nil {
				dst.Close()
				return apierr.Resourcef(err, "failed to write file")
			}
			if err := dst.Close(); err != nil {
				return apierr.Resourcef(err, "failed to write file")
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || escapes(hdr.Linkname) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return apierr.Resourcef(err, "failed to create directory")
			}
			os.Remove(path)
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return apierr.Resourcef(err, "failed to create symlink")
			}
		}
	}
}

// stripTop drops the archive's top-level directory from an entry name. The
// bare top-level entry itself maps to "".
func stripTop(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	name = strings.TrimSuffix(name, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) || escapes(name) {
		return "", apierr.Refused("archive entry escapes the restore directory: " + name)
	}
	return filepath.Join(dest, filepath.FromSlash(name)), nil
}

func escapes(name string) bool {
	clean := filepath.Clean(filepath.FromSlash(name))
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
