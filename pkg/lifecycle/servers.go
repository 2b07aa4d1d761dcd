package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/craftd/msm/pkg/apierr"
	"github.com/craftd/msm/pkg/events"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/properties"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

// Create provisions a new server: a working directory under the data root,
// the distribution jar, and a seeded server.properties carrying the chosen
// port. eula.txt is deliberately not written; accepting the EULA is the
// operator's call.
func (m *Manager) Create(ctx context.Context, spec *types.CreateServerSpec) (*types.Server, error) {
	if err := validateName(spec.Name); err != nil {
		return nil, err
	}
	if !spec.Distro.Valid() {
		return nil, apierr.Validation("distro", fmt.Sprintf("unsupported distribution %q", spec.Distro))
	}
	if err := validateMemory(spec.Memory); err != nil {
		return nil, err
	}
	if err := validatePort(spec.Port); err != nil {
		return nil, err
	}
	if err := m.checkNameFree(spec.Name); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.ServersDir(), spec.Name)
	_, statErr := os.Stat(dir)
	freshDir := os.IsNotExist(statErr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.Resourcef(err, "failed to create server directory %s", dir)
	}
	cleanup := func() {
		if freshDir {
			os.RemoveAll(dir)
		}
	}

	artifact, err := m.resolver.Resolve(ctx, spec.Distro, spec.Version)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := m.client.Download(ctx, artifact.URL, filepath.Join(dir, DefaultJarName), artifact.Digest); err != nil {
		cleanup()
		return nil, err
	}

	props, err := properties.Load(dir)
	if err != nil {
		cleanup()
		return nil, apierr.Resourcef(err, "failed to read %s", properties.FileName)
	}
	props.SetInt("server-port", spec.Port)
	if err := props.Save(); err != nil {
		cleanup()
		return nil, apierr.Resourcef(err, "failed to write %s", properties.FileName)
	}

	srv := &types.Server{
		Name:           spec.Name,
		Distro:         spec.Distro,
		Version:        spec.Version,
		Dir:            dir,
		Port:           spec.Port,
		Memory:         spec.Memory,
		JavaPath:       spec.JavaPath,
		JavaArgs:       spec.JavaArgs,
		RestartOnCrash: spec.RestartOnCrash,
		CreatedAt:      time.Now().UTC(),
	}
	err = m.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertServer(srv)
		if err != nil {
			return err
		}
		srv.ID = id
		return nil
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	log.WithServer(srv.ID, srv.Name).Info().
		Str("distro", string(srv.Distro)).Str("version", srv.Version).Int("port", srv.Port).
		Msg("server created")
	m.events.Publish(&events.Event{Type: events.EventServerCreated, ServerID: srv.ID, ServerName: srv.Name})
	return srv, nil
}

// Import adopts an existing server directory. The directory must already
// contain a launchable jar; nothing inside it is modified, the supervisor
// only records where it lives and how to run it.
func (m *Manager) Import(ctx context.Context, spec *types.ImportServerSpec) (*types.Server, error) {
	if err := validateName(spec.Name); err != nil {
		return nil, err
	}
	if err := validateMemory(spec.Memory); err != nil {
		return nil, err
	}
	if err := validatePort(spec.Port); err != nil {
		return nil, err
	}
	if spec.Distro != "" && !spec.Distro.Valid() {
		return nil, apierr.Validation("distro", fmt.Sprintf("unsupported distribution %q", spec.Distro))
	}

	dir, err := filepath.Abs(spec.Dir)
	if err != nil {
		return nil, apierr.Validation("dir", "directory path cannot be resolved")
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, apierr.Validation("dir", fmt.Sprintf("%s is not a directory", dir))
	}
	jarName, ok := findServerJar(dir)
	if !ok {
		return nil, apierr.Validation("dir", fmt.Sprintf("no server jar found in %s", dir))
	}

	if err := m.checkNameFree(spec.Name); err != nil {
		return nil, err
	}

	srv := &types.Server{
		Name:      spec.Name,
		Distro:    spec.Distro,
		Version:   spec.Version,
		Dir:       dir,
		Port:      spec.Port,
		Memory:    spec.Memory,
		JavaPath:  spec.JavaPath,
		CreatedAt: time.Now().UTC(),
	}
	err = m.store.WithTx(func(tx *storage.Tx) error {
		id, err := tx.InsertServer(srv)
		if err != nil {
			return err
		}
		srv.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithServer(srv.ID, srv.Name).Info().Str("dir", dir).Str("jar", jarName).Msg("server imported")
	m.events.Publish(&events.Event{Type: events.EventServerImported, ServerID: srv.ID, ServerName: srv.Name})
	return srv, nil
}

// Update applies the non-nil fields of spec to a server record. A port
// change is mirrored into server.properties so the game process and the
// record agree at the next start.
func (m *Manager) Update(id int64, spec *types.UpdateServerSpec) (*types.Server, error) {
	if spec.Memory != nil {
		if err := validateMemory(*spec.Memory); err != nil {
			return nil, err
		}
	}
	if spec.Port != nil {
		if err := validatePort(*spec.Port); err != nil {
			return nil, err
		}
	}

	var srv *types.Server
	portChanged := false
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetServer(id)
		if err != nil {
			return err
		}
		if spec.Port != nil && *spec.Port != s.Port {
			s.Port = *spec.Port
			portChanged = true
		}
		if spec.Memory != nil {
			s.Memory = *spec.Memory
		}
		if spec.JavaPath != nil {
			s.JavaPath = *spec.JavaPath
		}
		if spec.JavaArgs != nil {
			s.JavaArgs = *spec.JavaArgs
		}
		if spec.RestartOnCrash != nil {
			s.RestartOnCrash = *spec.RestartOnCrash
		}
		if err := tx.UpdateServer(s); err != nil {
			return err
		}
		srv = s
		return nil
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, apierr.NotFound("server")
		}
		return nil, err
	}

	if portChanged {
		props, err := properties.Load(srv.Dir)
		if err != nil {
			return nil, apierr.Resourcef(err, "port updated but %s could not be read", properties.FileName)
		}
		props.SetInt("server-port", srv.Port)
		if err := props.Save(); err != nil {
			return nil, apierr.Resourcef(err, "port updated but %s could not be written", properties.FileName)
		}
	}

	log.WithServer(srv.ID, srv.Name).Info().Msg("server configuration updated")
	return srv, nil
}

// Delete removes a server record and, unless keepFiles is set, its working
// directory. Running servers must be stopped first. The directory is only
// removed when its symlink-resolved path sits strictly inside the data
// root; anything else is left on disk and logged. Deletion is refused
// outright under an elevated principal.
func (m *Manager) Delete(id int64, keepFiles bool) error {
	if m.backend.Elevated() {
		return apierr.Refused("refusing to delete servers while running as root or administrator")
	}

	var srv *types.Server
	err := m.store.WithTx(func(tx *storage.Tx) error {
		s, err := tx.GetServer(id)
		if err != nil {
			return err
		}
		if s.Running && s.PID != nil && m.backend.IsAlive(*s.PID) {
			return apierr.AlreadyRunning(s.Name)
		}
		if s.Running {
			log.WithServer(s.ID, s.Name).Warn().Msg("healing stale running state before delete")
			if err := tx.ClearServerRunState(s.ID); err != nil {
				return err
			}
		}
		srv = s
		return nil
	})
	if err != nil {
		if storage.IsNotFound(err) {
			return apierr.NotFound("server")
		}
		return err
	}

	if !keepFiles {
		if err := m.removeServerDir(srv); err != nil {
			return err
		}
	}

	err = m.store.WithTx(func(tx *storage.Tx) error {
		if err := tx.DeleteSchedulesByServer(srv.ID); err != nil {
			return err
		}
		if err := tx.DeletePluginsByServer(srv.ID); err != nil {
			return err
		}
		return tx.DeleteServer(srv.ID)
	})
	if err != nil {
		return err
	}

	m.hub.Detach(srv.ID)
	log.WithServer(srv.ID, srv.Name).Info().Bool("kept_files", keepFiles).Msg("server deleted")
	m.events.Publish(&events.Event{Type: events.EventServerDeleted, ServerID: srv.ID, ServerName: srv.Name})
	return nil
}

// removeServerDir deletes srv.Dir after resolving symlinks and proving the
// result is a strict descendant of the data root. Directories outside the
// root (imported servers, or a planted symlink) are never removed.
func (m *Manager) removeServerDir(srv *types.Server) error {
	resolved, err := filepath.EvalSymlinks(srv.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierr.Resourcef(err, "failed to resolve server directory %s", srv.Dir)
	}
	root, err := filepath.EvalSymlinks(m.cfg.DataRoot)
	if err != nil {
		return apierr.Resourcef(err, "failed to resolve data root %s", m.cfg.DataRoot)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		log.WithServer(srv.ID, srv.Name).Warn().Str("dir", srv.Dir).
			Msg("server directory is outside the data root, leaving files in place")
		return nil
	}

	if err := os.RemoveAll(resolved); err != nil {
		return apierr.Resourcef(err, "failed to remove server directory %s", resolved)
	}
	return nil
}

func (m *Manager) checkNameFree(name string) error {
	_, err := m.store.GetServerByName(name)
	if err == nil {
		return apierr.NameInUse(name)
	}
	if storage.IsNotFound(err) {
		return nil
	}
	return err
}

func validateName(name string) error {
	if !types.NameRE.MatchString(name) {
		return apierr.Validation("name", "name must be 1-64 characters of letters, digits, hyphen, or underscore")
	}
	return nil
}

func validateMemory(memory string) error {
	if !types.MemoryRE.MatchString(memory) {
		return apierr.Validation("memory", `memory must look like "1024M" or "2G"`)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return apierr.Validation("port", "port must be between 1 and 65535")
	}
	return nil
}
