package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/craftd/msm/pkg/auth"
	"github.com/craftd/msm/pkg/console"
	"github.com/craftd/msm/pkg/health"
	"github.com/craftd/msm/pkg/log"
	"github.com/craftd/msm/pkg/metrics"
	"github.com/craftd/msm/pkg/plugins"
	"github.com/craftd/msm/pkg/storage"
	"github.com/craftd/msm/pkg/types"
)

// Engine is the lifecycle surface the HTTP layer drives. *lifecycle.Manager
// satisfies it; tests substitute a fake so handler behavior can be probed
// without spawning processes.
type Engine interface {
	Create(ctx context.Context, spec *types.CreateServerSpec) (*types.Server, error)
	Import(ctx context.Context, spec *types.ImportServerSpec) (*types.Server, error)
	Update(id int64, spec *types.UpdateServerSpec) (*types.Server, error)
	Delete(id int64, keepFiles bool) error
	Start(ctx context.Context, id int64) (int32, error)
	Stop(ctx context.Context, id int64, grace time.Duration) error
	Restart(ctx context.Context, id int64) (int32, error)
	Status(ctx context.Context, id int64) (*types.ServerStatus, error)
}

// BackupService is the slice of the backup manager the handlers use.
type BackupService interface {
	Create(ctx context.Context, srv *types.Server, kind types.BackupKind) (*types.Backup, error)
	Restore(ctx context.Context, rec *types.Backup, srv *types.Server) error
	Delete(rec *types.Backup) error
	Prune(serverID int64) (int, error)
}

// PluginService is the slice of the plugin manager the handlers use.
type PluginService interface {
	Search(ctx context.Context, source types.PluginSource, query, mcVersion string, limit int) ([]plugins.SearchResult, error)
	Install(ctx context.Context, srv *types.Server, req plugins.InstallRequest) (*types.Plugin, error)
	Uninstall(srv *types.Server, rec *types.Plugin) error
	SetEnabled(srv *types.Server, rec *types.Plugin, enabled bool) (*types.Plugin, error)
}

// JavaService exposes runtime discovery and installation.
type JavaService interface {
	Detect() []types.JavaInstall
	Install(ctx context.Context, major int) (*types.JavaInstall, error)
}

// VersionService lists installable versions for a distribution.
type VersionService interface {
	Versions(ctx context.Context, distro types.Distro, includeSnapshots bool) ([]string, error)
}

// RestartCanceller drops a pending crash restart. Operator stop and delete
// route through it so the watchdog never resurrects a server the operator
// took down.
type RestartCanceller interface {
	Cancel(serverID int64)
}

// Deps carries everything the HTTP layer talks to.
type Deps struct {
	Store    storage.Store
	Engine   Engine
	Backups  BackupService
	Plugins  PluginService
	Java     JavaService
	Versions VersionService
	Hub      *console.Registry
	Auth     *auth.Manager
	Health   *health.Tracker
	Watchdog RestartCanceller
}

// Config tunes the HTTP server.
type Config struct {
	// Listen is the bind address, e.g. "127.0.0.1:8765".
	Listen string
	// StopGrace is handed to Engine.Stop by the stop route.
	StopGrace time.Duration
	// Heartbeat is the WS console heartbeat interval; clients missing two
	// in a row are disconnected.
	Heartbeat time.Duration
	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration
}

// DefaultConfig returns production tuning for the given bind address.
func DefaultConfig(listen string) Config {
	return Config{
		Listen:         listen,
		StopGrace:      30 * time.Second,
		Heartbeat:      20 * time.Second,
		RequestTimeout: 15 * time.Minute,
	}
}

// Server is the REST+WebSocket front of the supervisor.
type Server struct {
	cfg      Config
	deps     Deps
	router   chi.Router
	http     *http.Server
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer assembles the router. Zero values in cfg fall back to defaults.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig(cfg.Listen)
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = def.StopGrace
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The supervisor serves localhost operators and their browser
			// dashboards; key auth gates the session, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves until Stop. It blocks; run it last or in its own
// goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("http api listening")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequests)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(s.recordMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated: liveness and scrape targets.
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		// The console stream is read tier but exempt from the request
		// timeout; the websocket heartbeat owns that connection's lifetime.
		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(types.PermRead))
			r.Get("/servers/{id}/console/ws", s.handleConsoleWS)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(types.PermRead))
			r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

			r.Get("/servers", s.handleListServers)
			r.Get("/servers/{id}", s.handleGetServer)
			r.Get("/servers/{id}/status", s.handleServerStatus)
			r.Get("/servers/{id}/backups", s.handleListServerBackups)
			r.Get("/servers/{id}/schedules", s.handleListServerSchedules)
			r.Get("/servers/{id}/plugins", s.handleListPlugins)
			r.Get("/servers/{id}/properties", s.handleGetProperties)
			r.Get("/backups", s.handleListBackups)
			r.Get("/schedules", s.handleListSchedules)
			r.Get("/plugins/search", s.handleSearchPlugins)
			r.Get("/versions/{distro}", s.handleVersions)
			r.Get("/java", s.handleListJava)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(types.PermWrite))
			r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

			r.Post("/servers", s.handleCreateServer)
			r.Post("/servers/import", s.handleImportServer)
			r.Patch("/servers/{id}", s.handleUpdateServer)
			r.Delete("/servers/{id}", s.handleDeleteServer)
			r.Post("/servers/{id}/start", s.handleStartServer)
			r.Post("/servers/{id}/stop", s.handleStopServer)
			r.Post("/servers/{id}/restart", s.handleRestartServer)
			r.Patch("/servers/{id}/properties", s.handlePatchProperties)

			r.Post("/servers/{id}/backups", s.handleCreateBackup)
			r.Post("/servers/{id}/backups/prune", s.handlePruneBackups)
			r.Post("/backups/{id}/restore", s.handleRestoreBackup)
			r.Delete("/backups/{id}", s.handleDeleteBackup)

			r.Post("/servers/{id}/schedules", s.handleCreateSchedule)
			r.Patch("/schedules/{id}", s.handleUpdateSchedule)
			r.Delete("/schedules/{id}", s.handleDeleteSchedule)

			r.Post("/servers/{id}/plugins", s.handleInstallPlugin)
			r.Post("/servers/{id}/plugins/{pluginID}/enable", s.handleEnablePlugin)
			r.Post("/servers/{id}/plugins/{pluginID}/disable", s.handleDisablePlugin)
			r.Delete("/servers/{id}/plugins/{pluginID}", s.handleUninstallPlugin)

			r.Post("/java/install", s.handleInstallJava)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requirePermission(types.PermAdmin))
			r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))

			r.Get("/apikeys", s.handleListAPIKeys)
			r.Post("/apikeys", s.handleCreateAPIKey)
			r.Delete("/apikeys/{id}", s.handleDeleteAPIKey)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Health.Report())
}
