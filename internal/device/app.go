// Package device wires a field device: the local store and change log, the
// sync engine with its transports, the HTTP API for the UI and the console.
package device

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/archive"
	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/device/cli"
	"github.com/dmitrijs2005/fieldsync/internal/device/config"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/engine"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/session"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"golang.org/x/term"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	local     *session.Local
	client    *transport.Client
	engine    *engine.Engine
	grpc      *transport.Server
	api       *api.Server
	prober    *directory.Prober
	compactor *changelog.Compactor
	registrar *Registrar
	console   *cli.App
}

func newLogger(c *config.Config) (logging.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return logging.NewDeviceLogger(logging.FileOptions{
		Path:       c.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 30,
	}, level), nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	for _, path := range []string{c.DatabaseDSN, c.LogFile} {
		if err := filex.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}
	logger, err := newLogger(c)
	if err != nil {
		return nil, err
	}
	tieBreak, err := reconcile.ParseTieBreak(c.TieBreak)
	if err != nil {
		return nil, err
	}
	peers, err := c.ParsePeers()
	if err != nil {
		return nil, err
	}

	db, err := repomanager.OpenSQLite(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app := &App{config: c, logger: logger, db: db}
	if err := app.init(ctx, tieBreak, peers); err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context, tieBreak reconcile.TieBreaker, peers []config.Peer) error {
	c := app.config
	rm := repomanager.NewSQLiteRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	id, err := metadata.LoadDeviceID(ctx, rm.Metadata(app.db), c.DeviceID)
	if err != nil {
		return err
	}
	app.logger = app.logger.With("device", id)

	log := changelog.New(app.db, rm, id, app.logger, changelog.WithArchiver(archive.Noop{}))
	dir := directory.New(app.db, rm, id, log, app.logger)
	for _, p := range peers {
		desc, err := dir.Get(ctx, p.DeviceID)
		if err != nil {
			desc = &models.DeviceDescriptor{DeviceID: p.DeviceID, Role: models.RoleFieldWorker}
		}
		desc.Address = p.Address
		if err := dir.Upsert(ctx, desc); err != nil {
			return fmt.Errorf("seed peer %s: %w", p.DeviceID, err)
		}
	}

	app.local = &session.Local{
		DeviceID:  id,
		Role:      models.Role(c.Role),
		Address:   c.Advertise(),
		Store:     store.New(app.db, rm, log, reconcile.NewPolicy(tieBreak), app.logger),
		Log:       log,
		Directory: dir,
		Logger:    app.logger,
	}

	var reg *Registrar
	token := func(ctx context.Context, target *models.DeviceDescriptor) (string, error) {
		if reg == nil {
			return "", nil
		}
		return reg.Token(ctx, target)
	}
	app.local.Token = token
	app.client = transport.NewClient(id, token)

	if c.FacilityAddr != "" {
		self := &wire.RegisterRequest{DeviceID: id, Role: c.Role, Address: c.Advertise()}
		reg = NewRegistrar(app.client, rm.Metadata(app.db), dir, self, c.FacilityAddr, c.BackoffBase, c.BackoffCap, app.logger)
		if err := reg.Restore(ctx); err != nil {
			return fmt.Errorf("restore registration: %w", err)
		}
		app.registrar = reg
	}

	// sessions only start once Run is called, after console is set
	observe := func(st engine.TargetStatus) { app.console.Observe(st) }
	app.engine = engine.New(app.local, app.client, c.Engine(), app.logger, engine.WithObserver(observe))
	app.console = cli.NewApp(id, app.local.Store, app.engine, dir, os.Stdout)

	app.grpc = transport.NewServer(c.EndpointAddrGRPC, app.local, c.Session(), app.logger, transport.WithAcquire(app.engine.Acquire))
	app.api = api.NewServer(c.EndpointAddrHTTP, api.NewHandler(app.local.Store, app.engine, dir, app.logger), app.logger)
	app.prober = directory.NewProber(dir, app.client, c.ProbeInterval, c.ProbeTimeout)
	// nothing keeps compacted ranges on a device; peers behind the
	// watermark get a snapshot
	app.compactor = changelog.NewCompactor(c.CompactionSchedule, log.Compact, app.logger)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a signal arrives, a server fails or the console user
// leaves. The console only starts when stdin is a terminal.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting device...", "role", string(app.local.Role), "grpc", app.config.EndpointAddrGRPC, "http", app.config.EndpointAddrHTTP)
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				app.logger.Error(ctx, name+" stopped", "error", err)
				cancelFunc()
			}
		}()
	}

	start("grpc server", app.grpc.Run)
	start("http server", app.api.Run)
	start("engine", app.engine.Run)
	start("prober", func(ctx context.Context) error { app.prober.Run(ctx); return nil })
	start("compactor", app.compactor.Run)
	if app.registrar != nil {
		start("registrar", func(ctx context.Context) error { app.registrar.Run(ctx); return nil })
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		start("console", func(ctx context.Context) error {
			go app.console.WatchMode(ctx, app.config.ProbeInterval)
			err := app.console.Run(ctx)
			cancelFunc()
			return err
		})
	}

	wg.Wait()
	app.close()
}

func (app *App) close() {
	ctx := context.Background()
	if err := app.client.Close(); err != nil {
		app.logger.Warn(ctx, "close client", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "close db", "error", err)
	}
	app.logger.Info(ctx, "device stopped")
}
