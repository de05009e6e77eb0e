// Package facility wires the central facility: a Postgres-backed store and
// change log served over gRPC to registered devices, with scheduled log
// compaction into object storage.
package facility

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/fieldsync/internal/archive"
	"github.com/dmitrijs2005/fieldsync/internal/changelog"
	"github.com/dmitrijs2005/fieldsync/internal/directory"
	"github.com/dmitrijs2005/fieldsync/internal/facility/config"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/reconcile"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/session"
	"github.com/dmitrijs2005/fieldsync/internal/store"
	"github.com/dmitrijs2005/fieldsync/internal/transport"
)

type App struct {
	config    *config.Config
	logger    *logging.ZapLogger
	db        *sql.DB
	local     *session.Local
	server    *transport.Server
	compactor *changelog.Compactor
}

// archiverFor picks where compacted ranges go: S3 when a bucket is
// configured, nowhere otherwise.
func archiverFor(c *config.Config, l logging.Logger) changelog.Archiver {
	if c.S3Bucket == "" {
		return archive.Noop{}
	}
	return archive.NewS3Archiver(archive.S3Config{
		Region:       c.S3Region,
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		Prefix:       c.S3Prefix,
	}, l)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.NewFacilityLogger()
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	tieBreak, err := reconcile.ParseTieBreak(c.TieBreak)
	if err != nil {
		return nil, err
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	id, err := metadata.LoadDeviceID(ctx, rm.Metadata(db), c.FacilityID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	l := logger.With("facility", id)
	log := changelog.New(db, rm, id, l, changelog.WithArchiver(archiverFor(c, l)))
	local := &session.Local{
		DeviceID:  id,
		Role:      models.RoleFacility,
		Address:   c.EndpointAddrGRPC,
		Store:     store.New(db, rm, log, reconcile.NewPolicy(tieBreak), l),
		Log:       log,
		Directory: directory.New(db, rm, id, log, l),
		Logger:    l,
	}

	srv := transport.NewServer(c.EndpointAddrGRPC, local, c.Session(), l,
		transport.WithTokens(c.SecretKey, c.AccessTokenValidityDuration),
		transport.WithAcquire(newSessionSlots().Acquire))

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		local:     local,
		server:    srv,
		compactor: changelog.NewCompactor(c.CompactionSchedule, log.Compact, l),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting facility...", "id", app.local.DeviceID)
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	for name, fn := range map[string]func(context.Context) error{
		"grpc server": app.server.Run,
		"compactor":   app.compactor.Run,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				app.logger.Error(ctx, name+" stopped", "error", err)
				cancelFunc()
			}
		}()
	}
	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "close db", "error", err)
	}
	_ = app.logger.Sync()
}
