package commands

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/analyzer"
	"github.com/swiftlens/swiftlens/config"
	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/indexbuild"
	"github.com/swiftlens/swiftlens/langserver"
	"github.com/swiftlens/swiftlens/logger"
	"github.com/swiftlens/swiftlens/project"
	"github.com/swiftlens/swiftlens/telemetry"
	"github.com/swiftlens/swiftlens/typecheck"
)

// app holds the wired components a command needs. Telemetry pieces are nil
// unless the command asked for them.
type app struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	discoverer *project.Discoverer
	supervisor *langserver.Supervisor
	analyzer   *analyzer.Analyzer
	checker    *typecheck.Driver
	builder    *indexbuild.Builder

	telemetryDB *telemetry.Store
	sink        *telemetry.Sink
	fanout      *telemetry.Fanout
	sweeper     *telemetry.Sweeper
	db          *sql.DB
}

// newApp wires the analysis pipeline. withTelemetry additionally opens the
// telemetry database and starts the sink and sweeper.
func newApp(withTelemetry bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}

	log := logger.Named("swiftlens")
	discoverer := project.NewDiscoverer()

	supervisor := langserver.NewSupervisor(cfg.LSP, discoverer, logger.Named("langserver"))

	a := &app{
		cfg:        cfg,
		logger:     log,
		discoverer: discoverer,
		supervisor: supervisor,
		analyzer:   analyzer.New(discoverer, supervisor, logger.Named("analyzer")),
		checker: typecheck.NewDriver(discoverer,
			time.Duration(cfg.Typecheck.TimeoutSeconds)*time.Second,
			cfg.Typecheck.MaxFileBytes,
			logger.Named("typecheck")),
		builder: indexbuild.NewBuilder(discoverer,
			time.Duration(cfg.Index.TimeoutSeconds)*time.Second,
			logger.Named("indexbuild")),
	}

	if withTelemetry {
		db, err := telemetry.OpenDatabase(cfg.Telemetry.DatabasePath, logger.Named("telemetry"))
		if err != nil {
			supervisor.Shutdown(context.Background())
			return nil, err
		}
		a.db = db
		a.telemetryDB = telemetry.NewStore(db)
		a.fanout = telemetry.NewFanout(logger.Named("telemetry"))
		a.sink = telemetry.NewSink(a.telemetryDB, a.fanout, cfg.Telemetry.QueueCapacity, logger.Named("telemetry"))
		a.sweeper = telemetry.NewSweeper(a.telemetryDB,
			time.Duration(cfg.Telemetry.RetentionDays)*24*time.Hour,
			logger.Named("telemetry"))
		a.sweeper.Start()
	}

	return a, nil
}

// close tears components down in dependency order: producers before the
// sink, the sink before the database.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.supervisor.Shutdown(ctx)
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
