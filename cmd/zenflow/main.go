package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/internal/otel"
	"github.com/pbinitiative/zenflow/internal/rest"
	"github.com/pbinitiative/zenflow/pkg/script/js"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/pbinitiative/zenflow/pkg/storage/sqlite"
	"github.com/pbinitiative/zenflow/pkg/workflow"
	"github.com/pbinitiative/zenflow/pkg/workflow/model/graph"
)

func main() {
	log.Init()

	appContext, ctxCancel := context.WithCancel(context.Background())

	conf, err := config.InitConfig()
	if err != nil {
		log.Error("Failed to load configuration: %s", err)
		os.Exit(1)
	}
	log.Configure(conf.Log.Level, conf.Log.JSON)
	if dump, err := conf.Dump(); err == nil {
		log.Debugf(appContext, "Effective configuration:\n%s", dump)
	}

	openTelemetry, err := otel.SetupOtel(appContext, conf)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	store, closeStore, err := openStorage(appContext, conf.Storage)
	if err != nil {
		log.Error("Failed to open storage: %s", err)
		os.Exit(1)
	}

	scripts, err := js.NewJsRuntime(appContext, conf.Script.MaxPool, conf.Script.MinPool)
	if err != nil {
		log.Error("Failed to start script runtime: %s", err)
		os.Exit(1)
	}

	// process models are registered by the embedding application
	models := graph.NewRegistry()
	engine, err := workflow.NewEngine(
		workflow.EngineWithName(conf.Name),
		workflow.EngineWithStorage(store),
		workflow.EngineWithModelProvider(models),
		workflow.EngineWithActionExecutor(workflow.NewActionExecutor(scripts)),
		workflow.EngineWithModelCache(conf.ModelCache.Size, conf.ModelCache.TTL),
		workflow.EngineWithLogger(log.Logger("workflow-engine")),
	)
	if err != nil {
		log.Error("Failed to create workflow engine: %s", err)
		os.Exit(1)
	}

	svr := rest.NewServer(engine, store, conf)
	if _, err := svr.Start(); err != nil {
		log.Error("Failed to start HTTP server: %s", err)
		os.Exit(1)
	}

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	ctxCancel()
	// cleanup
	svr.Stop(context.Background())
	if err := closeStore(); err != nil {
		log.Error("failed to close storage: %s", err)
	}
	if err := openTelemetry.Stop(context.Background()); err != nil {
		log.Error("failed to stop OTEL: %s", err)
	}
}

func openStorage(ctx context.Context, conf config.Storage) (storage.Storage, func() error, error) {
	switch conf.Driver {
	case config.StorageDriverSqlite:
		store, err := sqlite.Open(ctx, conf.Path, log.Logger("sqlite-store"))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return inmemory.NewStorage(), func() error { return nil }, nil
	}
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
