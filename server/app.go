package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"wgmirror/config"
	"wgmirror/internal/controller"
	"wgmirror/internal/db"
	"wgmirror/internal/health"
	"wgmirror/internal/logs"
	"wgmirror/internal/middleware"
	"wgmirror/internal/models"
	"wgmirror/internal/processor"
	"wgmirror/internal/repo"
	"wgmirror/internal/secrets"
	"wgmirror/internal/watcher"
	"wgmirror/internal/webhook"
	"wgmirror/internal/wgconf"
	"wgmirror/internal/wgrest"
)

// App — явный контекст сервиса: все компоненты собираются один раз здесь
// и передаются триггерам по ссылке; жизненный цикл принадлежит точке входа,
// мутабельных глобалов нет.
type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	api   *wgrest.Client
	coord *controller.Coordinator
	watch *watcher.Watcher

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d
	if err := a.db.AutoMigrate(&models.Interface{},
		&models.Peer{},
		&models.ServerKey{},
		&models.SyncStatus{}); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Компоненты конвейера */
	cipher, err := secrets.New(a.cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("cipher init failed: %v", err)
	}
	a.api = wgrest.NewClient(a.cfg.Wgrest.APIURL, a.cfg.Wgrest.APIKey)
	files := wgconf.NewSource(a.cfg.Sync.ConfigDir)
	hints := func(name string) wgconf.SubnetHint {
		p := a.cfg.SubnetFor(name)
		return wgconf.SubnetHint{Subnet: p.Subnet, Endpoint: p.Endpoint, Address: p.Address}
	}
	proc := processor.New(cipher, hints, processor.Options{
		PreferConfigListenPort: a.cfg.Sync.PreferConfigListenPort,
		StoreRawConfig:         a.cfg.Sync.StoreRawConfig,
	})
	store := repo.NewMirrorStore(a.db, a.cfg.Database.Driver, a.cfg.Database.DSN)
	rec := controller.NewReconciler(a.api, files, proc, store, a.cfg.Sync.Interfaces)

	debounce := time.Duration(a.cfg.Sync.DebounceSeconds) * time.Second
	a.coord = controller.NewCoordinator(
		rec.Run,
		func(ctx context.Context) error { return rec.Cleanup(ctx, a.cfg.Cleanup.OlderThanHours) },
		debounce,
	)
	a.watch = watcher.New(a.cfg.Sync.ConfigDir, debounce, func() {
		a.coord.RequestDebounced("file-watcher")
	})

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)
	health.RegisterRoutesWithDeps(a.Router, a.db, a.api)

	/* 5) Webhook-поверхность */
	if a.cfg.Webhook.Enabled {
		h := webhook.NewHandler(
			a.cfg.Wgrest.APIKey,
			a.coord.Request,
			func() string { return string(a.coord.State()) },
			a.cfg.Server.HTTPPort,
		)
		webhook.RegisterRoutes(a.Router, h)
	}
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	if !a.api.HealthCheck(a.ctx) {
		logs.Logger.Warn("wgrest API not reachable at startup")
	}

	// Первичная синхронизация; её неуспех не валит сервис.
	a.coord.Request("startup")

	switch a.cfg.Sync.Mode {
	case "polling":
		a.coord.StartPolling(time.Duration(a.cfg.Sync.IntervalSeconds) * time.Second)
	default: // event-driven
		if err := a.watch.Start(); err != nil {
			logs.Logger.Errorf("file monitoring unavailable: %v", err)
		}
	}

	if a.cfg.Cleanup.Enabled {
		if err := a.coord.StartCleanup(a.cfg.Cleanup.Time); err != nil {
			logs.Logger.Errorf("cleanup scheduling failed: %v", err)
		}
	}

	<-a.ctx.Done()
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}

	if a.cfg.Sync.Mode != "polling" {
		a.watch.Stop()
	}
	// Дожидаемся идущего прогона: на середине записи ничего не бросаем.
	a.coord.Shutdown()

	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logs.Logger.Info("shutdown complete")
	return nil
}
