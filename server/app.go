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

	"otahub/config"
	"otahub/internal/admin"
	"otahub/internal/artifact"
	"otahub/internal/db"
	"otahub/internal/health"
	"otahub/internal/logs"
	"otahub/internal/middleware"
	"otahub/internal/models"
	"otahub/internal/ota"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

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

	/* 2) DB (опционально; без неё — in-memory реестры) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d

		if err := a.db.AutoMigrate(&models.Device{},
			&models.Group{},
			&models.ActivityEntry{}); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
	}

	/* 3) Хранилище артефактов + реестры + движок */
	art, err := artifact.New(a.cfg.OTA.ArtifactDir)
	if err != nil {
		log.Fatalf("artifact store init failed: %v", err)
	}
	st := newStores(a.db)
	eng := ota.NewEngine(st.devices, st.groups, st.alog, art)

	verifier := admin.TokenVerifier{
		Token:   a.cfg.OTA.AdminToken,
		HashHex: a.cfg.OTA.AdminTokenHash,
	}
	oh := ota.NewHandler(eng, art,
		a.cfg.OTA.LegacyAPIKey,
		a.cfg.OTA.AllowAnonymousCheck,
		verifier.RequestOK)

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 5) Health */
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	/* 6) Девайсовый API + админка */
	ota.RegisterRoutes(a.Router, oh)
	admin.Attach(a.Router, admin.Dependencies{
		Devices: st.devices,
		Groups:  st.groups,
		Log:     st.alog,
		Eng:     eng,
		Art:     art,
	}, verifier)

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
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

	// Жёсткие Read/WriteTimeout здесь не ставим: загрузка и раздача прошивки
	// на медленном канале легко живёт дольше любой разумной константы.
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
