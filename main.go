package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/xianrealm/sectd/api/rest"
	"github.com/xianrealm/sectd/audit"
	"github.com/xianrealm/sectd/cache"
	"github.com/xianrealm/sectd/config"
	dbadapter "github.com/xianrealm/sectd/db"
	mw "github.com/xianrealm/sectd/middleware"
	"github.com/xianrealm/sectd/model"
	"github.com/xianrealm/sectd/notify"
	"github.com/xianrealm/sectd/profile"
	"github.com/xianrealm/sectd/scheduler"
	"github.com/xianrealm/sectd/sect"
	"github.com/xianrealm/sectd/sect/task"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheCfg := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheCfg)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheCfg)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Sect Service ----
	profiles := profile.NewStore(db)
	registry := sect.NewRegistry()
	events := sect.NewEventLog(db, pubsub, logger)
	defer events.Stop(context.Background())
	sink := notify.NewSink(pubsub, logger)
	sectSvc := sect.NewService(registry, sect.NewGormStore(db), profiles, profiles, events, sink, sect.Options{
		MaxMembers: cfg.Sect.MaxMembers,
		NameMinLen: cfg.Sect.NameMinLen,
		NameMaxLen: cfg.Sect.NameMaxLen,
		CreateCost: cfg.Sect.CreateCost,
		InviteTTL:  cfg.Sect.InviteTTL,
	}, logger)
	if err := sectSvc.LoadFromStore(context.Background()); err != nil {
		log.Fatalf("load sects: %v", err)
	}
	logger.Info("Sect registry loaded")

	// ---- Reconciler ----
	reconciler := sect.NewReconciler(registry, profiles, logger)

	// ---- Task Refresh Scheduler ----
	taskSched, err := task.NewScheduler(task.Config{
		DailyTime:    cfg.Task.DailyTime,
		WeeklyTime:   cfg.Task.WeeklyTime,
		Timezone:     cfg.Task.Timezone,
		ErrorHistory: cfg.Task.ErrorHistory,
	}, task.SystemClock{}, sect.NewGormTaskEngine(db), sect.RegistryRoster{Registry: registry}, sect.NewGormRecordStore(db), logger)
	if err != nil {
		log.Fatalf("task scheduler: %v", err)
	}
	taskSched.SetMaintainer(sectSvc)
	// Catch up on boundaries crossed while the process was down.
	if err := taskSched.Tick(context.Background()); err != nil {
		logger.Warn("startup refresh catch-up failed", zap.Error(err))
	}

	// ---- Background Jobs ----
	jobs := scheduler.New(logger)
	defer jobs.Stop()

	jobs.Every("task_refresh", cfg.Task.DriverInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		// Cross-instance guard: only one process drives a given tick.
		// Markers keep a skipped tick harmless.
		ok, err := c.SetNX(ctx, "lock:task_refresh", "1", cfg.Task.DriverInterval)
		if err != nil {
			logger.Warn("task refresh lock failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if err := taskSched.Tick(ctx); err != nil {
			logger.Warn("task refresh tick failed", zap.Error(err))
		}
	})
	jobs.Every("sect_flush", time.Duration(cfg.Sect.SaveIntervalS)*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := sectSvc.FlushAll(ctx); err != nil {
			logger.Warn("sect flush failed", zap.Error(err))
		}
	})
	jobs.Every("invite_prune", time.Minute, func() {
		if n := sectSvc.PruneInvites(); n > 0 {
			logger.Debug("pruned expired invites", zap.Int("count", n))
		}
	})
	jobs.Every("mirror_reconcile", time.Hour, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		repaired, err := reconciler.RepairAll(ctx)
		if err != nil {
			logger.Warn("mirror reconcile failed",
				zap.Int("repaired", repaired), zap.Error(err))
			return
		}
		if repaired > 0 {
			logger.Info("mirror reconcile repaired divergences", zap.Int("count", repaired))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	sectH := apirest.NewSectHandler(sectSvc, auditSvc)
	adminH := apirest.NewAdminHandler(reconciler, taskSched)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		sectsG := api.Group("/sects")
		sectsG.Use(mw.Auth(cfg.Security, c))
		sectsG.POST("", sectH.Create)
		sectsG.GET("", sectH.List)
		sectsG.GET("/mine", sectH.Mine)
		sectsG.GET("/:id", sectH.Detail)
		sectsG.POST("/:id/join", sectH.Join)
		sectsG.POST("/leave", sectH.Leave)
		sectsG.DELETE("/:id", sectH.Disband)
		sectsG.DELETE("/:id/members/:pid", sectH.Kick)
		sectsG.POST("/:id/members/:pid/promote", sectH.Promote)
		sectsG.POST("/:id/members/:pid/demote", sectH.Demote)
		sectsG.POST("/:id/invites", sectH.Invite)
		sectsG.POST("/:id/invites/accept", sectH.AcceptInvite)
		sectsG.POST("/:id/donate", sectH.Donate)
		sectsG.POST("/:id/spend", sectH.Spend)
		sectsG.PUT("/:id/announcement", sectH.SetAnnouncement)
		sectsG.PUT("/:id/recruiting", sectH.SetRecruiting)
		sectsG.PUT("/:id/pvp", sectH.SetPvP)

		adminG := api.Group("/admin")
		adminG.Use(mw.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/reconcile", adminH.Reconcile)
		adminG.POST("/reconcile/repair", adminH.ReconcileRepair)
		adminG.POST("/refresh/:cadence", adminH.Refresh)
		adminG.GET("/refresh/status", adminH.RefreshStatus)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// Block until a shutdown signal, then drain: stop accepting requests,
	// flush sect state, and let the deferred Stop calls drain the async
	// writers.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := sectSvc.FlushAll(ctx); err != nil {
		logger.Error("final flush failed", zap.Error(err))
	}
}
