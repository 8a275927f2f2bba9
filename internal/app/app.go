package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskboard/internal/auth"
	"taskboard/internal/cache"
	"taskboard/internal/config"
	"taskboard/internal/jobs"
	"taskboard/internal/logging"
	"taskboard/internal/mail"
	"taskboard/internal/repo"
	"taskboard/internal/service"
	"taskboard/migrations"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

type App struct {
	cfg    config.Config
	log    *slog.Logger
	db     *pgxpool.Pool
	redis  *redis.Client
	auth   *service.AuthService
	jobs   *jobs.Scheduler
	router *gin.Engine
}

func New(cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	db, err := newPostgres(cfg.PG)
	if err != nil {
		return nil, err
	}
	a.db = db

	rdb, err := newRedis(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.redis = rdb

	if err := runMigrations(db); err != nil {
		a.redis.Close()
		a.db.Close()
		return nil, err
	}

	mailer, err := newMailer(cfg.Mail, log)
	if err != nil {
		a.redis.Close()
		a.db.Close()
		return nil, err
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL.Duration(), cfg.Auth.ResetTokenTTL.Duration())
	window := cfg.Auth.ThrottleWindow.Duration()
	authSvc := service.NewAuthService(service.AuthDeps{
		Users:       repo.NewPGUserRepo(db),
		Tokens:      tokens,
		Ledger:      auth.NewResetLedger(rdb),
		Mailer:      mailer,
		LoginLimit:  auth.NewThrottle(rdb, "login", cfg.Auth.ThrottleLimit, window),
		ResetLimit:  auth.NewThrottle(rdb, "forgot", cfg.Auth.ThrottleLimit, window),
		FrontendURL: cfg.App.FrontendURL,
		BcryptCost:  cfg.Auth.BcryptCost,
		Log:         log,
	})
	a.auth = authSvc
	categories := repo.NewPGCategoryRepo(db)
	taskSvc := service.NewTaskService(
		repo.NewPGTaskRepo(db),
		categories,
		cache.NewTaskCache(rdb, cfg.Redis.DefaultTTL.Duration()),
		log,
	)

	a.jobs = jobs.NewScheduler(log)
	if err := a.jobs.ScheduleCategorySweep(cfg.Jobs.CategorySweepSchedule, categories); err != nil {
		a.redis.Close()
		a.db.Close()
		return nil, err
	}
	a.jobs.Start()

	a.router = newRouter(cfg, Deps{
		Log:     log,
		Tokens:  tokens,
		AuthSvc: authSvc,
		TaskSvc: taskSvc,
		Checks: map[string]func(context.Context) error{
			"postgres": db.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	return a, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Close stops background jobs, waits for pending reset mails and releases connections.
func (a *App) Close(ctx context.Context) error {
	if a.jobs != nil {
		a.waitOrWarn(ctx, a.jobs.Stop, "jobs still running at shutdown")
	}
	if a.auth != nil {
		a.waitOrWarn(ctx, a.auth.Wait, "reset mails still sending at shutdown")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

func (a *App) waitOrWarn(ctx context.Context, wait func(), msg string) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn(msg)
	}
}

func newPostgres(cfg config.PGConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg parse config: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}

	return pool, nil
}

func newRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		host, _, _ := strings.Cut(cfg.Addr, ":")
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}

// runMigrations applies the embedded goose migrations through a database/sql view of the pool.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return migrations.Up(db)
}

func newMailer(cfg config.MailConfig, log *slog.Logger) (mail.Sender, error) {
	if cfg.Driver != "smtp" {
		return mail.NewLogSender(log), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		FromName: cfg.FromName,
	})
}

func newRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(d.Log, auth.UserIDFromContext))
	r.Use(cors.New(corsConfig(cfg.CORS)))

	Setup(r, cfg, d)
	return r
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	return cors.Config{
		AllowOriginFunc: originAllowed(cfg.AllowedOrigins, cfg.AllowedOriginSuffixes),
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", logging.RequestIDHeader},
		ExposeHeaders:   []string{"Content-Length", "Content-Type", logging.RequestIDHeader},
		MaxAge:          12 * time.Hour,
	}
}

// originAllowed matches an exact origin or, for suffixes like ".vercel.app", the origin's tail.
func originAllowed(exact, suffixes []string) func(string) bool {
	allowed := make(map[string]struct{}, len(exact))
	for _, o := range exact {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(origin string) bool {
		if _, ok := allowed[origin]; ok {
			return true
		}
		for _, s := range suffixes {
			if strings.HasSuffix(origin, s) {
				return true
			}
		}
		return false
	}
}
