package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/config"
	"roomchat/internal/db"
	clog "roomchat/internal/log"
	"roomchat/internal/mailer"
	"roomchat/internal/mw"
	"roomchat/internal/presence"
	"roomchat/internal/server"
	"roomchat/internal/service"
	"roomchat/internal/store"
	"roomchat/internal/ws"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to TOML configuration file",
		Sources: cli.EnvVars("CONFIG_FILE"),
	}
}

func main() {
	app := &cli.Command{
		Name:   "roomchat",
		Usage:  "Room chat server with email verification and login lockout",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP and WebSocket server",
				Flags:  []cli.Flag{configFlag()},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update database tables and exit",
				Flags:  []cli.Flag{configFlag()},
				Action: migrate,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

// setup 加载并校验配置、初始化日志，再连接数据库并迁移表结构。
func setup(cmd *cli.Command) (config.Config, *gorm.DB, error) {
	cfg, err := config.LoadFrom(cmd.String("config"))
	if err != nil {
		return cfg, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, nil, err
	}
	clog.Init(cfg.Env, cfg.LogLevel)

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return cfg, nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return cfg, nil, err
	}
	return cfg, gdb, nil
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	_, _, err := setup(cmd)
	if err != nil {
		return err
	}
	log.Info().Msg("migration complete")
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, gdb, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(gdb)

	// 验证码默认存数据库并由 sweeper 清理；配置了 Redis 时改用 key TTL 过期
	var otpStore service.OTPStore = st
	if cfg.RedisURL != "" {
		rdb, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		otpStore = store.NewRedisOTPStore(rdb, store.DefaultOTPGrace)
		log.Info().Msg("otp records stored in redis")
	} else {
		db.StartOTPSweeper(ctx, st, time.Duration(cfg.OTPSweepSeconds)*time.Second)
	}

	transport, err := mailer.New(cfg)
	if err != nil {
		return err
	}

	registry := presence.NewRegistry()
	hub := ws.NewHub(registry)
	defer hub.Close()

	msgs := service.NewMessageService(st, hub)
	rooms := service.NewRoomService(st, registry)
	otp := service.NewOTPService(otpStore, transport, service.OTPOptions{
		TTL:                 time.Duration(cfg.OTPTTLSeconds) * time.Second,
		RollbackOnSendError: cfg.OTPRollbackOnSendError,
	})
	guard := service.NewLockoutGuard(st, cfg.LockoutThreshold, time.Duration(cfg.LockoutSeconds)*time.Second, nil)
	users := service.NewUserService(st, otp, guard, cfg.JWTSecret, cfg.AccessTokenTTLMinutes)

	h := server.NewHandler(cfg, users, rooms, msgs, server.NewSessionStore(cfg))
	gw := ws.NewGateway(hub, msgs, rooms, cfg.HistoryLimit, time.Duration(cfg.WSEventTimeoutSeconds)*time.Second)
	// 控制单个 IP+路由的速率，避免验证码接口被刷。
	limiter := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(h, gw, st, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
