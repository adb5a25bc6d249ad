package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/server"
	"github.com/momo-shadow/shadow-engine/internal/storage"
)

// shadow-recorder persists the notifications of one or more engines from NATS
func main() {
	var configPath = flag.String("config", "config/shadow-recorder.yml", "配置文件路径")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	flag.Parse()

	// 设置日志
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("加载配置失败")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if cfg.NATS.URL == "" || cfg.Database.DSN == "" {
		log.Fatal().Msg("nats.url and database.dsn are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("连接数据库失败")
	}
	defer store.Close()

	// 连接NATS
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.ClientName+"-recorder"),
		nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		log.Fatal().Err(err).Msg("连接NATS失败")
	}
	defer nc.Close()

	recorder := server.NewNATSRecorder(nc, store, cfg.NATS.SubjectPrefix)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := recorder.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Recorder stopped")
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到退出信号，正在关闭...")
	case <-ctx.Done():
		log.Info().Msg("上下文取消，正在关闭...")
	}

	cancel()
	<-done
	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
	}
	log.Info().Msg("Shadow recorder stopped")
}
