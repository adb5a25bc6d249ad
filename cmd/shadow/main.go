package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/api"
	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/integration"
	"github.com/momo-shadow/shadow-engine/internal/metrics"
	"github.com/momo-shadow/shadow-engine/internal/radio"
	"github.com/momo-shadow/shadow-engine/internal/recon"
	"github.com/momo-shadow/shadow-engine/internal/server"
	"github.com/momo-shadow/shadow-engine/internal/storage"
	"github.com/momo-shadow/shadow-engine/pkg/crypto"
)

func main() {
	// 命令行参数
	var configPath = flag.String("config", "config/shadow.yml", "配置文件路径")
	var validateOnly = flag.Bool("validate", false, "仅验证配置文件")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	var hashToken = flag.String("hash-token", "", "输出 API token 的 bcrypt 哈希并退出")
	flag.Parse()

	// 设置日志
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *hashToken != "" {
		hash, err := crypto.HashToken(*hashToken)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash token")
		}
		fmt.Println(hash)
		return
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("加载配置失败")
	}

	// 设置日志级别
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("无效的日志级别，使用info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if *showConfig || *validateOnly {
		cfg.PrintConfigSummary()
		if *validateOnly {
			fmt.Println("✅ 配置文件验证通过")
		}
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Str("device", cfg.Device.Name).
		Str("interface", cfg.Radio.Interface).
		Str("source", cfg.Radio.Source).
		Msg("Shadow engine starting")

	// 打开射频接口
	rf, err := radio.New(cfg.Radio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open radio")
	}
	defer rf.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 持久化是可选的
	var store storage.Store
	if cfg.Database.DSN != "" {
		sqlStore, err := storage.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to open database")
		}
		defer sqlStore.Close()
		store = sqlStore
		log.Info().Str("driver", cfg.Database.Driver).Msg("Connected to database")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	controller := recon.NewController(cfg, rf, recon.WithRecorder(recorder))

	// Optional: NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = connectNATS(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	var wg sync.WaitGroup

	// 控制循环
	loopDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(loopDone)
		if err := controller.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Controller stopped")
			cancel()
		}
	}()

	// 通知转发, 直到控制循环关闭通知通道
	forwarder := integration.NewForwarder(cfg, nc, store)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := forwarder.Run(context.WithoutCancel(ctx), controller.Notifications()); err != nil {
			log.Error().Err(err).Msg("Forwarder stopped")
		}
	}()

	if store != nil {
		syncer := integration.NewSyncer(store, controller, cfg.Database.SyncInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Snapshot syncer stopped")
			}
		}()
	}

	if nc != nil {
		responder := server.NewCommandResponder(nc, controller, cfg.NATS.SubjectPrefix, cfg.Device.Name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := responder.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("NATS command responder stopped")
			}
		}()
	}

	// REST API
	opts := []api.Option{api.WithMetrics(recorder, registry)}
	if store != nil {
		opts = append(opts, api.WithStore(store))
	}
	apiServer := api.NewRESTServer(cfg, controller, opts...)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("REST API server failed")
			cancel()
		}
	}()

	// 处理系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到退出信号，正在关闭...")
	case <-ctx.Done():
		log.Info().Msg("上下文取消，正在关闭...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	cancel()
	<-loopDone
	wg.Wait()

	snap := controller.Snapshot()
	log.Info().
		Int("aps", len(snap.AccessPoints)).
		Int("clients", len(snap.Clients)).
		Int("captures", len(snap.Captures)).
		Msg("Shadow engine stopped")
}

func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	return nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.ClientName),
		nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
}
