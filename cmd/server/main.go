package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Juliapixel/chat-bingo/internal/config"
	"github.com/Juliapixel/chat-bingo/internal/game"
	"github.com/Juliapixel/chat-bingo/internal/handler"
	"github.com/Juliapixel/chat-bingo/internal/session"
	"github.com/Juliapixel/chat-bingo/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("載入配置失敗: %w", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 設置日誌
	log, closer, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.Level == "debug", // debug 模式顯示源碼位置
	})
	if err != nil {
		return fmt.Errorf("初始化日誌失敗: %w", err)
	}
	defer closer.Close()

	strategy, err := game.ParseBoardStrategy(cfg.Game.BoardStrategy)
	if err != nil {
		return err
	}

	// 創建遊戲管理器
	manager := game.NewManager(log, game.ManagerConfig{
		GameOptions: []game.Option{
			game.WithEventBuffer(cfg.Game.EventBuffer),
			game.WithBoardStrategy(strategy),
		},
		MaxAge:          cfg.Game.MaxAge,
		CleanupInterval: cfg.Game.CleanupInterval,
	})

	// 創建 WebSocket Hub
	hub := session.NewHub(manager, log, session.HubConfig{
		Session: session.Config{
			Heartbeat: session.Heartbeat{
				Interval: cfg.Session.HeartbeatInterval,
				Leniency: cfg.Session.HeartbeatLeniency,
			},
			WriteTimeout:  cfg.Session.WriteTimeout,
			ReadLimit:     cfg.Session.ReadLimit,
			InboundBuffer: cfg.Session.InboundBuffer,
		},
		ReconnectDelay: cfg.Game.ReconnectDelay,
		AllowedOrigins: cfg.Session.AllowedOrigins,
	})

	h := handler.NewHandler(manager, hub, log)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// 啟動服務器
	g.Go(func() error {
		log.Info("賓果服務器啟動",
			"port", cfg.Server.Port,
			"log_level", cfg.Log.Level,
			"board_strategy", cfg.Game.BoardStrategy)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服務器啟動失敗: %w", err)
		}
		return nil
	})

	// 等待中斷信號後優雅關閉
	g.Go(func() error {
		<-gctx.Done()
		log.Info("收到關閉信號，開始優雅關閉...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// 停止接受新連接；已升級的 WebSocket 不受 server.Shutdown 管理
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("服務器關閉失敗", "error", err)
		}

		// 通知客戶端重連並結束所有 session
		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Error("WebSocket Hub 關閉失敗", "error", err)
		}

		// 停止遊戲管理器
		manager.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("服務器已關閉")
	return nil
}
