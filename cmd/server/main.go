package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/bridge"
	"github.com/dkeye/relay/internal/chat"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/history"
	"github.com/dkeye/relay/internal/relay"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	hist := history.New(cfg.HistoryDir)
	hub := chat.NewHub(hist)

	udp, err := relay.Start(cfg.UDPPort)
	if err != nil {
		log.Fatal().Err(err).Int("port", cfg.UDPPort).Msg("failed to bind UDP relay")
	}

	srv := chat.NewServer(hub, udp.Port(), cfg.MaxVoiceBytes, cfg.PoolSize)
	if err := srv.Listen(cfg.TCPPort); err != nil {
		log.Fatal().Err(err).Int("port", cfg.TCPPort).Msg("failed to bind TCP listener")
	}

	var wsBridge *bridge.Bridge
	if cfg.BridgePort > 0 {
		wsBridge = bridge.New(cfg, srv.Port())
		wsBridge.Start()
	}

	go func() {
		if err := srv.Serve(); err != nil {
			log.Error().Err(err).Msg("accept loop error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	_ = srv.Close()
	_ = udp.Close()
	hub.CloseAll()
	if wsBridge != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := wsBridge.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("bridge forced to shutdown")
		}
	}
	srv.Wait()
	log.Info().Msg("Server exited gracefully")
}
