package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/airband/gateway/internal/adapters/http"
	"github.com/airband/gateway/internal/adapters/rtc"
	signalws "github.com/airband/gateway/internal/adapters/signal"
	"github.com/airband/gateway/internal/config"
	"github.com/airband/gateway/internal/domain"
	"github.com/airband/gateway/internal/record"
	"github.com/airband/gateway/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// The watch callback fires long after startup; the pointer closes the
	// construction-order gap between config and session.
	var live atomic.Pointer[session.Session]
	cfg, err := config.LoadAndWatch(func(fresh *config.Config) {
		s := live.Load()
		if s == nil {
			return
		}
		s.EnableRecording(fresh.Recording.Enabled, fresh.Recording.Path, fresh.Recording.TimestampFormat)
		s.SetRecordingGain(fresh.Recording.RxGainDB, fresh.Recording.TxGainDB)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	codec, err := domain.ParseCodec(cfg.Session.Codec)
	if err != nil {
		log.Fatal().Err(err).Str("codec", cfg.Session.Codec).Msg("bad codec in config")
	}

	rec := record.New()
	rec.Configure(cfg.Recording.Enabled, cfg.Recording.Path, cfg.Recording.TimestampFormat)
	rec.SetGainDB(cfg.Recording.RxGainDB, cfg.Recording.TxGainDB)

	sink := session.NewFailSink(cfg.Session.FailureThreshold)
	factory := rtc.NewFactory(rtc.ConfigWithServers(cfg.RTC.ICEServers), codec, sink)
	ctl := signalws.NewController(nil)

	sess, err := session.New(session.Config{
		Polite:        cfg.Session.Polite,
		Codec:         cfg.Session.Codec,
		ConsumerRate:  cfg.Session.ConsumerRate,
		Label:         cfg.Session.Label,
		RxTimeout:     cfg.Session.RxTimeout,
		TxTimeout:     cfg.Session.TxTimeout,
		OfferDebounce: cfg.Session.OfferDebounce,
	}, nil, ctl, factory, rec, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("session setup failed")
	}
	ctl.SetPeer(sess)
	live.Store(sess)

	if err := sess.Start(); err != nil {
		log.Error().Err(err).Msg("initial transport standup failed")
	}

	r := router.SetupRouter(ctx, cfg, sess, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("codec", string(codec)).Msg("gateway started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := sess.Close(); err != nil {
		log.Error().Err(err).Msg("session close failed")
	}
	ctl.Close()
	log.Info().Msg("Gateway exited gracefully")
}
