package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/config"
	"github.com/devyyj/joyopi/go/internal/console"
	"github.com/devyyj/joyopi/go/internal/parrot"
	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/engine"
	"github.com/devyyj/joyopi/go/internal/session/notify"
	"github.com/devyyj/joyopi/go/internal/session/protocol"
	"github.com/devyyj/joyopi/go/internal/statusapi"
)

const feature = "parrot"

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	socketURL, err := cfg.ParrotURL()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid parrot socket url")
	}
	probeAddr, err := conn.ProbeAddress(socketURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid parrot socket url")
	}

	con := console.New(os.Stdin, os.Stdout)
	sinks := notify.Multi{notify.LogSink{}, con}
	if cfg.NATS.URL != "" {
		natsCfg := notify.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		natsSink, err := notify.NewNATSSink(natsCfg)
		if err != nil {
			log.Warn().Err(err).Str("nats_url", cfg.NATS.URL).Msg("notice publishing disabled")
		} else {
			defer natsSink.Close()
			sinks = append(sinks, natsSink)
		}
	}

	con.ReportTo(feature, sinks)

	connCfg := conn.DefaultConfig(protocol.MustEncode(protocol.Ping{}))
	connCfg.HeartbeatInterval = cfg.Parrot.Heartbeat
	connCfg.OfflinePollInterval = cfg.OfflinePoll

	sess := engine.New(engine.Options{
		Feature: feature,
		URL:     socketURL,
		Monitor: conn.ProbeMonitor{Address: probeAddr},
		Conn:    connCfg,
		Sink:    sinks,
	})
	player := parrot.NewTimedPlayer(sess.Scheduler(), cfg.Parrot.Cycle, cfg.Parrot.SoundFile)
	coord := parrot.NewCoordinator(parrot.Config{
		Role:      protocol.Role(cfg.Parrot.Role),
		SoundFile: cfg.Parrot.SoundFile,
	}, sess, sess.Scheduler(), player, sinks)

	log.Info().
		Str("session_id", sess.ID()).
		Str("url", socketURL).
		Str("role", cfg.Parrot.Role).
		Msg("starting parrot client")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	do := func(fn func() error) error { return sess.Do(ctx, fn) }
	registerCommands(con, sess, coord, do)

	if cfg.StatusAddr != "" {
		server := statusapi.NewServer(cfg.StatusAddr, statusapi.NewHandler(feature, sess, func() any {
			return coord.Snapshot()
		}))
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := sess.Run(ctx, coord); err != nil {
			log.Error().Err(err).Msg("session failed")
		}
	}()

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		if err := con.Run(ctx); err != nil {
			log.Debug().Err(err).Msg("console stopped")
			// Without input keep running until a signal arrives.
			<-ctx.Done()
		}
	}()

	// Wait for interrupt signal or quit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-consoleDone:
		log.Info().Msg("console quit")
	case <-sessionDone:
	}

	cancel()
	if err := sess.Close(); err != nil {
		log.Error().Err(err).Msg("session close failed")
	}

	log.Info().Msg("parrot client shutdown complete")
}

func registerCommands(con *console.Console, sess *engine.Session, coord *parrot.Coordinator, do func(func() error) error) {
	con.Handle("role", "GENERAL|PARROT", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		role := protocol.Role(strings.ToUpper(args[0]))
		return do(func() error { return coord.SetRole(role) })
	})

	con.Handle("call", "count <1-100> | duration <minutes 1-360>", func(args []string) error {
		if len(args) != 2 {
			return console.ErrUsage
		}
		amount, err := strconv.Atoi(args[1])
		if err != nil {
			return console.ErrUsage
		}
		mode := protocol.PlaybackMode(strings.ToUpper(args[0]))
		return do(func() error { return coord.RequestTrigger(mode, amount) })
	})

	con.Handle("stop", "", func([]string) error {
		return do(coord.RequestStop)
	})

	con.Handle("status", "", func([]string) error {
		var snap parrot.Snapshot
		if err := do(func() error {
			snap = coord.Snapshot()
			return nil
		}); err != nil {
			return err
		}
		body, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		con.Printf("%s (%s)\n%s\n", snap.StatusLabel, sess.State(), body)
		return nil
	})

	con.Handle("offline", "", func([]string) error {
		sess.GoOffline()
		return nil
	})
}
