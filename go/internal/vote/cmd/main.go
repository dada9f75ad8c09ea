package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devyyj/joyopi/go/internal/config"
	"github.com/devyyj/joyopi/go/internal/console"
	"github.com/devyyj/joyopi/go/internal/session/conn"
	"github.com/devyyj/joyopi/go/internal/session/engine"
	"github.com/devyyj/joyopi/go/internal/session/notify"
	"github.com/devyyj/joyopi/go/internal/session/protocol"
	"github.com/devyyj/joyopi/go/internal/session/sharelink"
	"github.com/devyyj/joyopi/go/internal/statusapi"
	"github.com/devyyj/joyopi/go/internal/vote"
)

const (
	feature    = "vote"
	alertTitle = "JOY OPI SECRET VOTE"
)

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

	socketURL, err := cfg.VoteURL()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid vote socket url")
	}
	probeAddr, err := conn.ProbeAddress(socketURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid vote socket url")
	}
	link, err := sharelink.Parse(cfg.VotePage())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid vote page url")
	}

	con := console.New(os.Stdin, os.Stdout)
	link.OnChange(func(s string) { con.Printf("share link: %s\n", s) })

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
	connCfg.HeartbeatInterval = cfg.Vote.Heartbeat
	connCfg.OfflinePollInterval = cfg.OfflinePoll

	sess := engine.New(engine.Options{
		Feature: feature,
		URL:     socketURL,
		Monitor: conn.ProbeMonitor{Address: probeAddr},
		Conn:    connCfg,
		Sink:    sinks,
	})
	alerter := &notify.Alerter{
		Sink:    sinks,
		Desktop: notify.CommandDesktop{},
		Focus:   con,
		Title:   alertTitle,
	}
	coord := vote.NewCoordinator(sess, sess.Scheduler(), sinks, alerter, link)

	log.Info().
		Str("session_id", sess.ID()).
		Str("url", socketURL).
		Str("code", link.Code()).
		Msg("starting vote client")

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

	log.Info().Msg("vote client shutdown complete")
}

func registerCommands(con *console.Console, sess *engine.Session, coord *vote.Coordinator, do func(func() error) error) {
	noArgs := func(fn func() error) func([]string) error {
		return func([]string) error { return do(fn) }
	}

	con.Handle("rooms", "", noArgs(coord.RequestRoomCount))
	con.Handle("create", "", noArgs(coord.CreateRoom))
	con.Handle("join", "<4-digit code>", func(args []string) error {
		if len(args) != 1 {
			return console.ErrUsage
		}
		return do(func() error { return coord.JoinRoom(args[0]) })
	})
	con.Handle("leave", "", noArgs(coord.LeaveRoom))
	con.Handle("start", "", noArgs(coord.StartVote))
	con.Handle("yes", "", noArgs(coord.SubmitVote))
	con.Handle("skip", "", noArgs(coord.SkipTurn))

	con.Handle("status", "", func([]string) error {
		var snap vote.Snapshot
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
		con.Printf("%s (%s)\n%s\n", snap.View, sess.State(), body)
		return nil
	})

	con.Handle("offline", "", func([]string) error {
		sess.GoOffline()
		return nil
	})
}
