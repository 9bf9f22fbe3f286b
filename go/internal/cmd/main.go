package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/questline/questline/go/clients/questapi"
	"github.com/questline/questline/go/internal/quest/auth"
	"github.com/questline/questline/go/internal/quest/clocksync"
	"github.com/questline/questline/go/internal/quest/events"
	"github.com/questline/questline/go/internal/quest/realtime"
	"github.com/questline/questline/go/internal/quest/session"
	"github.com/questline/questline/go/internal/quest/taskstate"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := getEnv("QUEST_CONFIG", "quest.yaml")
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	tokens := auth.NewTokenStore()
	if token := os.Getenv("QUEST_TOKEN"); token != "" {
		tokens.Set(token)
	}

	store, err := taskstate.NewFileStore(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StatePath).Msg("failed to open state store")
	}

	clock := clockwork.NewRealClock()
	serverClock := clocksync.New(clock, store)
	api := questapi.NewClient(cfg.API.BaseURL, tokens)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Learn the server clock offset before any timer runs.
	if serverTime, err := api.ServerTime(ctx); err != nil {
		log.Warn().Err(err).Msg("could not learn clock offset, falling back to device clock")
	} else if err := serverClock.LearnOffset(serverTime); err != nil {
		log.Error().Err(err).Msg("failed to persist clock offset")
	}

	connConfig := realtime.DefaultConfig()
	if cfg.Realtime.MinReconnectDelay > 0 {
		connConfig.MinReconnectDelay = cfg.Realtime.MinReconnectDelay
	}
	if cfg.Realtime.MaxReconnectDelay > 0 {
		connConfig.MaxReconnectDelay = cfg.Realtime.MaxReconnectDelay
	}

	// One connection per logical sub-channel.
	participantsConn := realtime.NewConn(cfg.Realtime.ParticipantsURL, tokens, realtime.NewRouter(), connConfig)
	activeSessionConn := realtime.NewConn(cfg.Realtime.ActiveSessionURL, tokens, realtime.NewRouter(), connConfig)
	lifecycleConn := realtime.NewConn(cfg.Realtime.LifecycleURL, tokens, realtime.NewRouter(), connConfig)

	for _, conn := range []*realtime.Conn{participantsConn, activeSessionConn, lifecycleConn} {
		if err := conn.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to connect sub-channel")
		}
		defer conn.Disconnect()
	}

	channel := realtime.NewSessionChannel(participantsConn)
	if err := channel.Join(cfg.SessionID); err != nil {
		log.Error().Err(err).Int("session_id", cfg.SessionID).Msg("failed to join session")
	}
	progress := realtime.NewSessionChannel(activeSessionConn)
	if err := progress.Subscribe(cfg.SessionID); err != nil {
		log.Error().Err(err).Int("session_id", cfg.SessionID).Msg("failed to subscribe to session progress")
	}
	if err := store.SetActiveSession(cfg.SessionID); err != nil {
		log.Error().Err(err).Msg("failed to persist active session marker")
	}

	monitor := session.NewMonitor(clock, serverClock, store, nil)
	defer monitor.Stop()

	if details, err := api.GetSession(ctx, cfg.SessionID); err != nil {
		log.Error().Err(err).Msg("failed to fetch session details")
	} else {
		monitor.Refresh(session.Record{
			SessionID:   details.SessionID,
			StartAt:     details.StartAt,
			MaxDuration: time.Duration(details.MaxDurationMinutes) * time.Minute,
			IsActive:    details.IsActive,
		})
	}

	roster := events.NewRoster()
	joined := participantsConn.Router().Subscribe(events.ParticipantJoined)
	left := participantsConn.Router().Subscribe(events.ParticipantLeft)
	passed := activeSessionConn.Router().Subscribe(events.PointPassed)
	cancelled := lifecycleConn.Router().Subscribe(events.SessionCancelled)
	ended := lifecycleConn.Router().Subscribe(events.SessionEnded)

	go func() {
		for {
			select {
			case frame, ok := <-joined.Frames():
				if !ok {
					return
				}
				if p, err := events.ParsePayload(&frame); err == nil {
					payload := p.(events.ParticipantJoinedPayload)
					if roster.Apply(events.DeltaFromJoined(payload)) {
						log.Info().Int("participant_id", payload.ParticipantID).Msg("participant joined")
					}
				}
			case frame, ok := <-left.Frames():
				if !ok {
					return
				}
				if p, err := events.ParsePayload(&frame); err == nil {
					payload := p.(events.ParticipantLeftPayload)
					if roster.Apply(events.DeltaFromLeft(payload)) {
						log.Info().Int("participant_id", payload.ParticipantID).Msg("participant left")
					}
				}
			case frame, ok := <-passed.Frames():
				if !ok {
					return
				}
				if p, err := events.ParsePayload(&frame); err == nil {
					payload := p.(events.PointPassedPayload)
					log.Info().Int("point_id", payload.PointID).Msg("point passed")
				}
			case _, ok := <-cancelled.Frames():
				if !ok {
					return
				}
				log.Info().Msg("session cancelled by server")
				cancel()
			case _, ok := <-ended.Frames():
				if !ok {
					return
				}
				log.Info().Msg("session ended by server")
				cancel()
			case phase, ok := <-monitor.Phases():
				if !ok {
					return
				}
				log.Info().Str("phase", phase.String()).Msg("session phase changed")
				if phase == session.PhaseCompleted {
					cancel()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for shutdown signal or session completion
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down quest client")
	if err := channel.Leave(cfg.SessionID); err != nil {
		log.Debug().Err(err).Msg("leave session failed during shutdown")
	}
}
