package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/yago-healz/clinic-core/internal/config"
	httpdelivery "github.com/yago-healz/clinic-core/internal/delivery/http"
	"github.com/yago-healz/clinic-core/internal/domain/appointment"
	"github.com/yago-healz/clinic-core/internal/domain/conversation"
	"github.com/yago-healz/clinic-core/internal/domain/journey"
	"github.com/yago-healz/clinic-core/internal/domain/patient"
	"github.com/yago-healz/clinic-core/internal/event"
	"github.com/yago-healz/clinic-core/internal/eventbus"
	"github.com/yago-healz/clinic-core/internal/eventbus/kafka"
	"github.com/yago-healz/clinic-core/internal/eventstore/postgres"
	"github.com/yago-healz/clinic-core/internal/projection"
	"github.com/yago-healz/clinic-core/internal/service"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	// --- Database ---
	db, err := postgres.InitDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to init database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := projection.InitReadModels(db); err != nil {
		slog.Error("Failed to init read models", "err", err)
		os.Exit(1)
	}

	store := postgres.NewStore(db)

	// --- Event bus ---
	bus := eventbus.NewInProcess(logger)
	defer bus.Close()

	allTypes := slices.Concat(
		appointment.Types(),
		conversation.Types(),
		journey.Types(),
		patient.Types(),
	)

	// Optional Kafka mirror for cross-process consumers.
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, logger)
		if err != nil {
			slog.Error("Failed to connect kafka publisher", "err", err)
			os.Exit(1)
		}
		defer publisher.Close()

		bridge := eventbus.HandlerFunc(func(ctx context.Context, e event.Event) error {
			return publisher.PublishMany(ctx, []event.Event{e})
		})
		if err := projection.Subscribe(bus, bridge, allTypes...); err != nil {
			slog.Error("Failed to subscribe kafka bridge", "err", err)
			os.Exit(1)
		}
		slog.Info("Kafka mirror enabled", "brokers", cfg.KafkaBrokers, "topic_prefix", cfg.KafkaTopicPrefix)
	}

	// --- Projections ---
	appointmentList := projection.NewAppointmentList(db)
	conversationList := projection.NewConversationList(db)
	journeyList := projection.NewJourneyList(db)

	for _, p := range []interface {
		eventbus.Handler
		EventTypes() []event.Type
	}{appointmentList, conversationList, journeyList} {
		if err := projection.Subscribe(bus, p, p.EventTypes()...); err != nil {
			slog.Error("Failed to subscribe projection", "err", err)
			os.Exit(1)
		}
	}

	// --- Services ---
	appointments := service.NewAppointmentService(store, bus, appointmentList)
	conversations := service.NewConversationService(store, bus)
	journeys := service.NewJourneyService(store, bus)
	patients := service.NewPatientService(store, bus)

	// --- HTTP API ---
	handler := httpdelivery.NewHandler(db, appointments, conversations, journeys, patients, store)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpdelivery.EnableCORS(mux),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("🚀 HTTP server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")
	httpServer.Shutdown(context.Background())
}
