package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/stan.go"

	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/external"
	"tourbook/internal/messaging"
	"tourbook/internal/models"
	"tourbook/internal/notifier"
	"tourbook/internal/repository"
	"tourbook/internal/repository/memory"
	"tourbook/internal/search"
	"tourbook/internal/seed"
	"tourbook/internal/service"
)

const queueGroup = "consumers"

type ConsumerService struct {
	db         *database.DB
	nats       *messaging.NATSClient
	handlers   *Handlers
	expiration *ExpirationJob
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return nil, errors.New("consumers require STORE_DRIVER=postgres; the memory store runs the sweep inside the API")
	}
	if !cfg.NATS.Enabled {
		return nil, errors.New("consumers require NATS_ENABLED=true")
	}

	location, err := cfg.Booking.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		db.Close()
		return nil, err
	}

	cs := &ConsumerService{db: db, nats: natsClient}

	var activities repository.ActivityStore = memory.NewActivities(seed.Activities()...)
	if cfg.Elasticsearch.Enabled {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			cs.Shutdown(context.Background())
			return nil, err
		}
		activities = repository.NewActivityElasticsearchRepository(es, nil)
	}

	repos := repository.NewRepositories(db, activities)
	services := service.NewServices(repos, natsClient, external.NewPaymentClient(cfg.Payment), cfg.Payment, service.Policy{
		DefaultCapacity:     cfg.Booking.DefaultCapacity,
		LeadTimeDays:        cfg.Booking.LeadTimeDays,
		Location:            location,
		MaxAvailabilityDays: cfg.Booking.MaxAvailabilityDays,
		RefPrefix:           cfg.Booking.RefPrefix,
		HoldTTL:             cfg.Booking.HoldTTL,
		ApplyCouponStrict:   cfg.Booking.ApplyCouponStrict,
	})

	cs.handlers = NewHandlers(nil)
	if cfg.SMTP.Enabled {
		mailer, err := notifier.NewMailer(cfg.SMTP)
		if err != nil {
			cs.Shutdown(context.Background())
			return nil, err
		}
		cs.handlers = NewHandlers(mailer)
	}

	cs.expiration = NewExpirationJob(services.Bookings, cfg.Booking.SweepInterval, cfg.Booking.HoldTTL)

	return cs, nil
}

func (cs *ConsumerService) Start(ctx context.Context) error {
	slog.Info("Starting NATS consumers...")

	subscriptions := []struct {
		subject string
		handle  stan.MsgHandler
	}{
		{models.EventBookingConfirmed, cs.handlers.HandleBookingConfirmed},
		{models.EventBookingCancelled, cs.handlers.HandleBookingCancelled},
		{models.EventHoldReleased, cs.handlers.HandleHoldReleased},
		{models.EventPaymentFailed, cs.handlers.HandlePaymentFailed},
	}
	for _, sub := range subscriptions {
		if _, err := cs.nats.SubscribeQueue(sub.subject, queueGroup, sub.handle); err != nil {
			return err
		}
	}

	if err := cs.expiration.Start(ctx); err != nil {
		return fmt.Errorf("failed to start expiration job: %w", err)
	}

	slog.Info("All consumers started successfully")
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	if cs.expiration != nil {
		if err := cs.expiration.Stop(); err != nil {
			slog.Error("Error stopping expiration job", "error", err)
		}
	}

	if cs.nats != nil {
		if err := cs.nats.Close(); err != nil {
			slog.Error("Error closing NATS connection", "error", err)
		}
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
