package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/handlers"
	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/pubsub"
	"github.com/ternarybob/taskstream/internal/services/llm"
	"github.com/ternarybob/taskstream/internal/services/queue"
	"github.com/ternarybob/taskstream/internal/services/tasks"
	badgerstore "github.com/ternarybob/taskstream/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB      *badgerstore.BadgerDB
	Storage interfaces.TaskLogStorage

	// Transport
	Broker *pubsub.Broker // embedded relay, only set without an external relay
	Relay  interfaces.RelayService
	Queue  interfaces.QueueClient

	// Task pipeline
	Generator  interfaces.GenerationService
	Executor   *tasks.Executor
	Dispatcher *tasks.Dispatcher

	// HTTP handlers
	TaskHandler    *handlers.TaskHandler
	WebhookHandler *handlers.WebhookHandler
	StreamHandler  *handlers.StreamHandler
	WSHandler      *handlers.WebSocketHandler

	scheduler *cron.Cron
}

// New creates and wires all application components
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initRelay(); err != nil {
		return nil, err
	}
	if err := a.initPipeline(); err != nil {
		return nil, err
	}
	a.initHandlers()
	a.initScheduler()

	return a, nil
}

func (a *App) initStorage() error {
	db, err := badgerstore.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger database: %w", err)
	}
	a.DB = db
	a.Storage = badgerstore.NewTaskStorage(db, a.Config.TaskTTL(), a.Logger)

	a.Logger.Info().
		Str("path", a.Config.Storage.Badger.Path).
		Dur("task_ttl", a.Config.TaskTTL()).
		Msg("Task log storage initialized")
	return nil
}

func (a *App) initRelay() error {
	if a.Config.Relay.URL == "" {
		// No external relay configured; run the embedded broker. Its REST
		// surface is mounted on the server so external subscribers still work.
		a.Broker = pubsub.NewBroker(a.Logger)
		a.Relay = pubsub.NewLocalRelay(a.Broker, a.Config.Relay.ChannelPrefix, a.Logger)
		a.Logger.Info().Msg("Using embedded pub/sub broker (no relay URL configured)")
		return nil
	}

	relay, err := pubsub.NewClient(&a.Config.Relay, a.Config.RelayPublishTimeout(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}
	a.Relay = relay

	a.Logger.Info().Str("url", a.Config.Relay.URL).Msg("Using external relay")
	return nil
}

func (a *App) initPipeline() error {
	generator, err := llm.NewGenerationService(&a.Config.LLM, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create generation service: %w", err)
	}
	a.Generator = generator
	a.Executor = tasks.NewExecutor(a.Storage, a.Relay, a.Generator, a.Logger)

	if a.Config.Queue.Endpoint == "" {
		// No external queue configured; deliver in-process. No retries, no
		// durability, acceptable for development only.
		a.Queue = queue.NewLocalClient(a.localDelivery, a.Config.QueueTimeout(), a.Logger)
		a.Logger.Warn().Msg("Using in-process task delivery (no queue endpoint configured)")
	} else {
		client, err := queue.NewClient(&a.Config.Queue, a.Config.QueueTimeout(), a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create queue client: %w", err)
		}
		a.Queue = client
		a.Logger.Info().Str("endpoint", a.Config.Queue.Endpoint).Msg("Using external durable queue")
	}

	a.Dispatcher = tasks.NewDispatcher(a.Storage, a.Queue, a.Config, a.Logger)
	return nil
}

// localDelivery feeds in-process queue deliveries straight to the executor
func (a *App) localDelivery(ctx context.Context, body []byte) error {
	payload, err := tasks.DecodeWebhookPayload(body)
	if err != nil {
		return err
	}
	_, err = a.Executor.Execute(ctx, payload)
	return err
}

func (a *App) initHandlers() {
	var verifier interfaces.DeliveryVerifier
	if a.Config.Queue.SigningKey != "" {
		if receiver, err := queue.NewReceiver(&a.Config.Queue, a.Logger); err == nil {
			verifier = receiver
		}
	}

	pingInterval := a.Config.PingInterval()
	graceWait := a.Config.StreamGraceWait()

	a.TaskHandler = handlers.NewTaskHandler(a.Dispatcher, a.Storage, a.Logger)
	a.WebhookHandler = handlers.NewWebhookHandler(a.Executor, verifier, a.Config, a.Dispatcher.WebhookURL(), a.Logger)
	a.StreamHandler = handlers.NewStreamHandler(a.Storage, a.Relay, pingInterval, graceWait, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Storage, a.Relay, pingInterval, graceWait, a.Logger)
}

func (a *App) initScheduler() {
	schedule := a.Config.Storage.Badger.GCSchedule
	if schedule == "" {
		return
	}

	a.scheduler = cron.New()
	_, err := a.scheduler.AddFunc(schedule, a.DB.RunGC)
	if err != nil {
		a.Logger.Warn().Err(err).Str("schedule", schedule).Msg("Invalid GC schedule, value log GC disabled")
		a.scheduler = nil
		return
	}
	a.scheduler.Start()

	a.Logger.Info().Str("schedule", schedule).Msg("Badger value log GC scheduled")
}

// Close releases all application resources
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if a.Generator != nil {
		if err := a.Generator.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close generation service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close badger database: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
