// Command settled runs the intent settlement daemon: the engine, its REST and
// websocket API, the event bus, the journal indexer and the metrics listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"intent-settlement/internal/api"
	"intent-settlement/internal/auth"
	"intent-settlement/internal/config"
	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/journal"
	"intent-settlement/internal/ledger"
	"intent-settlement/internal/observability/alerting"
	"intent-settlement/internal/observability/metrics"
	"intent-settlement/internal/settlement"
	"intent-settlement/internal/storage/mysql"
	"intent-settlement/internal/storage/postgres"
	"intent-settlement/internal/web3"
	"intent-settlement/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("settled: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv(filepath.Join("configs", "settled.json")))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("settled")

	book, closeBook, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeBook()

	assetFile, err := ledger.LoadAssets(cfg.Ledger.AssetsFile)
	if err != nil {
		return err
	}
	assets, err := ledger.NewRegistry(assetFile.Assets)
	if err != nil {
		return err
	}
	// 创世余额只写入内存账本，持久化账本在重启后保留原有余额。
	if cfg.Ledger.Driver == "memory" {
		if err := ledger.Seed(ctx, book, assets, assetFile.Balances); err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
	}

	bus, err := openBus(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer bus.Close()

	store, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	alerter := alerting.NewFanout(notifiers...)

	domain, err := cfg.Protocol.Domain()
	if err != nil {
		return err
	}
	if cfg.Protocol.RPCURL != "" {
		if err := checkChain(ctx, cfg.Protocol.RPCURL, domain); err != nil {
			return err
		}
	}
	verifier, err := cfg.Protocol.Verifier()
	if err != nil {
		return err
	}
	params, err := cfg.Protocol.Params()
	if err != nil {
		return err
	}

	hub := events.NewHub()
	defer hub.Close()
	m := metrics.New("")

	engine, err := settlement.New(intent.NewCodec(domain), book, params,
		settlement.WithVerifier(verifier),
		settlement.WithPublisher(events.Fanout{bus, hub}),
		settlement.WithPublishTimeout(cfg.Events.PublishTimeout.Duration),
		settlement.WithObserver(m),
		settlement.WithAlerter(alerter),
	)
	if err != nil {
		return err
	}

	indexer := journal.NewIndexer(store, bus,
		journal.WithWorkerCount(cfg.Journal.Workers),
		journal.WithRetry(cfg.Journal.MaxAttempts, 200*time.Millisecond),
		journal.WithAlertDispatcher(alerter),
	)

	m.Gauge("stream", "subscribers", "Open event stream subscriptions.", func() float64 {
		return float64(hub.Subscribers())
	})
	m.Counter("stream", "dropped_total", "Events dropped for slow stream subscribers.", func() float64 {
		return float64(hub.Dropped())
	})
	m.Counter("journal", "indexed_total", "Events appended to the journal since start.", func() float64 {
		return float64(indexer.Indexed())
	})

	authSvc, err := auth.NewService(auth.Config{
		Secret:    cfg.Auth.Secret,
		Issuer:    cfg.Auth.Issuer,
		TokenTTL:  cfg.Auth.TokenTTL.Duration,
		LoginSkew: cfg.Auth.LoginSkew.Duration,
	}, auth.WithVerifier(verifier))
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, engine,
		api.WithAuth(authSvc),
		api.WithJournal(store),
		api.WithLedger(book, assets),
		api.WithHub(hub),
		api.WithMetrics(m),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		api.WithReadTimeout(cfg.Server.ReadTimeout.Duration),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Duration),
	)

	lg.Info("settlement daemon starting",
		slog.String("address", cfg.Server.Address),
		slog.String("metrics_address", cfg.Server.MetricsAddress),
		slog.String("domain_separator", engine.Codec().DomainSeparator().Hex()),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("journal", cfg.Journal.Driver),
		slog.Int("assets", len(assets.Assets())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := indexer.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return m.StartServer(gctx, cfg.Server.MetricsAddress) })
	g.Go(func() error { return server.Start(gctx) })

	err = g.Wait()
	lg.Info("settlement daemon stopped", slog.Any("error", err))
	return err
}

func checkChain(ctx context.Context, rpcURL string, domain intent.Domain) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := web3.Dial(ctx, rpcURL)
	if err != nil {
		return err
	}
	defer client.Close()
	snap, err := client.CheckDomain(ctx, domain)
	if err != nil {
		return err
	}
	logger.Named("settled").Info("signing domain matches chain",
		slog.String("chain_id", snap.ChainID.String()),
		slog.Uint64("block_number", snap.BlockNumber),
		slog.Int("contract_code_size", snap.ContractCode))
	return nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Book, func(), error) {
	switch cfg.Driver {
	case "mysql":
		l, err := mysql.NewLedger(ctx, mysql.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return ledger.NewMemory(), func() {}, nil
	}
}

func openBus(ctx context.Context, cfg config.EventsConfig) (events.Bus, error) {
	switch cfg.Driver {
	case "redis":
		return events.NewRedisBus(ctx, cfg.Redis)
	case "rabbitmq":
		return events.NewRabbitMQBus(cfg.RabbitMQ)
	default:
		return events.NewMemoryBus(cfg.Buffer), nil
	}
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.OpenJournal(ctx, cfg.DSN)
	default:
		return journal.NewMemoryStore(), nil
	}
}
