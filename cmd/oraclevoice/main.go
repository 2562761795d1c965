package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	ovconfig "github.com/spiralogic/oraclevoice/config"
	"github.com/spiralogic/oraclevoice/internal/httputil"
	"github.com/spiralogic/oraclevoice/internal/speech/artifact"
	"github.com/spiralogic/oraclevoice/internal/speech/catalog"
	speechhandler "github.com/spiralogic/oraclevoice/internal/speech/handler"
	"github.com/spiralogic/oraclevoice/internal/speech/health"
	"github.com/spiralogic/oraclevoice/internal/speech/history"
	"github.com/spiralogic/oraclevoice/internal/speech/queue"
	"github.com/spiralogic/oraclevoice/internal/speech/router"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
	"github.com/spiralogic/oraclevoice/pkg/events"
	"github.com/spiralogic/oraclevoice/pkg/urlvalidation"
	"github.com/spiralogic/oraclevoice/pkg/webhook"
	webhookapi "github.com/spiralogic/oraclevoice/pkg/webhook/api"

	// Register synthesis engines via init().
	_ "github.com/spiralogic/oraclevoice/internal/speech/backends/elevenlabs"
	_ "github.com/spiralogic/oraclevoice/internal/speech/backends/google"
	_ "github.com/spiralogic/oraclevoice/internal/speech/backends/openai"
	_ "github.com/spiralogic/oraclevoice/internal/speech/backends/piper"
	_ "github.com/spiralogic/oraclevoice/internal/speech/backends/sesame"
)

const artifactRoute = "/api/v1/speech/artifacts/"

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[ovconfig.SpeechConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("loading voice catalog: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("oraclevoice"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)
	dbPool := srv.DatastoreManager().GetPool(ctx, "__default__pool_name__")

	hub := events.NewHub("oraclevoice")

	// --- Engines and health ---
	engines, err := cat.BuildEngines(cfg.EngineSecrets())
	if err != nil {
		log.Fatalf("building engines: %v", err)
	}
	defer func() {
		for _, e := range engines {
			if err := e.Close(); err != nil {
				slog.WarnContext(ctx, "engine close failed", slog.String("engine", e.Name()), slog.String("error", err.Error()))
			}
		}
	}()

	monitor := health.NewMonitor(engines,
		health.WithInterval(time.Duration(cfg.HealthIntervalSec)*time.Second),
		health.WithTimeout(time.Duration(cfg.HealthTimeoutSec)*time.Second),
		health.WithWorkerPool(pool),
	)
	monitor.Start(ctx)

	resolver, err := style.NewResolver(cat.Profiles, cat.DefaultRole)
	if err != nil {
		log.Fatalf("loading voice profiles: %v", err)
	}
	if cfg.CatalogWatch {
		go func() {
			if err := catalog.WatchAndReload(ctx, cfg.CatalogPath, resolver); err != nil {
				slog.ErrorContext(ctx, "catalog watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	rt := router.New(engines, monitor, cat.CloudOnlyRoles)

	// --- Artifacts and queue ---
	store, err := artifact.Open(ctx, cfg.ArtifactBucketURL,
		artifact.WithPrefix(cfg.ArtifactPrefix),
		artifact.WithURLPrefix(artifactRoute),
	)
	if err != nil {
		log.Fatalf("opening artifact bucket: %v", err)
	}
	defer store.Close()

	qcfg, err := cfg.QueueConfig(cat.RouterMode())
	if err != nil {
		log.Fatalf("queue config: %v", err)
	}
	queueOpts := []queue.Option{
		queue.WithPublisher(hub),
		queue.WithWorkerPool(pool),
	}
	if cfg.CacheEnabled {
		queueOpts = append(queueOpts, queue.WithCache(store))
	}
	jobs := queue.New(qcfg, resolver, rt, store, queueOpts...)
	jobs.Start(ctx)
	defer jobs.Stop()

	go events.NewForwarder(hub, srv.QueueManager(), eventRef, 0).Run(ctx)

	restMux := http.NewServeMux()
	speechhandler.NewSpeechHandler(jobs, monitor, resolver, store, hub).RegisterRoutes(restMux)

	// --- History ---
	if cfg.HistoryEnabled {
		histRepo := history.NewRepository(dbPool)
		if err := histRepo.Migrate(ctx); err != nil {
			log.Fatalf("migrating history tables: %v", err)
		}
		go history.NewRecorder(hub, histRepo, 0).Run(ctx)
		history.NewHandler(histRepo).RegisterRoutes(restMux)
	}

	// --- Webhooks ---
	var validateOpts []urlvalidation.Option
	if cfg.WebhookAllowHTTP {
		validateOpts = append(validateOpts, urlvalidation.AllowHTTP())
	}
	whRepo := webhook.NewRepository(dbPool)
	if err := whRepo.Migrate(ctx); err != nil {
		log.Fatalf("migrating webhook tables: %v", err)
	}
	whDeliverer := webhook.NewDeliverer(whRepo, cfg.DelivererConfig(), pool, validateOpts...)
	whSubscriber := &webhook.Subscriber{
		Repo:      whRepo,
		Deliverer: whDeliverer,
		Pool:      pool,
	}
	webhookapi.NewHandler(whRepo, hub, whDeliverer, pool, validateOpts...).RegisterRoutes(restMux)

	// --- HTTP Mux ---
	mux := http.NewServeMux()
	mux.Handle("/api/", httputil.AuthenticatedHTTPMiddleware(restMux, authenticator))

	slog.InfoContext(ctx, "oraclevoice ready",
		slog.Int("engines", len(engines)),
		slog.String("mode", string(qcfg.Mode)),
		slog.String("catalog", cfg.CatalogPath))

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".webhooks", eventURL, whSubscriber),
		frame.WithHTTPHandler(httputil.H2CHandler(httputil.RequestLogger(mux))),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
