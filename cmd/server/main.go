package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedpulse/feedpulse/internal/api"
	"github.com/feedpulse/feedpulse/internal/cache"
	"github.com/feedpulse/feedpulse/internal/config"
	"github.com/feedpulse/feedpulse/internal/enrich"
	"github.com/feedpulse/feedpulse/internal/middleware"
	"github.com/feedpulse/feedpulse/internal/pipeline"
	"github.com/feedpulse/feedpulse/internal/repository"
	"github.com/feedpulse/feedpulse/internal/scheduler"
	"github.com/feedpulse/feedpulse/internal/source"
)

func main() {
	cfg := config.Load()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := repo.Close(); err != nil {
			log.Printf("failed to close Postgres repository: %v", err)
		}
	}()

	invalidator, err := cache.NewInvalidator(cfg.RedisAddr)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := invalidator.Close(); err != nil {
			log.Printf("failed to close cache invalidator: %v", err)
		}
	}()

	enricher := enrich.New(lexiconSentiment{}, capitalizedEntities{}, frequencyKeywords{})
	runner := pipeline.NewRunner(repo, invalidator, enricher)

	file, err := config.LoadFile(cfg.PipelinesFile)
	if err != nil {
		log.Fatal(err)
	}

	for _, pc := range file.Pipelines {
		sources := make([]pipeline.Source, 0, len(pc.Sources))
		for _, sc := range pc.Sources {
			sources = append(sources, pipeline.Source{
				Name:     sc.Name,
				Upstream: sc.Upstream,
				Fetcher:  newJSONFeedFetcher(sc.Name, sc.Upstream, sc.FeedURL),
				Params:   source.Params(sc.Params),
			})
		}

		runner.Register(&pipeline.Pipeline{
			Name:          pc.Name,
			Sources:       sources,
			CachePrefixes: pc.CachePrefixes,
		})
	}

	sched := scheduler.New(runner)
	for _, jc := range file.Jobs {
		trigger, err := jc.Trigger()
		if err != nil {
			log.Fatal(err)
		}
		if err := sched.AddJob(jc.ID, jc.Pipeline, trigger); err != nil {
			log.Fatal(err)
		}
	}

	sched.Start()
	go startMetricsCollector(sched)

	apiHandler := api.NewAPI(runner, sched, repo)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: middleware.MetricsMiddleware(mux),
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.ServerPort)
		log.Printf("Loaded %d pipelines, %d jobs from %s", len(file.Pipelines), len(file.Jobs), cfg.PipelinesFile)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	sched.Shutdown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
}
