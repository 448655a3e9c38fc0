// Package gateway wires every dispatch-core component into a runnable
// HTTP server: the threads/messages API, an admin server exposing
// health, aggregates, and Prometheus metrics, and graceful
// shutdown of both.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wudi/llmgateway/internal/config"
	"github.com/wudi/llmgateway/internal/contextbuilder"
	"github.com/wudi/llmgateway/internal/dispatch"
	"github.com/wudi/llmgateway/internal/hub"
	"github.com/wudi/llmgateway/internal/httpclient"
	"github.com/wudi/llmgateway/internal/logging"
	"github.com/wudi/llmgateway/internal/memory"
	"github.com/wudi/llmgateway/internal/metrics"
	"github.com/wudi/llmgateway/internal/pacer"
	"github.com/wudi/llmgateway/internal/provider"
	"github.com/wudi/llmgateway/internal/rewriter"
	"github.com/wudi/llmgateway/internal/router"
	"github.com/wudi/llmgateway/internal/thread"
)

// Server wraps the dispatch pipeline with HTTP server functionality.
type Server struct {
	cfg         *config.Config
	pipeline    *dispatch.Pipeline
	metrics     *metrics.Collector
	registry    *prometheus.Registry
	httpServer  *http.Server
	adminServer *http.Server
}

// NewServer builds every dispatch-core component from cfg and wires them
// into a Server ready to Run.
func NewServer(cfg *config.Config) (*Server, error) {
	registry := newMetricsRegistry()
	collector := metrics.NewCollector(registry)

	threads := thread.NewStore(cfg.Thread.MaxTurnPairs)

	var memProvider memory.Provider
	if cfg.Memory.Enabled {
		memProvider = memory.Static{}
	}
	var rw rewriter.Rewriter
	if cfg.Rewriter.Enabled {
		rw = rewriter.New()
	}
	builder := contextbuilder.New(threads, memProvider, rw, contextbuilder.Options{
		MaxHistoryTurns: cfg.Thread.WindowTurns,
		MaxSnippetLen:   cfg.Memory.MaxSnippetLen,
		MemoryEnabled:   cfg.Memory.Enabled,
		RewriterEnabled: cfg.Rewriter.Enabled,
		RewriterTimeout: cfg.Rewriter.Timeout,
	})

	candidates := make([]router.Candidate, 0, len(cfg.Providers))
	providers := make([]provider.Provider, 0, len(cfg.Providers))
	baseURLs := make([]string, 0, len(cfg.Providers))
	pacers := pacer.NewRegistry()
	for name, pc := range cfg.Providers {
		for _, model := range pc.Models {
			candidates = append(candidates, router.Candidate{
				Provider:       name,
				Model:          model,
				ContextWindow:  pc.ContextWindow,
				Capability:     0.5,
				CostPerMTokIn:  pc.CostPerMTokIn,
				CostPerMTokOut: pc.CostPerMTokOut,
			})
		}
		pacers.Register(name, pacer.Config{
			RPS:              pc.RatePerSecond,
			Burst:            pc.Burst,
			Concurrency:      pc.MaxConcurrent,
			BreakerThreshold: pc.BreakerThreshold,
			BreakerTimeout:   pc.BreakerTimeout,
		})
		providers = append(providers, newProviderAdapter(name, pc))
		baseURLs = append(baseURLs, pc.BaseURL)
	}

	orgPrefs := router.CompileOrgPreferenceRules(parseOrgRules(cfg.Router.OrgPreferenceRules))
	history := router.NewHistory()
	dynRouter := router.New(candidates, history, nil, orgPrefs, cfg.Router)

	client := httpClientFromConfig()
	httpclient.Warmup(context.Background(), client, baseURLs)

	s := &Server{
		cfg:      cfg,
		metrics:  collector,
		registry: registry,
		pipeline: &dispatch.Pipeline{
			Threads:           threads,
			Builder:           builder,
			Router:            dynRouter,
			History:           history,
			Coalescer:         coalescerFromConfig(cfg.Coalesce),
			Hubs:              hub.NewRegistry(cfg.Hub.SubscriberQueueSize),
			Pacers:            pacers,
			Providers:         provider.NewRegistry(providers...),
			Metrics:           collector,
			Client:            client,
			Defaults:          defaultProvider(cfg.Providers),
			StreamGroup:       dispatch.NewStreamGroup(),
			HubDrainGrace:     cfg.Hub.DrainGrace,
			StreamLeaderTTL:   cfg.Coalesce.LeaderTTL,
			FirstTokenTimeout: cfg.Hub.ClientFirstTokenTimeout,
		},
	}

	mux := httprouter.New()
	mux.POST("/api/threads/:thread_id/messages", s.pipeline.HandleMessage)
	mux.POST("/api/threads/:thread_id/messages/stream", s.pipeline.HandleMessageStream)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	s.adminServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.AdminPort),
		Handler:      s.adminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts both servers and blocks until ctx is cancelled, then shuts
// both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		logging.Info("starting api server on " + s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	go func() {
		logging.Info("starting admin server on " + s.adminServer.Addr)
		if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.Shutdown(30 * time.Second)
}

// Shutdown gracefully drains and closes both servers.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.adminServer.Shutdown(ctx); err != nil {
		logging.Warn("admin server shutdown error: " + err.Error())
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn("api server shutdown error: " + err.Error())
		return err
	}
	return nil
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/aggregates", s.handleAggregates)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if snap.Unhealthy() {
		w.Header().Set("x-gateway-health", "degraded")
	}
	_ = json.NewEncoder(w).Encode(snap)
}
