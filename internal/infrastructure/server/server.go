// Package server is the combined ops HTTP server: /healthz, /metrics, and
// /stats, bound to a single configurable port for the running grid instance.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc returns a JSON-serializable snapshot of the running instance's
// status; the coordinator's GetStatistics is passed in by the caller so this
// package never imports coordinator and creates a cycle.
type StatsFunc func() interface{}

type HealthServer struct {
	port   string
	logger core.ILogger
	srv    *http.Server
	mu     sync.RWMutex
	status map[string]string
	hm     core.IHealthMonitor
	stats  StatsFunc
}

func NewHealthServer(port string, logger core.ILogger, hm core.IHealthMonitor, stats StatsFunc) *HealthServer {
	return &HealthServer{
		port:   port,
		logger: logger.WithField("component", "health_server"),
		status: make(map[string]string),
		hm:     hm,
		stats:  stats,
	}
}

func (s *HealthServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    ":" + s.port,
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting ops server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops server failed", "error", err)
		}
	}()
}

func (s *HealthServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HealthServer) UpdateStatus(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[key] = value
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := telemetry.GetGlobalMetrics()

	health := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
		"metrics": map[string]interface{}{
			"utilization":   metrics.GetUtilization(),
			"position_size": metrics.GetPositionSize(),
		},
	}

	if s.hm != nil {
		health["components"] = s.hm.GetStatus()
		if !s.hm.IsHealthy() {
			health["status"] = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	} else {
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	mergedStatus := make(map[string]string)
	for k, v := range s.status {
		mergedStatus[k] = v
	}
	s.mu.RUnlock()

	if s.hm != nil {
		compStatus := s.hm.GetStatus()
		for k, v := range compStatus {
			mergedStatus[k] = v
		}
	}

	data, _ := json.Marshal(mergedStatus)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *HealthServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats())
}
