package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"eventdedup/internal/dedup"
	"eventdedup/internal/ingest"
)

type healthResponse struct {
	Status    string `json:"status"`
	CacheSize int    `json:"cache_size"`
}

type cacheResponse struct {
	Count   int           `json:"count"`
	Entries []dedup.Entry `json:"entries"`
}

type clearResponse struct {
	Cleared int `json:"cleared"`
}

type catalogResponse struct {
	Devices  []string  `json:"devices"`
	Sources  []string  `json:"sources"`
	LoadedAt time.Time `json:"loaded_at"`
}

// buildMux wires ingest, health, cache, and metrics endpoints.
func (s *Service) buildMux() http.Handler {
	httpCfg := s.cfg.Ingest.HTTP
	mux := http.NewServeMux()
	mux.HandleFunc(httpCfg.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writeJSON(writer, http.StatusOK, healthResponse{Status: "ok", CacheSize: s.store.Len()})
	})
	mux.HandleFunc(httpCfg.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	mux.Handle(httpCfg.IngestPath, ingest.NewHTTPHandler(s.router, httpCfg.MaxBodyBytes, s.metrics, s.logger))

	cachePath := strings.TrimSuffix(httpCfg.CachePath, "/")
	mux.HandleFunc(cachePath, s.serveCache)
	mux.HandleFunc(cachePath+"/clear", s.serveCacheClear)

	catalogPath := strings.TrimSuffix(httpCfg.CatalogPath, "/")
	mux.HandleFunc(catalogPath, s.serveCatalog)
	mux.HandleFunc(catalogPath+"/reload", s.serveCatalogReload)

	if s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}
	return mux
}

// serveCache lists live dedup windows, or one window when ?key= is set.
func (s *Service) serveCache(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.Header().Set("Allow", http.MethodGet)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	now := s.clock.Now()
	if key := request.URL.Query().Get("key"); key != "" {
		entry, ok := s.store.Lookup(key, now)
		if !ok {
			writeJSON(writer, http.StatusNotFound, map[string]string{"error": "no open window for key"})
			return
		}
		writeJSON(writer, http.StatusOK, entry)
		return
	}
	entries := s.store.Snapshot(now)
	writeJSON(writer, http.StatusOK, cacheResponse{Count: len(entries), Entries: entries})
}

// serveCacheClear drops every dedup window.
func (s *Service) serveCacheClear(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cleared := s.store.Clear()
	s.logger.Warn("dedup cache cleared", "cleared", cleared, "remote", request.RemoteAddr)
	writeJSON(writer, http.StatusOK, clearResponse{Cleared: cleared})
}

// serveCatalog describes active catalog snapshot.
func (s *Service) serveCatalog(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.Header().Set("Allow", http.MethodGet)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.catalog.Snapshot()
	writeJSON(writer, http.StatusOK, catalogResponse{
		Devices:  snapshot.DeviceIDs(),
		Sources:  snapshot.Sources(),
		LoadedAt: snapshot.LoadedAt(),
	})
}

// serveCatalogReload re-reads catalog path; failed reload keeps previous snapshot.
func (s *Service) serveCatalogReload(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.catalog.Reload(); err != nil {
		s.logger.Error("catalog reload failed", "error", err.Error())
		writeJSON(writer, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	s.serveCatalog(writer, &http.Request{Method: http.MethodGet})
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
