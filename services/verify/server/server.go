// Package server exposes the verification services over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ppbverify-backend/lib/scrapers/ppb"
	"ppbverify-backend/services/verify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	services map[ppb.Kind]*verify.Service
}

func New(services ...*verify.Service) *Server {
	byKind := make(map[ppb.Kind]*verify.Service, len(services))
	for _, s := range services {
		byKind[s.Register.Kind] = s
	}
	return &Server{services: byKind}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/ready", s.health)
	r.Route("/{register}", func(r chi.Router) {
		r.Post("/verify", s.verify)
		r.Get("/cache/stats", s.cacheStats)
		r.Delete("/cache", s.clearCache)
	})
	return r
}

// response is the envelope every endpoint answers with.
type response struct {
	Success          bool        `json:"success"`
	LicenseNumber    string      `json:"license_number,omitempty"`
	Message          string      `json:"message,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms,omitempty"`
	FromCache        bool        `json:"from_cache"`
	Data             *ppb.Record `json:"data,omitempty"`
}

type verifyRequest struct {
	LicenseNumber string `json:"license_number"`
	UseCache      *bool  `json:"use_cache,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func (s *Server) service(w http.ResponseWriter, r *http.Request) (*verify.Service, bool) {
	name := chi.URLParam(r, "register")
	register, ok := ppb.ByName(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, response{
			Success: false,
			Message: "unknown register " + name,
		})
		return nil, false
	}
	service, ok := s.services[register.Kind]
	if !ok {
		writeJSON(w, http.StatusNotFound, response{
			Success: false,
			Message: "register " + name + " is not enabled",
		})
		return nil, false
	}
	return service, true
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	service, ok := s.service(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: "request body must be JSON with a license_number field",
		})
		return
	}
	if req.LicenseNumber == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: "license_number is required",
		})
		return
	}
	useCache := req.UseCache == nil || *req.UseCache

	result, err := service.Verify(r.Context(), req.LicenseNumber, useCache)
	if err != nil {
		writeJSON(w, statusFor(err), response{
			Success:          false,
			LicenseNumber:    result.Identifier,
			Message:          err.Error(),
			ProcessingTimeMs: result.Elapsed.Milliseconds(),
		})
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success:          true,
		LicenseNumber:    result.Identifier,
		ProcessingTimeMs: result.Elapsed.Milliseconds(),
		FromCache:        result.FromCache,
		Data:             &result.Record,
	})
}

// statusFor maps the verification error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		invalid    *ppb.InvalidFormatError
		notFound   *ppb.NotFoundError
		timeout    *ppb.TimeoutError
		upstream   *ppb.UpstreamFormatError
		incomplete *ppb.IncompleteDataError
		network    *ppb.NetworkError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstream), errors.As(err, &incomplete):
		return http.StatusBadGateway
	case errors.As(err, &network):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	service, ok := s.service(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, service.CacheStats(r.Context()))
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	service, ok := s.service(w, r)
	if !ok {
		return
	}
	service.ClearCache(r.Context())
	writeJSON(w, http.StatusOK, response{Success: true, Message: "cache cleared"})
}

const version = "1.0.0"

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	caches := make(map[string]verify.CacheReport, len(s.services))
	for kind, service := range s.services {
		caches[string(kind)] = service.CacheStats(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"caches":  caches,
	})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	registers := make([]string, 0, len(s.services))
	for kind := range s.services {
		registers = append(registers, string(kind))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "ppb license verification",
		"registers": registers,
		"endpoints": []string{
			"POST /{register}/verify",
			"GET /{register}/cache/stats",
			"DELETE /{register}/cache",
			"GET /health",
			"GET /ready",
		},
	})
}
