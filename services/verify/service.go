// Package verify orchestrates license verification against the
// registry portal: identifier validation, cache lookup, the rate
// limited two-step portal workflow, extraction and caching of the
// final record.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ppbverify-backend/lib/ratelimit"
	"ppbverify-backend/lib/scrapers/ppb"
	"ppbverify-backend/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/verify")

// Options configures one register's verification service.
type Options struct {
	BaseUrl string

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	// minimum spacing between outbound portal requests
	RateLimitDelay time.Duration
	// wall-clock ceiling of one verification call
	CallBudget time.Duration

	CacheEnabled bool
	// "memory" or "redis"
	CacheBackend string
	CacheTTL     time.Duration
	CacheMaxSize int
	RedisUrl     string
}

func (o *Options) fillDefaults() {
	if o.BaseUrl == "" {
		o.BaseUrl = "https://practice.pharmacyboardkenya.org"
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	if o.RetryBackoff == 0 {
		o.RetryBackoff = 300 * time.Millisecond
	}
	if o.RateLimitDelay == 0 {
		o.RateLimitDelay = 1500 * time.Millisecond
	}
	if o.CallBudget == 0 {
		o.CallBudget = 45 * time.Second
	}
	if o.CacheBackend == "" {
		o.CacheBackend = "memory"
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = time.Hour
	}
	if o.CacheMaxSize == 0 {
		o.CacheMaxSize = 1000
	}
}

// Service verifies licenses of a single register. One portal session
// and one rate limiter live for the service's whole lifetime.
type Service struct {
	Register ppb.Register

	client  *ppb.Client
	limiter *ratelimit.Limiter
	cache   Cache
	budget  time.Duration

	cacheEnabled bool
	cacheBackend string
}

func New(register ppb.Register, opts Options) (*Service, error) {
	opts.fillDefaults()

	client, err := ppb.NewClient(register, ppb.ClientOptions{
		BaseUrl:      opts.BaseUrl,
		Timeout:      opts.RequestTimeout,
		MaxRetries:   opts.MaxRetries,
		RetryBackoff: opts.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("creating portal client: %w", err)
	}

	s := &Service{
		Register:     register,
		client:       client,
		limiter:      ratelimit.New(opts.RateLimitDelay),
		budget:       opts.CallBudget,
		cacheEnabled: opts.CacheEnabled,
		cacheBackend: opts.CacheBackend,
	}

	if opts.CacheEnabled {
		switch opts.CacheBackend {
		case "memory":
			s.cache = NewMemoryCache(opts.CacheTTL, opts.CacheMaxSize)
		case "redis":
			cache, err := NewRedisCache(opts.RedisUrl, register.Kind, opts.CacheTTL)
			if err != nil {
				return nil, fmt.Errorf("creating redis cache: %w", err)
			}
			s.cache = cache
		default:
			return nil, fmt.Errorf("unknown cache backend %q", opts.CacheBackend)
		}
	}

	slog.Debug("verification service ready",
		"register", register.Kind,
		"rate_delay", s.limiter.Delay(),
		"cache_enabled", opts.CacheEnabled,
		"cache_backend", opts.CacheBackend,
	)
	return s, nil
}

// Result is the outcome of one verification call.
type Result struct {
	Identifier string
	Record     ppb.Record
	FromCache  bool
	Elapsed    time.Duration
}

// Verify runs the full workflow for one identifier. Validation happens
// before any cache or network access, the remaining steps share one
// deadline derived from the call budget. useCache false bypasses the
// cache read but still stores the fresh result.
func (s *Service) Verify(ctx context.Context, identifier string, useCache bool) (Result, error) {
	started := time.Now()

	id := s.Register.NormalizeIdentifier(identifier)
	ctx, span := tracer.Start(ctx, "verify:Verify")
	span.SetAttributes(
		attribute.String("register", string(s.Register.Kind)),
		attribute.String("identifier", id),
	)
	defer span.End()

	if err := s.Register.ValidateIdentifier(id); err != nil {
		span.SetStatus(codes.Error, "invalid identifier")
		slog.WarnContext(ctx, "identifier rejected",
			"register", s.Register.Kind,
			"step", ppb.StepValidate,
			"identifier", id,
		)
		return Result{Identifier: id}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	if s.cacheEnabled && useCache {
		if record, ok := s.cache.Get(ctx, id); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			slog.DebugContext(ctx, "cache hit", "register", s.Register.Kind, "identifier", id)
			return Result{
				Identifier: id,
				Record:     record,
				FromCache:  true,
				Elapsed:    time.Since(started),
			}, nil
		}
	}

	record, err := s.verifyLive(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return Result{Identifier: id, Elapsed: time.Since(started)}, err
	}

	if s.cacheEnabled {
		s.cache.Put(ctx, id, record)
	}

	elapsed := time.Since(started)
	slog.InfoContext(ctx, "verification complete",
		"register", s.Register.Kind,
		"identifier", id,
		"status", record.Status,
		"elapsed", elapsed,
	)
	return Result{Identifier: id, Record: record, Elapsed: elapsed}, nil
}

func (s *Service) verifyLive(ctx context.Context, id string) (ppb.Record, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return ppb.Record{}, s.classify(err, id, ppb.StepSearch)
	}
	search, err := s.client.Search(ctx, id)
	if err != nil {
		return ppb.Record{}, s.classify(err, id, ppb.StepSearch)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return ppb.Record{}, s.classify(err, id, ppb.StepDetails)
	}
	body, err := s.client.FetchDetails(ctx, id, search.CandidateKey)
	if err != nil {
		return ppb.Record{}, s.classify(err, id, ppb.StepDetails)
	}

	record, err := ppb.Extract(s.Register, id, body)
	if err != nil {
		return ppb.Record{}, err
	}

	mergePreliminary(&record, search)
	if record.LicenseNumber == "" {
		record.LicenseNumber = id
	}
	record.VerifiedAt = timezone.Now().Format(time.RFC3339)
	return record, nil
}

// mergePreliminary fills record gaps from the Step-1 result row.
// Detail fields always win over the row's preliminary ones.
func mergePreliminary(record *ppb.Record, search ppb.SearchResult) {
	if record.FullName == "" {
		record.FullName = search.Name
	}
	if record.LicenseNumber == "" {
		record.LicenseNumber = search.LicenseNumber
	}
	if record.Status == "" {
		record.Status = search.Status
	}
	if record.ValidTill == "" && search.ValidTill != "" {
		normalized, ok := ppb.NormalizeDate(search.ValidTill)
		record.ValidTill = normalized
		record.ValidTillRaw = !ok
	}
}

func (s *Service) classify(err error, id string, step ppb.Step) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ppb.TimeoutError{Identifier: id, Step: step, Budget: s.budget}
	}
	return err
}

// CacheReport is the operator-facing cache snapshot.
type CacheReport struct {
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend,omitempty"`
	Stats
	HitRate       float64 `json:"hit_rate"`
	TotalRequests uint64  `json:"total_requests"`
}

func (s *Service) CacheStats(ctx context.Context) CacheReport {
	report := CacheReport{
		Enabled: s.cacheEnabled,
		Backend: s.cacheBackend,
	}
	if !s.cacheEnabled {
		return report
	}
	report.Stats = s.cache.Stats(ctx)
	report.HitRate = report.Stats.HitRate()
	report.TotalRequests = report.Stats.Hits + report.Stats.Misses
	return report
}

func (s *Service) ClearCache(ctx context.Context) {
	if s.cacheEnabled {
		s.cache.Clear(ctx)
	}
}
