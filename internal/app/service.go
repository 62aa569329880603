// Package service assembles the matching engine from configuration: stores,
// scorer, publisher, correlator, shard pool, ingest paths and HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/talentmatch/internal/adapters/http/api"
	"github.com/okian/talentmatch/internal/adapters/mq/stream"
	"github.com/okian/talentmatch/internal/adapters/mq/worker"
	"github.com/okian/talentmatch/internal/adapters/publisher"
	"github.com/okian/talentmatch/internal/adapters/repository"
	"github.com/okian/talentmatch/internal/adapters/similarity"
	"github.com/okian/talentmatch/internal/config"
	"github.com/okian/talentmatch/internal/domain/correlation"
	"github.com/okian/talentmatch/internal/domain/dedupe"
	"github.com/okian/talentmatch/internal/domain/event"
	"github.com/okian/talentmatch/internal/domain/scoring"
	"github.com/okian/talentmatch/internal/ingest"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
	"github.com/okian/talentmatch/pkg/tracing"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second

	serviceName = "talentmatch"
)

// Store is everything the service needs from persistence.
type Store interface {
	correlation.CorrelationStore
	correlation.ResultStore
	Close() error
}

// Service owns every long-running component.
type Service struct {
	cfg *config.Config

	store     Store
	redis     redis.UniversalClient
	guarded   *similarity.Guarded
	scorer    *scoring.Scorer
	publisher correlation.Publisher
	deduper   dedupe.Deduper

	correlator *correlation.Correlator
	pool       *worker.Pool
	sweeper    *correlation.Sweeper
	ingestor   *ingest.Ingestor
	consumer   *stream.Consumer
	api        *api.Server

	now         func() time.Time
	newProvider func(ctx context.Context, cfg *config.Config) (similarity.Provider, error)

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	traceOff tracing.ShutdownFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore replaces the configured store.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithRedis supplies the Redis client instead of dialing storage.redis_addr.
func WithRedis(c redis.UniversalClient) Option {
	return func(s *Service) { s.redis = c }
}

// WithPublisher replaces the configured publisher. It is still wrapped with
// the idempotency guard.
func WithPublisher(p correlation.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSimilarity replaces the configured similarity provider; the breaker,
// limiter and cache are still applied.
func WithSimilarity(p similarity.Provider) Option {
	return func(s *Service) {
		s.newProvider = func(context.Context, *config.Config) (similarity.Provider, error) { return p, nil }
	}
}

// WithClock overrides time.Now across the domain.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds the service. Connections to Redis or Postgres are opened here;
// background work starts with Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, now: time.Now, newProvider: NewProvider}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.buildScorer(ctx); err != nil {
		s.closeConnections()
		return nil, err
	}
	s.buildPublisher()

	s.correlator = correlation.New(s.store, s.store, s.publisher, s.scorer,
		correlation.WithWindow(cfg.Window()),
		correlation.WithRetention(cfg.Retention()),
		correlation.WithMaxRetries(cfg.Retry.MaxAttempts),
		correlation.WithBackoff(correlation.NewBackoff(cfg.RetryBaseDelay(), cfg.Retry.Factor, cfg.Retry.Jitter)),
		correlation.WithClock(s.now),
		correlation.WithLogger(s.logger.Named("correlator")),
	)
	s.pool = worker.NewPool(s.correlator,
		worker.WithShards(cfg.WorkerCount),
		worker.WithQueueSize(cfg.QueueSize),
		worker.WithLogger(s.logger.Named("worker-pool")),
	)
	s.correlator.SetDispatcher(s.pool)

	s.sweeper = correlation.NewSweeper(s.store, s.pool,
		correlation.WithSweepInterval(cfg.SweepInterval()),
		correlation.WithSweepWindow(cfg.Window()),
		correlation.WithSweepRetention(cfg.Retention()),
		correlation.WithSweepClock(s.now),
		correlation.WithSweepLogger(s.logger.Named("sweeper")),
	)

	codec, err := event.NewCodec()
	if err != nil {
		s.closeConnections()
		return nil, fmt.Errorf("build event codec: %w", err)
	}
	s.ingestor = ingest.New(codec, s.pool, s.publisher,
		ingest.WithClock(s.now),
		ingest.WithLogger(s.logger.Named("ingest")),
	)
	if cfg.Ingest.RedisStream {
		s.consumer = stream.NewConsumer(s.redis, s.ingestor,
			stream.WithStream(cfg.Ingest.Stream),
			stream.WithGroup(cfg.Ingest.Group),
			stream.WithConsumerName(cfg.Ingest.Consumer),
			stream.WithLogger(s.logger.Named("stream")),
		)
	}

	s.api = api.NewServer(s.ingestor, s.store, s,
		api.WithMaxLimit(cfg.MaxMatchesLimit),
		api.WithIngestRate(cfg.Ingest.RatePerSecond, cfg.Ingest.Burst),
	)
	return s, nil
}

func (s *Service) connect(ctx context.Context) error {
	if s.redis == nil && s.cfg.NeedsRedis() {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Storage.RedisAddr,
			Password: s.cfg.Storage.RedisPassword,
			DB:       s.cfg.Storage.RedisDB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.redis.Close()
			return fmt.Errorf("connect redis %s: %w", s.cfg.Storage.RedisAddr, err)
		}
	}
	if s.store != nil {
		return nil
	}

	switch s.cfg.Storage.Kind {
	case config.StorageRedis:
		s.store = repository.NewRedisStore(s.redis)
	case config.StoragePostgres:
		pg, err := repository.ConnectPostgres(ctx, s.cfg.Storage.PostgresURL)
		if err != nil {
			s.closeConnections()
			return err
		}
		s.store = pg
	default:
		s.store = repository.NewMemoryStore()
	}
	s.logger.Info(ctx, "store ready", logger.String("kind", s.cfg.Storage.Kind))
	return nil
}

// NewProvider builds the similarity provider cfg names, or nil for none.
func NewProvider(ctx context.Context, cfg *config.Config) (similarity.Provider, error) {
	switch cfg.Similarity.Provider {
	case config.ProviderGemini:
		gen, err := similarity.NewGenAIGenerator(ctx, cfg.Similarity.APIKey, cfg.Similarity.Model)
		if err != nil {
			return nil, err
		}
		return similarity.NewGemini(gen), nil
	case config.ProviderLexical:
		return similarity.NewLexical(), nil
	default:
		return nil, nil
	}
}

func (s *Service) buildScorer(ctx context.Context) error {
	cfg := s.cfg
	opts := []scoring.Option{
		scoring.WithWeights(cfg.Weights),
		scoring.WithProviderTimeout(cfg.ProviderTimeout()),
		scoring.WithGapPenaltyCap(cfg.GapPenaltyCapPoints),
		scoring.WithModelVersion(cfg.ModelVersion),
		scoring.WithClock(s.now),
	}

	provider, err := s.newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build similarity provider: %w", err)
	}
	if provider != nil {
		b := cfg.Similarity.Breaker
		s.guarded = similarity.NewGuarded(provider,
			similarity.WithBreaker(similarity.BreakerSettings{
				MaxRequests:  b.MaxRequests,
				Interval:     time.Duration(b.IntervalSeconds) * time.Second,
				Timeout:      time.Duration(b.TimeoutSeconds) * time.Second,
				MinRequests:  b.MinRequests,
				FailureRatio: b.FailureRatio,
			}),
			similarity.WithRateLimit(cfg.Similarity.RatePerSecond, cfg.Similarity.Burst),
			similarity.WithGuardLogger(s.logger.Named("similarity")),
		)
		var p similarity.Provider = s.guarded
		if cache := s.similarityCache(); cache != nil {
			p = similarity.NewCached(s.guarded, cache,
				similarity.WithKeyVersion(cfg.ModelVersion+"+"+provider.Version()),
				similarity.WithCacheLogger(s.logger.Named("similarity-cache")),
			)
		}
		opts = append(opts, scoring.WithSimilarity(p))
	}

	s.scorer = scoring.New(opts...)
	s.logger.Info(ctx, "scorer ready",
		logger.String("provider", cfg.Similarity.Provider),
		logger.String("modelVersion", s.scorer.ModelVersion()),
	)
	return nil
}

func (s *Service) similarityCache() similarity.Cache {
	switch s.cfg.Similarity.Cache {
	case config.CacheMemory:
		return similarity.NewMemoryCache(s.cfg.Similarity.CacheSize)
	case config.CacheRedis:
		return similarity.NewRedisCache(s.redis,
			similarity.WithTTL(time.Duration(s.cfg.Similarity.CacheTTLSecs)*time.Second))
	default:
		return nil
	}
}

func (s *Service) buildPublisher() {
	next := s.publisher
	if next == nil {
		switch s.cfg.Publisher.Kind {
		case config.PublisherRedis:
			next = publisher.NewRedisStream(s.redis, publisher.WithStream(s.cfg.Publisher.Stream))
		case config.PublisherMemory:
			next = publisher.NewMemory()
		default:
			next = publisher.NewLog(nil, s.logger.Named("publisher"))
		}
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	s.publisher = publisher.NewIdempotent(next, s.deduper, s.logger.Named("publisher"))
}

// Start launches the shard workers, the sweeper and, when configured, the
// stream consumer. It does not serve HTTP; see Run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	off, err := tracing.Init(ctx, tracing.Config{
		Enabled:        s.cfg.Tracing.Enabled,
		Exporter:       s.cfg.Tracing.Exporter,
		SampleRate:     s.cfg.Tracing.SampleRate,
		ServiceName:    serviceName,
		ServiceVersion: s.scorer.ModelVersion(),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.traceOff = off

	if s.consumer != nil {
		if err := s.consumer.EnsureGroup(ctx); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		s.sweeper.Run(gctx)
		return nil
	})
	if s.consumer != nil {
		g.Go(func() error { return s.consumer.Run(gctx) })
	}
	s.group = g
	s.started = true

	s.logger.Info(ctx, "matching engine started",
		logger.Int("shards", s.pool.Shards()),
		logger.Int("queueSize", s.cfg.QueueSize),
		logger.Duration("window", s.cfg.Window()),
		logger.Bool("redisStream", s.consumer != nil),
	)
	return nil
}

// Handler returns the HTTP surface.
func (s *Service) Handler(ctx context.Context) http.Handler {
	return s.api.Handler(ctx)
}

// Run starts the service and serves HTTP on cfg.Addr until ctx is done,
// then shuts everything down.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(ctx),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info(ctx, "starting HTTP server", logger.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info(ctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), s.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// Shutdown stops intake, drains the shard queues, then stops the sweeper and
// consumer and closes connections.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.closeConnections()
		return nil
	}
	s.started = false

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if err := s.traceOff(ctx); err != nil {
		errs = append(errs, err)
	}
	s.closeConnections()
	s.logger.Info(ctx, "matching engine stopped")
	return errors.Join(errs...)
}

func (s *Service) closeConnections() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(context.Background(), "store close failed", logger.Error(err))
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// Accept ingests one raw event, as POST /events does.
func (s *Service) Accept(ctx context.Context, raw []byte) error {
	_, err := s.ingestor.Accept(ctx, raw)
	return err
}

// Store exposes the result and correlation store.
func (s *Service) Store() Store { return s.store }

// Scorer exposes the configured scorer.
func (s *Service) Scorer() *scoring.Scorer { return s.scorer }

// Sweep runs one sweeper pass immediately.
func (s *Service) Sweep(ctx context.Context) (correlation.SweepStats, error) {
	return s.sweeper.Sweep(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	stats := map[string]any{
		"started":      started,
		"shards":       s.pool.Shards(),
		"queueSize":    s.cfg.QueueSize,
		"pending":      s.pool.Pending(),
		"dedupeSize":   s.deduper.Size(),
		"modelVersion": s.scorer.ModelVersion(),
		"storage":      s.cfg.Storage.Kind,
		"publisher":    s.cfg.Publisher.Kind,
		"sweep":        s.sweeper.Stats(),
	}
	if n, err := s.store.CountResults(ctx); err == nil {
		stats["results"] = n
		metrics.UpdateResultsStored(n)
	} else {
		s.logger.Warn(ctx, "count results failed", logger.Error(err))
	}
	if s.guarded != nil {
		stats["similarityBreaker"] = s.guarded.State().String()
	}
	return stats
}
