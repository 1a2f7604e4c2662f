package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/coursequiz/internal/admission"
	"github.com/victornm/coursequiz/internal/api"
	"github.com/victornm/coursequiz/internal/attempt"
	"github.com/victornm/coursequiz/internal/catalog"
	"github.com/victornm/coursequiz/internal/enrollment"
	"github.com/victornm/coursequiz/internal/event"
	"github.com/victornm/coursequiz/internal/quiz"
	"github.com/victornm/coursequiz/internal/standing"
	"github.com/victornm/coursequiz/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string

	// TTL is only read by the quiz cache.
	TTL time.Duration
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	Log struct {
		Level  string
		Format string
	}

	HTTP struct {
		Port         int32
		AllowOrigins []string
	}

	GRPC struct {
		Port int32
	}

	Auth struct {
		JWTSecret string
	}

	Quiz struct {
		PassingPercentage int
	}

	Redis struct {
		Admission RedisConfig
		Cache     RedisConfig
		Standings RedisConfig
		Pubsub    RedisConfig
	}

	Postgres struct {
		Catalog PostgresConfig
		Attempt PostgresConfig
	}
}

// DefaultConfig holds the values used when neither the file nor the environment sets them.
func DefaultConfig() Config {
	var c Config
	c.Log.Level = "info"
	c.Log.Format = "json"
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Quiz.PassingPercentage = 50
	c.Redis.Cache.TTL = 5 * time.Minute
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			admission redis.UniversalClient
			cache     redis.UniversalClient
			standings redis.UniversalClient
			pubsub    redis.UniversalClient
		}

		postgres struct {
			catalog *pgxpool.Pool
			attempt *pgxpool.Pool
		}
	}

	service struct {
		catalog    *catalog.Service
		enrollment *enrollment.Service
		admission  *admission.Controller
		attempt    *attempt.Store
		standing   *standing.Service
		quiz       *quiz.Service
	}

	health *health.Server
	http   *http.Server
	grpc   *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	telemetry.SetupLogger(c.Log.Level, c.Log.Format)

	if c.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("server: auth: jwt secret not set")
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, rc RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Pass,
		})

		if err := telemetry.MonitorRedis(name, r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.admission, err = connect("admission", s.c.Redis.Admission)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}

	s.infra.redis.cache, err = connect("cache", s.c.Redis.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.standings, err = connect("standings", s.c.Redis.Standings)
	if err != nil {
		return fmt.Errorf("standings: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(pc PostgresConfig) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.catalog, err = connect(s.c.Postgres.Catalog)
	if err != nil {
		return fmt.Errorf("postgres: catalog: %w", err)
	}

	s.infra.postgres.attempt, err = connect(s.c.Postgres.Attempt)
	if err != nil {
		return fmt.Errorf("postgres: attempt: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.catalog = catalog.NewService(catalog.Config{
		DB: s.infra.postgres.catalog,
		Cache: catalog.NewCache(catalog.CacheConfig{
			Redis:  s.infra.redis.cache,
			Prefix: s.c.Redis.Cache.Prefix,
			TTL:    s.c.Redis.Cache.TTL,
		}),
	})

	s.service.enrollment = enrollment.NewService(enrollment.Config{
		DB: s.infra.postgres.catalog,
	})

	s.service.admission = admission.NewController(admission.Config{
		Redis:  s.infra.redis.admission,
		Prefix: s.c.Redis.Admission.Prefix,
	})

	s.service.attempt = attempt.NewStore(attempt.Config{
		DB: s.infra.postgres.attempt,
	})

	s.service.standing = standing.NewService(standing.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.standings,
		Prefix:   s.c.Redis.Standings.Prefix,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		EventBus:          s.eb,
		Catalog:           s.service.catalog,
		Viewers:           s.service.enrollment,
		Admission:         s.service.admission,
		Attempts:          s.service.attempt,
		Standings:         s.service.standing,
		PassingPercentage: s.c.Quiz.PassingPercentage,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinLogger())

	if len(s.c.HTTP.AllowOrigins) > 0 {
		e.Use(cors.New(cors.Config{
			AllowOrigins:  s.c.HTTP.AllowOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Quiz:         s.service.quiz,
		Auth:         api.NewAuthenticator(s.c.Auth.JWTSecret),
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)
	s.health = health.NewServer()
	healthv1.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthv1.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Handlers may still publish notifications, drain them before closing the clients.
	s.eb.Stop()

	for name, r := range map[string]redis.UniversalClient{
		"admission": s.infra.redis.admission,
		"cache":     s.infra.redis.cache,
		"standings": s.infra.redis.standings,
		"pubsub":    s.infra.redis.pubsub,
	} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}
	s.infra.postgres.catalog.Close()
	s.infra.postgres.attempt.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
