package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/okian/talentmatch/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.ModelVersion, convey.ShouldEqual, "match-v1")
			convey.So(cfg.Window().Minutes(), convey.ShouldEqual, 10)
			convey.So(cfg.Weights.Skill, convey.ShouldEqual, 0.4)
			convey.So(cfg.Retry.MaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.Similarity.Provider, convey.ShouldEqual, config.ProviderNone)
			convey.So(cfg.Storage.Kind, convey.ShouldEqual, config.StorageMemory)
			convey.So(cfg.Publisher.Kind, convey.ShouldEqual, config.PublisherLog)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
		})

		convey.Convey("When loading with flat and nested environment variables", func() {
			setenv("TALENTMATCH_ADDR", ":8080")
			setenv("TALENTMATCH_QUEUE_SIZE", "500")
			setenv("TALENTMATCH_WEIGHTS__SKILL", "0.5")
			setenv("TALENTMATCH_RETRY__MAX_ATTEMPTS", "5")
			setenv("TALENTMATCH_SIMILARITY__BREAKER__MIN_REQUESTS", "9")
			setenv("TALENTMATCH_STORAGE__KIND", "redis")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
			convey.So(cfg.Weights.Skill, convey.ShouldEqual, 0.5)
			convey.So(cfg.Weights.Experience, convey.ShouldEqual, 0.3)
			convey.So(cfg.Retry.MaxAttempts, convey.ShouldEqual, 5)
			convey.So(cfg.Similarity.Breaker.MinRequests, convey.ShouldEqual, 9)
			convey.So(cfg.Storage.Kind, convey.ShouldEqual, config.StorageRedis)
			convey.So(cfg.NeedsRedis(), convey.ShouldBeTrue)
		})

		convey.Convey("When loading from a YAML file overridden by env", func() {
			path := writeConfig(t, `
addr: ":9090"
worker_count: 4
correlation_timeout_seconds: 30
weights:
  cultural: 0
publisher:
  kind: memory
`)
			setenv("TALENTMATCH_CONFIG", path)
			setenv("TALENTMATCH_WORKER_COUNT", "8")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 8)
			convey.So(cfg.Window().Seconds(), convey.ShouldEqual, 30)
			convey.So(cfg.Weights.Cultural, convey.ShouldEqual, 0)
			convey.So(cfg.Weights.Skill, convey.ShouldEqual, 0.4)
			convey.So(cfg.Publisher.Kind, convey.ShouldEqual, config.PublisherMemory)
			convey.So(cfg.Publisher.Stream, convey.ShouldEqual, "talentmatch.matches")
		})

		convey.Convey("When the file is missing or broken", func() {
			setenv("TALENTMATCH_CONFIG", "/non/existent/file.yaml")
			cfg, err := config.Load(ctx)
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)

			setenv("TALENTMATCH_CONFIG", writeConfig(t, `invalid: yaml: content: [`))
			cfg, err = config.Load(ctx)
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When a number does not parse", func() {
			setenv("TALENTMATCH_QUEUE_SIZE", "invalid")
			cfg, err := config.Load(ctx)
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When validation fails", func() {
			setenv("TALENTMATCH_ADDR", "")
			cfg, err := config.Load(ctx)
			convey.So(cfg, convey.ShouldBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
		})
	})
}

func TestValidate(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := config.New()

		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"negative weight", func(c *config.Config) { c.Weights.Education = -1 }},
			{"zero mandatory weights", func(c *config.Config) { c.Weights.Skill, c.Weights.Experience, c.Weights.Education = 0, 0, 0 }},
			{"zero window", func(c *config.Config) { c.CorrelationTimeoutSeconds = 0 }},
			{"zero provider timeout", func(c *config.Config) { c.SimilarityProviderTimeoutMS = 0 }},
			{"retry factor below one", func(c *config.Config) { c.Retry.Factor = 0.5 }},
			{"jitter of one", func(c *config.Config) { c.Retry.Jitter = 1 }},
			{"unknown provider", func(c *config.Config) { c.Similarity.Provider = "openai" }},
			{"gemini without key", func(c *config.Config) { c.Similarity.Provider = config.ProviderGemini }},
			{"unknown cache", func(c *config.Config) { c.Similarity.Cache = "disk" }},
			{"unknown storage", func(c *config.Config) { c.Storage.Kind = "sqlite" }},
			{"postgres without url", func(c *config.Config) { c.Storage.Kind = config.StoragePostgres }},
			{"unknown publisher", func(c *config.Config) { c.Publisher.Kind = "kafka" }},
			{"unknown trace exporter", func(c *config.Config) { c.Tracing.Exporter = "jaeger" }},
			{"sample rate above one", func(c *config.Config) { c.Tracing.SampleRate = 2 }},
			{"breaker ratio of zero", func(c *config.Config) { c.Similarity.Breaker.FailureRatio = 0 }},
			{"non-positive queue size", func(c *config.Config) { c.QueueSize = 0 }},
		}
		for _, tc := range cases {
			convey.Convey("Then it rejects "+tc.name, func() {
				tc.mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("Then gemini with a key and postgres with a url pass", func() {
			cfg.Similarity.Provider = config.ProviderGemini
			cfg.Similarity.APIKey = "k"
			cfg.Storage.Kind = config.StoragePostgres
			cfg.Storage.PostgresURL = "postgres://localhost/talentmatch"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.NeedsRedis(), convey.ShouldBeFalse)
		})
	})
}

func setenv(key, value string) {
	_ = os.Setenv(key, value)
	convey.Reset(func() { _ = os.Unsetenv(key) })
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
