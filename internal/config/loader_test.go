package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/standings/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
				convey.So(cfg.MutationConcurrency, convey.ShouldEqual, 8)
				convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("STANDINGS_ADDR", ":8080")
			_ = os.Setenv("STANDINGS_STORE_DRIVER", "sqlite")
			_ = os.Setenv("STANDINGS_DB_PATH", "/tmp/standings.db")
			_ = os.Setenv("STANDINGS_SOURCE_BASE_URL", "https://ranking.example")
			_ = os.Setenv("STANDINGS_SOURCE_PAGE_DELAY_MS", "50")
			_ = os.Setenv("STANDINGS_MUTATION_CONCURRENCY", "16")
			_ = os.Setenv("STANDINGS_MAX_SKIPPED_ENTITIES", "-1")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "sqlite")
				convey.So(cfg.DBPath, convey.ShouldEqual, "/tmp/standings.db")
				convey.So(cfg.SourceBaseURL, convey.ShouldEqual, "https://ranking.example")
				convey.So(cfg.SourcePageDelayMS, convey.ShouldEqual, 50)
				convey.So(cfg.MutationConcurrency, convey.ShouldEqual, 16)
				convey.So(cfg.MaxSkippedEntities, convey.ShouldEqual, -1)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
# ranking source
source_base_url: "https://ranking.example"
source_client_id: "id"
source_client_secret: "secret"
reconcile_interval_s: 3600  # hourly
max_leaderboard_limit: 500
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("STANDINGS_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.SourceClientID, convey.ShouldEqual, "id")
				convey.So(cfg.ReconcileIntervalS, convey.ShouldEqual, 3600)
				convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 500)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.RequireSource(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
mutation_concurrency: 4
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("STANDINGS_CONFIG", tmpFile)
			_ = os.Setenv("STANDINGS_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MutationConcurrency, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("STANDINGS_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("STANDINGS_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown store driver", func() {
			_ = os.Setenv("STANDINGS_STORE_DRIVER", "postgres")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "store_driver")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("STANDINGS_MUTATION_CONCURRENCY", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"STANDINGS_CONFIG",
		"STANDINGS_ADDR",
		"STANDINGS_STORE_DRIVER",
		"STANDINGS_DB_PATH",
		"STANDINGS_SOURCE_BASE_URL",
		"STANDINGS_SOURCE_PAGE_DELAY_MS",
		"STANDINGS_MUTATION_CONCURRENCY",
		"STANDINGS_MAX_SKIPPED_ENTITIES",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "standings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
