package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yishak-cs/meal-metrics/internal/database"
	"github.com/yishak-cs/meal-metrics/internal/handlers"
	"github.com/yishak-cs/meal-metrics/internal/metrics"
	"github.com/yishak-cs/meal-metrics/internal/models"
	"github.com/yishak-cs/meal-metrics/internal/prediction"
	"github.com/yishak-cs/meal-metrics/internal/scheduler"
	"github.com/yishak-cs/meal-metrics/internal/services"
	"github.com/yishak-cs/meal-metrics/internal/sessionstore"
	"github.com/yishak-cs/meal-metrics/pkg/helper"
	"github.com/yishak-cs/meal-metrics/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	config := helper.LoadConfigFromEnv()
	appLog, err := logger.New(config.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLog.Sync()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Master metrics source: Neo4j when configured, the CSV directory otherwise
	var (
		source   metrics.MasterMetricsSource
		importer *database.CSVImporter
	)
	healthChecks := map[string]handlers.HealthCheck{}

	if config.Neo4j.URI != "" {
		neo4jClient, err := database.NewNeo4jClient(config.Neo4j, appLog)
		if err != nil {
			appLog.Fatal("failed to connect to Neo4j", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := neo4jClient.Close(ctx); err != nil {
				appLog.Error("error closing Neo4j connection", "error", err)
			}
		}()

		importer = database.NewCSVImporter(neo4jClient, appLog)
		if config.ImportOnStart {
			if config.DataURL == "" {
				appLog.Fatal("IMPORT_ON_START requires METRICS_DATA_URL")
			}
			ctx, cancel := context.WithTimeout(rootCtx, 5*time.Minute)
			if err := importer.ImportAllData(ctx, config.DataURL); err != nil {
				cancel()
				appLog.Fatal("import failed", "error", err)
			}
			status, err := importer.GetImportStatus(ctx)
			cancel()
			if err != nil {
				appLog.Fatal("failed to get import status", "error", err)
			}
			appLog.Info("import status", "counts", status)
		}

		source = database.NewNeo4jSource(neo4jClient, appLog)
		healthChecks["neo4j"] = neo4jClient.Health
	} else {
		fileSource, err := database.NewFileSource(config.DataDir, appLog)
		if err != nil {
			appLog.Fatal("failed to open metrics data directory", "dir", config.DataDir, "error", err)
		}
		source = fileSource
		appLog.Info("using CSV master metrics source", "dir", config.DataDir)
	}

	// Session memory: Redis when configured, in-process otherwise
	var memory metrics.SessionMemory
	if config.RedisAddr != "" {
		redisStore, err := sessionstore.NewRedisStore(sessionstore.RedisConfig{
			Addr:    config.RedisAddr,
			Channel: config.RedisChannel,
			TTL:     config.SessionTTL,
		}, appLog)
		if err != nil {
			appLog.Fatal("failed to connect to Redis", "error", err)
		}
		defer redisStore.Close()
		memory = redisStore
		healthChecks["redis"] = redisStore.Health
	} else {
		memory = sessionstore.NewMemoryStore(appLog)
		appLog.Info("using in-process session memory")
	}

	submissions, err := database.OpenSubmissionStore(config.SubmissionsDSN, appLog)
	if err != nil {
		appLog.Fatal("failed to open submission archive", "error", err)
	}
	defer submissions.Close()
	healthChecks["submissions"] = submissions.Health

	// Initialize services
	metricsService := services.NewMasterMetricsService(services.Config{
		Source:    source,
		Memory:    memory,
		Predictor: prediction.NewHTTPClient(config.PredictorURL, config.PredictorTimeout, appLog),
		Archive:   submissions,
		Logger:    appLog,
	})

	// Initialize API handlers
	appHandler := handlers.NewAPIHandler(metricsService, submissions, appLog)
	for name, check := range healthChecks {
		appHandler.AddHealthCheck(name, check)
	}

	// Scheduled maintenance
	jobs := scheduler.New(appLog)
	if _, err := jobs.AddIdleSweep(config.SessionSweepSchedule, metricsService, config.SessionIdleTimeout); err != nil {
		appLog.Fatal("invalid session sweep schedule", "error", err)
	}
	if config.DefaultsRefreshSchedule != "" {
		if importer == nil || config.DataURL == "" {
			appLog.Warn("defaults refresh needs Neo4j and METRICS_DATA_URL; not scheduled")
		} else if _, err := jobs.AddDefaultsRefresh(config.DefaultsRefreshSchedule, importer, config.DataURL); err != nil {
			appLog.Fatal("invalid defaults refresh schedule", "error", err)
		}
	}
	jobs.Start()

	// Setup Gin router
	if strings.EqualFold(config.LogMode, "prod") || strings.EqualFold(config.LogMode, "production") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:  config.CORSAllowOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	appHandler.SetupRoutes(router)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			handlers.RespondWithError(c, http.StatusNotFound, models.ErrorCodeNotFound, "API endpoint not found", nil)
			return
		}
		c.File("./web/static/index.html")
	})

	// Create server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Port),
		Handler: router,
	}

	go func() {
		appLog.Info("server starting", "port", config.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server")

	jobs.Stop(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Closing the sessions ends open event streams so Shutdown can drain
	closed := metricsService.SweepIdle(ctx, 0)
	stop()

	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("server forced to shutdown", "error", err)
	}

	appLog.Info("server exited properly", "sessions_closed", closed)
}
