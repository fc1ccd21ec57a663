package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lllllllleong/uploadsanitizer/internal/api"
	"github.com/Lllllllleong/uploadsanitizer/internal/destinations"
	"github.com/Lllllllleong/uploadsanitizer/internal/services"
)

var (
	router  http.Handler
	once    sync.Once
	initErr error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleUpload", handleUpload)
}

func main() {
	config, err := services.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// Build eagerly: a bad services file stops the process here.
	once.Do(func() {
		router, initErr = newRouter(context.Background(), config)
	})
	if initErr != nil {
		log.Fatalf("init: %v", initErr)
	}
	// Serve the single function at "/" so gin sees the original request paths.
	if os.Getenv("FUNCTION_TARGET") == "" {
		_ = os.Setenv("FUNCTION_TARGET", "HandleUpload")
	}
	slog.Info("Upload sanitizer listening.", "port", config.Port)
	if err := funcframework.Start(config.Port); err != nil {
		log.Fatalf("funcframework.Start: %v", err)
	}
}

// handleUpload is the Cloud Function entry point. All routing is done by gin.
func handleUpload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		config, err := services.LoadConfig()
		if err != nil {
			initErr = err
			return
		}
		router, initErr = newRouter(context.Background(), config)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func newRouter(ctx context.Context, config services.UploadSanitizerConfig) (http.Handler, error) {
	logger := slog.Default()

	registry, err := destinations.Load(config.ServicesConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load destinations: %w", err)
	}
	workArea, err := services.NewWorkArea(config.UploadDir, config.SanitizedDir)
	if err != nil {
		return nil, err
	}

	var objects services.ObjectWriter
	if registry.UsesGCS() {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		objects = services.NewGCSObjectWriter(storageClient)
	}

	var audit services.AuditRecorder = services.NopAuditRecorder{}
	if config.AuditEnabled() {
		recorder, err := services.NewFirestoreAuditRecorder(ctx, config.ProjectID, config.CollectionName)
		if err != nil {
			return nil, err
		}
		audit = recorder
	}

	registerer := prometheus.NewRegistry()
	observer, err := services.NewPrometheusObserver("upload_sanitizer", registerer)
	if err != nil {
		return nil, err
	}

	orchestrator := services.NewUploadOrchestrator(
		logger,
		registry,
		workArea,
		services.NewPDFSanitizer(workArea.SanitizedDir),
		services.NewHTTPForwarder(nil, objects),
		audit,
		observer,
	)

	services.NewJanitor(workArea, config.WorkingFileTTL, logger).
		WithObserver(observer).
		Start(context.Background(), config.JanitorInterval)

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(orchestrator, registry, config.MaxUploadBytes, registerer, logger)
	slog.Info("Upload sanitizer initialized.", "services", registry.IDs(), "uploadDir", workArea.UploadDir, "sanitizedDir", workArea.SanitizedDir, "audit", config.AuditEnabled())
	return api.NewRouter(handler), nil
}
