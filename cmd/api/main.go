package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replicate-relay/cmd"
	"replicate-relay/internal/api"
	"replicate-relay/internal/assets"
	"replicate-relay/internal/replicate"
	"replicate-relay/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type APIConfig struct {
	APIPort           string `env:"API_PORT" envDefault:"8080"`
	ReplicateAPIToken string `env:"REPLICATE_API_TOKEN"`
	AllowedOrigins    string `env:"ALLOWED_ORIGINS" envDefault:"*"`
	PublicBaseURL     string `env:"PUBLIC_BASE_URL"`
	AssetBucketName   string `env:"ASSET_BUCKET_NAME"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR"`
}

// createObjectStore picks S3 when a bucket is configured, the local
// filesystem store as a fallback, or none at all: without a store the
// service still proxies and polls predictions but cannot persist or
// serve assets.
func createObjectStore(cfg APIConfig) storage.ObjectStore {
	if cfg.AssetBucketName != "" {
		store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.AssetBucketName,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 object store: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.CreateBucket(ctx); err != nil {
			log.Fatalf("Failed to create asset bucket: %v", err)
		}

		return store
	}

	if cfg.LocalStorageDir != "" {
		store, err := storage.NewLocalObjectStore(cfg.LocalStorageDir)
		if err != nil {
			log.Fatalf("Failed to create local object store: %v", err)
		}
		return store
	}

	slog.Warn("no object store configured, asset persistence and retrieval are disabled")
	return nil
}

func main() {
	log.Println("Starting relay server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:" + cfg.APIPort
	}

	store := createObjectStore(cfg)

	client := replicate.NewClient(replicate.Config{APIToken: cfg.ReplicateAPIToken})
	poller := replicate.NewPoller(client)
	persister := assets.NewPersister(store, publicBaseURL)

	// --- Chi Router Setup ---
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(api.Recoverer)
	r.Use(api.NewCORSPolicy(cfg.AllowedOrigins).Middleware)
	// Request timeout must outlast the poll deadline.
	r.Use(middleware.Timeout(replicate.DefaultPollTimeout + 30*time.Second))

	apiHandler := api.NewRelayService(client, poller, persister, store, api.Options{
		PublicBaseURL: publicBaseURL,
		BucketName:    cfg.AssetBucketName,
	})

	apiHandler.AddRoutes(r)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Relay server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
