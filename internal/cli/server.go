package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-attempt-engine/internal/apiclient"
	"quiz-attempt-engine/internal/app"
	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/infra/memory"
	redisstore "quiz-attempt-engine/internal/infra/redis"
	"quiz-attempt-engine/internal/metrics"
	transport "quiz-attempt-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand that runs the attempt engine.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt engine (websocket renderer endpoint)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := firstNonEmpty(portFlag, cfg.Server.Port, "8080")

	token := cfg.API.Token
	if env := os.Getenv("API_TOKEN"); env != "" {
		token = env
	}
	baseURL := firstNonEmpty(os.Getenv("API_BASE_URL"), cfg.API.BaseURL, "http://localhost:8081")
	client, err := apiclient.New(apiclient.Config{
		BaseURL: baseURL,
		Token:   token,
		Timeout: config.TTLDuration(cfg.API.Timeout, 30*time.Second),
	})
	if err != nil {
		return err
	}

	redisClient := newRedisClient(cfg)
	var store app.SessionRepository
	if redisClient != nil {
		store = redisstore.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 2*time.Hour))
	} else {
		store = memory.NewSessionStore()
	}

	service := app.NewAttemptService(client, store, app.Options{
		TickInterval:      config.TTLDuration(cfg.Timer.Interval, time.Second),
		ConfirmUnanswered: cfg.Timer.ConfirmUnanswered,
	})
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	log.Printf("attempt engine using quiz api at %s", baseURL)
	// No write timeout: websocket connections stay open for the whole attempt.
	return serve(ctx, &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}, "attempt engine")
}

func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// serve runs the server until SIGINT/SIGTERM or ctx cancellation.
func serve(ctx context.Context, server *http.Server, name string) error {
	go func() {
		log.Printf("starting %s on %s", name, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
