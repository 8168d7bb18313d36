package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"quiz-attempt-engine/internal/apiserver"
	"quiz-attempt-engine/internal/config"
	"quiz-attempt-engine/internal/infra/memory"
	pgstore "quiz-attempt-engine/internal/infra/postgres"
	redisstore "quiz-attempt-engine/internal/infra/redis"
	"quiz-attempt-engine/internal/storage"
)

const devJWTSecret = "dev-secret-change-me"

// NewAPICmd runs the reference quiz API the engine talks to.
func NewAPICmd(configPath, port *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Start the reference quiz API (quizzes, attempts, grading)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAPI(cmd.Context(), *configPath, *port, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "upsert the sample quizzes into Postgres on start")
	return cmd
}

func runAPI(ctx context.Context, configPath, portFlag string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	finalPort := firstNonEmpty(portFlag, cfg.APIServer.Port, "8081")

	var (
		loader   memory.QuizLoader = memory.NewStaticQuizLoader(apiserver.SampleQuizzes())
		attempts apiserver.AttemptRepository
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pgLoader := pgstore.NewQuizLoader(pool)
		if seed {
			for _, def := range apiserver.SampleQuizzes() {
				if err := pgLoader.SaveQuiz(ctx, def); err != nil {
					return err
				}
			}
			log.Printf("seeded sample quizzes")
		}
		loader = pgLoader
		attempts = pgstore.NewAttemptRepository(pool)
	} else {
		attempts = memory.NewAttemptStore()
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes apiserver.QuizRepository
	if redisClient := newRedisClient(cfg); redisClient != nil {
		quizzes = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizzes = memory.NewQuizRepository(loader, quizTTL)
	}

	blobs, err := storage.NewFSStore(cfg.APIServer.BlobPath)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	srv := apiserver.NewServer(quizzes, attempts, blobs, apiserver.NewAuthenticator(jwtSecret(cfg)), apiserver.Options{
		LegacyShape:    cfg.APIServer.LegacyShape,
		SubmitGrace:    config.TTLDuration(cfg.APIServer.SubmitGrace, 0),
		AllowedOrigins: cfg.APIServer.Origins,
	})

	return serve(ctx, &http.Server{
		Addr:         ":" + finalPort,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}, "quiz api")
}

// NewTokenCmd prints a bearer token for a learner, for local development.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token for the reference API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(user) == "" {
				return fmt.Errorf("--user is required")
			}
			tok, err := apiserver.NewAuthenticator(jwtSecret(cfg)).IssueToken(user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "learner id to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}

func jwtSecret(cfg config.Config) string {
	if env := os.Getenv("JWT_SECRET"); env != "" {
		return env
	}
	if cfg.APIServer.JWTSecret != "" {
		return cfg.APIServer.JWTSecret
	}
	log.Printf("jwt secret not configured, using development secret")
	return devJWTSecret
}
