// Package apiserver is the reference quiz API consumed by the attempt engine.
// It serves quizzes with a server clock sample, starts attempts idempotently
// and grades multipart submissions.
package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/storage"
)

// QuizRepository loads quiz definitions (cached or straight from a loader).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizDefinition, error)
}

// AttemptRepository persists one attempt per quiz and learner.
type AttemptRepository interface {
	Start(ctx context.Context, quizID, userID string, now time.Time) (domain.Attempt, bool, error)
	Find(ctx context.Context, quizID, userID string) (domain.Attempt, error)
	Complete(ctx context.Context, attemptID string, result domain.SubmissionResult, at time.Time) (domain.SubmissionResult, bool, error)
}

type Options struct {
	// LegacyShape serves the bare quiz object without server_time.
	LegacyShape bool
	// SubmitGrace bounds how late a submission may arrive after the time
	// limit. Zero accepts late submissions.
	SubmitGrace time.Duration
	// MaxUploadBytes caps the multipart body.
	MaxUploadBytes int64
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	Now            func() time.Time
}

type Server struct {
	quizzes  QuizRepository
	attempts AttemptRepository
	blobs    storage.BlobStore
	auth     *Authenticator
	opts     Options
}

func NewServer(quizzes QuizRepository, attempts AttemptRepository, blobs storage.BlobStore, auth *Authenticator, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{quizzes: quizzes, attempts: attempts, blobs: blobs, auth: auth, opts: opts}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Group(func(pr chi.Router) {
		pr.Use(s.auth.Middleware)
		pr.Route("/quizzes/{quizID}", func(qr chi.Router) {
			qr.Get("/", s.getQuiz)
			qr.Get("/attachment", s.getAttachment)
			qr.Post("/start", s.startAttempt)
			qr.Post("/submit", s.submitAttempt)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
