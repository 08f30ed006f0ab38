package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/sanctuary/internal/auth"
	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/media"
	"github.com/MikeSquared-Agency/sanctuary/internal/processor"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
	"github.com/MikeSquared-Agency/sanctuary/internal/store"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

// Stories is the session workflow behind the /stories routes.
type Stories interface {
	CreateSession(ctx context.Context, owner, email string, req processor.CreateRequest) (story.Session, error)
	GetSession(ctx context.Context, owner string, id uuid.UUID) (story.Session, error)
	ListSessions(ctx context.Context, owner string, bucket story.Bucket) ([]story.Session, error)
	SaveDraft(ctx context.Context, owner string, id uuid.UUID, req processor.DraftRequest) (story.Session, error)
	ScheduleDraft(ctx context.Context, owner string, id uuid.UUID, req processor.DraftRequest) error
	Begin(ctx context.Context, owner string, id uuid.UUID) (story.Session, error)
	Previous(ctx context.Context, owner string, id uuid.UUID) (story.Session, error)
	Advance(ctx context.Context, owner string, id uuid.UUID, req processor.AdvanceRequest) (*processor.AdvanceResult, error)
	Lock(ctx context.Context, owner string, id uuid.UUID, req processor.LockRequest) (*processor.LockResult, error)
	ReviewPublished(ctx context.Context, owner string, id uuid.UUID, publishedText string) (*store.ReviewRecord, error)
	ListReviews(ctx context.Context, owner string, id uuid.UUID) ([]store.ReviewRecord, error)
	SetInspirationImage(ctx context.Context, owner string, id uuid.UUID, ref string) (story.Session, string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type RecapDeliverer interface {
	Deliver(ctx context.Context, ev hermes.RecapRequested) (string, error)
}

type ImageStore interface {
	Save(ctx context.Context, owner, filename, contentType string, r io.Reader) (*media.Upload, error)
	URL(ctx context.Context, ref string) (string, error)
	Remove(ctx context.Context, ref string) error
}

type ReminderRunner interface {
	Send(ctx context.Context) (*recap.ReminderReport, error)
}

// Deps wires the server to its collaborators. Transcriber, Images and
// Reminders are optional; their routes answer 503 when unset.
type Deps struct {
	Stories     Stories
	Analyzer    processor.Analyzer
	Transcriber Transcriber
	Recaps      RecapDeliverer
	Images      ImageStore
	Reminders   ReminderRunner
	// Auth authenticates end users and stores the owner in the context.
	Auth         func(http.Handler) http.Handler
	ServiceToken string
	Logger       *slog.Logger
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	port   int
	logger *slog.Logger

	stories   Stories
	analyzer  processor.Analyzer
	audio     Transcriber
	recaps    RecapDeliverer
	images    ImageStore
	reminders ReminderRunner
}

func NewServer(port int, d Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:     []string{"authorization", "x-client-info", "apikey", "content-type"},
		OptionsPassthrough: true,
	}))
	router.Use(preflight)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    router,
		port:      port,
		logger:    logger,
		stories:   d.Stories,
		analyzer:  d.Analyzer,
		audio:     d.Transcriber,
		recaps:    d.Recaps,
		images:    d.Images,
		reminders: d.Reminders,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Transcription may take up to two minutes upstream.
		WriteTimeout: 150 * time.Second,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.Auth != nil {
				r.Use(d.Auth)
			}
			r.Post("/check-authenticity", s.checkAuthenticity)
			r.Post("/score-story", s.scoreStory)
			r.Post("/review-published-story", s.reviewPublishedStory)
			r.Post("/transcribe-audio", s.transcribeAudio)
			r.Post("/send-recap-email", s.sendRecapEmail)

			r.Route("/stories", func(r chi.Router) {
				r.Get("/", s.listStories)
				r.Post("/", s.createStory)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.getStory)
					r.Put("/draft", s.saveDraft)
					r.Post("/begin", s.beginStory)
					r.Post("/advance", s.advanceStory)
					r.Post("/previous", s.previousStep)
					r.Post("/lock", s.lockStory)
					r.Get("/reviews", s.listReviews)
					r.Post("/reviews", s.createReview)
					r.Post("/inspiration-image", s.uploadInspirationImage)
				})
			})
		})

		r.With(auth.RequireServiceToken(d.ServiceToken)).Post("/reminders/send", s.sendReminders)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// preflight answers every OPTIONS request with an empty 204 after the CORS
// headers have been set.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sendReminders(w http.ResponseWriter, r *http.Request) {
	if s.reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "reminders are not configured")
		return
	}
	report, err := s.reminders.Send(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "failed to send reminders")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
