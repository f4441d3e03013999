// Package server exposes the kiosk session to the browser UI.
package server

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/httputil"
	"github.com/promorec/promorec/internal/ratelimit"
	"github.com/promorec/promorec/internal/submit"
	"github.com/promorec/promorec/internal/validate"
)

const DefaultSubmitTimeout = 3 * time.Minute

// FallbackLocator locates a client by its network address when the browser
// has no fix to report.
type FallbackLocator interface {
	Provider(clientIP string) geo.Provider
}

type Config struct {
	Session       *capture.Session
	Preparer      *submit.Preparer
	Locator       *geo.Locator
	Fallback      FallbackLocator
	WebFS         fs.FS
	BaseURL       string
	SubmitTimeout time.Duration
}

type Server struct {
	router        chi.Router
	session       *capture.Session
	preparer      *submit.Preparer
	locator       *geo.Locator
	fallback      FallbackLocator
	webFS         fs.FS
	submitTimeout time.Duration
	submitLimiter *ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{BaseURL: cfg.BaseURL}))

	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}

	s := &Server{
		router:        r,
		session:       cfg.Session,
		preparer:      cfg.Preparer,
		locator:       cfg.Locator,
		fallback:      cfg.Fallback,
		webFS:         cfg.WebFS,
		submitTimeout: cfg.SubmitTimeout,
		submitLimiter: ratelimit.NewLimiter(0.2, 3),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.submitLimiter.Close()
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)

	if s.session != nil && s.preparer != nil {
		s.router.Route("/api/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/asset", s.handleAsset)
			r.Put("/tier", s.handleSetTier)
			r.Put("/fields", s.handleSetFields)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/retake", s.handleRetake)
			r.Post("/reset", s.handleReset)
			r.Post("/location", s.handleLocation)
			r.With(s.submitLimiter.Middleware).Post("/submit", s.handleSubmit)
		})
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}
