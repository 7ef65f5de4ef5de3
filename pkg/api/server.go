package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openfroyo/cloudsim/pkg/orchestrator"
	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// DefaultRequestTimeout bounds a single request.
const DefaultRequestTimeout = 30 * time.Second

// MaxBodyBytes caps request bodies, including object uploads.
const MaxBodyBytes = 32 << 20

// Server exposes an orchestrator over HTTP.
type Server struct {
	orch    *orchestrator.Orchestrator
	tel     *telemetry.Telemetry
	log     *telemetry.Logger
	timeout time.Duration
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetry serves /metrics from t and logs through its logger.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) {
		if t != nil {
			s.tel = t
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer builds the router.
func NewServer(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch:    orch,
		tel:     telemetry.NewNopTelemetry(),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.tel.Logger.NewComponentLogger("api")
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewHTTPServer wraps the handler in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.tel.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Use(middleware.RequestSize(MaxBodyBytes))

		r.Post("/provision", s.handleProvision)
		r.Post("/destroy", s.handleDestroy)
		r.Get("/status", s.handleStatus)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Get("/{id}", s.handleGetInstance)
			r.Post("/{id}/{action}", s.handleInstanceAction)
		})

		r.Route("/buckets/{bucket}", func(r chi.Router) {
			r.Get("/", s.handleGetBucket)
			r.Get("/objects", s.handleListObjects)
			r.Put("/objects/*", s.handlePutObject)
			r.Get("/objects/*", s.handleGetObject)
			r.Delete("/objects/*", s.handleDeleteObject)
		})

		r.Route("/functions/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetFunction)
			r.Post("/invoke", s.handleInvoke)
		})
	})

	return r
}

// requestLogger logs each request through the component logger once the
// response is written.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		log := s.log.WithField("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(log.WithContext(r.Context())))

		log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	})
}
