package httpserver

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appanalysis "github.com/bryanwahyu/profile-insight/internal/application/analysis"
	domai "github.com/bryanwahyu/profile-insight/internal/domain/ai"
	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
	"github.com/bryanwahyu/profile-insight/internal/logger"
	"github.com/bryanwahyu/profile-insight/internal/middleware"
	"github.com/bryanwahyu/profile-insight/web"
)

// Options wires the router's collaborators. Metrics and RateLimiter are optional.
type Options struct {
	Service     *appanalysis.Service
	Verifier    middleware.SignatureVerifier
	WebhookURL  string
	CORSOrigin  string
	Logger      *zap.Logger
	Metrics     *middleware.Metrics
	RateLimiter *middleware.RateLimiter
}

type Router struct {
	svc *appanalysis.Service
}

func NewRouter(opts Options) http.Handler {
	r := &Router{svc: opts.Service}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{opts.CORSOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.SignatureHeader},
		MaxAge:         300,
	}))

	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found", nil)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	mux.Get("/health", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"store": &middleware.StoreHealthChecker{Store: opts.Service},
	}))
	if opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	mux.Route("/analyze", func(rt chi.Router) {
		if opts.RateLimiter != nil {
			rt.With(opts.RateLimiter.Middleware).Post("/", r.wrap(r.handleCreate))
		} else {
			rt.Post("/", r.wrap(r.handleCreate))
		}
		rt.Get("/{requestId}", r.wrap(r.handleStatus))
	})
	mux.With(middleware.WebhookSignature(opts.Verifier, opts.WebhookURL)).
		Post("/webhook", r.wrap(r.handleWebhook))

	mux.Get("/", web.Page("index.html"))
	mux.Get("/result/{requestId}", web.Page("result.html"))
	mux.Handle("/static/*", web.Assets("/static/"))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps handler errors to status codes and renders {message, details?}.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		log := logger.FromContext(req.Context())

		var ve *domain.ValidationError
		switch {
		case errors.As(err, &ve):
			var details any
			if len(ve.Details) > 0 {
				details = ve.Details
			}
			middleware.WriteError(w, http.StatusBadRequest, ve.Message, details)
		case errors.Is(err, domain.ErrUnauthorized):
			middleware.WriteError(w, http.StatusUnauthorized, "Invalid signature", nil)
		case errors.Is(err, domain.ErrNotFound):
			log.Debug("Record not found", zap.Error(err))
			middleware.WriteError(w, http.StatusNotFound, "Not found", nil)
		case errors.Is(err, domain.ErrProvider),
			errors.Is(err, domain.ErrQueue),
			errors.Is(err, domain.ErrStoreUnavailable):
			log.Error("Request failed",
				zap.Error(err),
				zap.Bool("quota_exceeded", errors.Is(err, domai.ErrQuotaExceeded)),
			)
			middleware.WriteError(w, http.StatusInternalServerError, err.Error(), nil)
		default:
			log.Error("Unhandled error", zap.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, "Internal server error", nil)
		}
	}
}

type createResponse struct {
	RequestID domain.ID `json:"requestId"`
}

type statusResponse struct {
	RequestID domain.ID     `json:"requestId"`
	Status    domain.Status `json:"status"`
	Result    *string       `json:"result"`
	Error     *string       `json:"error"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type webhookResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// POST /analyze
// Body: {"name": "...", "age": 27, "description": "..."}
func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) error {
	in, err := middleware.DecodeAnalyzeRequest(req.Body)
	if err != nil {
		return err
	}

	id, err := r.svc.Create(req.Context(), in)
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusCreated, createResponse{RequestID: id})
	return nil
}

// GET /analyze/{requestId}
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "requestId")
	if err := middleware.ValidateRequestID(id); err != nil {
		return err
	}

	rec, err := r.svc.GetStatus(req.Context(), domain.ID(id))
	if err != nil {
		return err
	}

	middleware.WriteJSON(w, http.StatusOK, statusResponse{
		RequestID: rec.RequestID,
		Status:    rec.Status,
		Result:    rec.Result,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
	return nil
}

// POST /webhook
// Called by QStash after the publish delay. Signature is checked by middleware.
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) error {
	id, err := middleware.DecodeWebhookRequest(req.Body)
	if err != nil {
		return err
	}
	logger.FromContext(req.Context()).Info("Webhook received", zap.String(logger.FieldAnalysisID, string(id)))

	outcome, err := r.svc.ProcessWebhook(req.Context(), id)
	if err != nil {
		return err
	}

	resp := webhookResponse{OK: true}
	switch outcome {
	case appanalysis.OutcomeAlreadyProcessed:
		resp.Message = "Already processed"
	case appanalysis.OutcomeAlreadyProcessing:
		resp.Message = "Already processing"
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
	return nil
}
