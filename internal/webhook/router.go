// Package webhook exposes the tracker's HTTP surface: click capture, Telegram
// member deliveries, webhook lifecycle and health endpoints.
package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/domain"
	"tg_utm_tracker/internal/feature/capture"
	"tg_utm_tracker/internal/feature/lifecycle"
	"tg_utm_tracker/internal/feature/member"
	"tg_utm_tracker/internal/logging"
	"tg_utm_tracker/internal/telegram"
)

// Route prefixes shared with the operator commands.
const (
	CapturePath = "/webhooks/utm-capture/"
	MemberPath  = lifecycle.MemberPath
)

// SecretHeader carries the secret_token configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type capturer interface {
	Capture(ctx context.Context, campaignID string, utm domain.UTM) (capture.Result, error)
}

type memberHandler interface {
	EnsureActive(ctx context.Context, campaignID string) error
	HandleUpdate(ctx context.Context, campaignID string, update telegram.Update) (member.Outcome, error)
}

type webhookManager interface {
	Register(ctx context.Context, campaignID string) (string, error)
	Deregister(ctx context.Context, campaignID string) error
}

type campaignReader interface {
	Get(ctx context.Context, id string) (domain.Campaign, error)
}

type healthEndpoints interface {
	Health(w http.ResponseWriter, r *http.Request)
	Status(w http.ResponseWriter, r *http.Request)
}

// Router serves the tracker endpoints.
type Router struct {
	capture   capturer
	member    memberHandler
	lifecycle webhookManager
	campaigns campaignReader
	health    healthEndpoints
	secret    string
	baseURL   string
	logger    *logrus.Entry
}

// Option customizes a Router.
type Option func(*Router)

// WithCapture wires the click capture service.
func WithCapture(svc capturer) Option {
	return func(r *Router) {
		r.capture = svc
	}
}

// WithMember wires the chat_member delivery service.
func WithMember(svc memberHandler) Option {
	return func(r *Router) {
		r.member = svc
	}
}

// WithLifecycle wires webhook setup and removal.
func WithLifecycle(svc webhookManager) Option {
	return func(r *Router) {
		r.lifecycle = svc
	}
}

// WithCampaigns wires the campaign lookup used for QR codes.
func WithCampaigns(campaigns campaignReader) Option {
	return func(r *Router) {
		r.campaigns = campaigns
	}
}

// WithHealth mounts /healthz and /statusz.
func WithHealth(h healthEndpoints) Option {
	return func(r *Router) {
		r.health = h
	}
}

// WithSecret requires member deliveries to carry secret in SecretHeader.
// An empty secret disables the check.
func WithSecret(secret string) Option {
	return func(r *Router) {
		r.secret = secret
	}
}

// WithPublicBaseURL sets the externally reachable base URL encoded in QR codes.
func WithPublicBaseURL(baseURL string) Option {
	return func(r *Router) {
		r.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewRouter builds a Router from options.
func NewRouter(logger *logrus.Entry, opts ...Option) *Router {
	if logger == nil {
		logger = logging.Logger()
	}

	r := &Router{logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Handler returns the chi mux with middleware and routes mounted.
func (rt *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(logging.RequestLogger(rt.logger))
	mux.Use(middleware.Recoverer)

	if rt.health != nil {
		mux.Get("/healthz", rt.health.Health)
		mux.Get("/statusz", rt.health.Status)
	}

	mux.Route(strings.TrimSuffix(CapturePath, "/"), func(r chi.Router) {
		r.Get("/{campaignID}", rt.handleCapture)
		r.Get("/{campaignID}/qr.png", rt.handleQR)
	})

	mux.Route(strings.TrimSuffix(MemberPath, "/"), func(r chi.Router) {
		r.Post("/{campaignID}", rt.handleMember)
		r.Post("/{campaignID}/setup", rt.handleSetup)
		r.Post("/{campaignID}/remove", rt.handleRemove)
	})

	return mux
}
