package httpapi

import (
	"context"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Acceptor interface {
	Accept(d domain.RawDelivery) error
}

type Sessions interface {
	Register(ctx context.Context, s session.Session) error
	Unregister(s session.Session)
	Requeue(ctx context.Context, userID string, ns []domain.Notification)
	Stats() session.Stats
}

type SubscriptionAdmin interface {
	Put(ctx context.Context, sub domain.Subscription) error
	Remove(ctx context.Context, id string) error
}

type CoinAdmin interface {
	MapContract(ctx context.Context, network, contract, coinID string) error
}

type Config struct {
	SigningKey        string
	SessionSendBuffer int
	ReadTimeout       time.Duration
}

type Deps struct {
	Buffer   Acceptor
	Sessions Sessions
	Subs     SubscriptionAdmin
	Coins    CoinAdmin
}

type Server struct {
	app  *fiber.App
	cfg  Config
	deps Deps
	log  *zap.Logger

	// base outlives requests; websocket handlers have no request context
	base    context.Context
	started time.Time
}

func New(ctx context.Context, cfg Config, deps Deps, log *zap.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(zap.String("component", "http")),
		base:    context.WithoutCancel(ctx),
		started: time.Now(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "walletfeed",
		ReadTimeout:           cfg.ReadTimeout,
		DisableStartupMessage: true,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())
	s.app.Use(s.instrument)

	s.app.Post("/webhook", s.handleWebhook)

	s.app.Use("/ws", s.upgrade)
	s.app.Get("/ws", websocket.New(s.handleWS))

	admin := s.app.Group("/admin")
	admin.Put("/subscriptions/:id", s.handlePutSubscription)
	admin.Delete("/subscriptions/:id", s.handleDeleteSubscription)
	admin.Put("/coins/:network/:contract", s.handleMapCoin)

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("http listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	st := s.deps.Sessions.Stats()
	return c.JSON(fiber.Map{
		"status":   "ok",
		"users":    st.Users,
		"sessions": st.Sessions,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}
