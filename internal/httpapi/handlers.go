package httpapi

import (
	"strings"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"
	"github.com/pvzzle/walletfeed/internal/session"
	"github.com/pvzzle/walletfeed/internal/webhook"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	headerSignature = "X-Alchemy-Signature"
	headerUserID    = "X-User-Id"
	localUserID     = "user_id"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleWebhook answers 200 for anything it could read, including payloads
// it drops, so the provider does not retry them. A bad signature is refused
// with 401, and a delivery arriving during shutdown with 503.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	body := c.Body()

	if err := webhook.Verify(body, c.Get(headerSignature), s.cfg.SigningKey); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("bad_signature").Inc()
		s.log.Warn("webhook signature rejected", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: err.Error()})
	}

	d, skipped, err := webhook.Parse(body, time.Now())
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		s.log.Warn("dropping malformed webhook", zap.Int("bytes", len(body)), zap.Error(err))
		return c.SendStatus(fiber.StatusOK)
	}

	for _, sk := range skipped {
		metrics.EntriesDropped.WithLabelValues("webhook", "unmappable").Inc()
		s.log.Debug("activity skipped",
			zap.String("delivery_id", d.DeliveryID),
			zap.Int("index", sk.Index),
			zap.String("hash", sk.Hash),
			zap.String("reason", sk.Reason),
		)
	}

	if err := s.deps.Buffer.Accept(d); err != nil {
		// shutting down; the provider retries the delivery
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: err.Error()})
	}
	metrics.WebhookDeliveries.WithLabelValues("accepted").Inc()
	return c.SendStatus(fiber.StatusOK)
}

// upgrade admits websocket upgrades carrying a user id. The id is set by the
// auth gateway in front of the service; the header wins over the query.
func (s *Server) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	userID := strings.TrimSpace(c.Get(headerUserID))
	if userID == "" {
		userID = strings.TrimSpace(c.Query("user_id"))
	}
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "missing user id"})
	}

	c.Locals(localUserID, userID)
	return c.Next()
}

func (s *Server) handleWS(c *websocket.Conn) {
	userID, _ := c.Locals(localUserID).(string)

	requeue := func(ns []domain.Notification) {
		s.deps.Sessions.Requeue(s.base, userID, ns)
	}
	sess := session.NewWSSession(userID, c, s.cfg.SessionSendBuffer, requeue, s.log)
	defer func() {
		s.deps.Sessions.Unregister(sess)
		sess.Close()
		<-sess.Done()
	}()

	if err := s.deps.Sessions.Register(s.base, sess); err != nil {
		// the backlog stays queued in order; the client reconnects to retry
		s.log.Warn("session rejected, pending drain failed", zap.String("user_id", userID), zap.Error(err))
		sess.Close()
		<-sess.Done() // the writer owns the conn until it exits
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "pending drain failed"))
		return
	}

	// inbound frames carry nothing; reading detects the disconnect
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

type subscriptionRequest struct {
	UserID    string   `json:"userId"`
	Network   string   `json:"network"`
	Addresses []string `json:"addresses"`
	Active    *bool    `json:"active"`
}

func (s *Server) handlePutSubscription(c *fiber.Ctx) error {
	id := c.Params("id")

	var req subscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid body"})
	}
	if req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "userId is required"})
	}
	for _, a := range req.Addresses {
		if !common.IsHexAddress(a) {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid address " + a})
		}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	sub := domain.Subscription{
		ID:               id,
		UserID:           req.UserID,
		Network:          strings.ToUpper(strings.TrimSpace(req.Network)),
		TrackedAddresses: domain.NewAddressSet(req.Addresses...),
		Active:           active,
	}
	if err := s.deps.Subs.Put(c.UserContext(), sub); err != nil {
		s.log.Error("put subscription failed", zap.String("subscription_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "store unavailable"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDeleteSubscription(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.deps.Subs.Remove(c.UserContext(), id); err != nil {
		s.log.Error("delete subscription failed", zap.String("subscription_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "store unavailable"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type coinRequest struct {
	CoinID string `json:"coinId"`
}

func (s *Server) handleMapCoin(c *fiber.Ctx) error {
	network := strings.ToUpper(c.Params("network"))
	contract := c.Params("contract")
	if !common.IsHexAddress(contract) {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid contract address"})
	}

	var req coinRequest
	if err := c.BodyParser(&req); err != nil || req.CoinID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "coinId is required"})
	}

	if err := s.deps.Coins.MapContract(c.UserContext(), network, contract, req.CoinID); err != nil {
		s.log.Error("map coin failed", zap.String("contract", contract), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "store unavailable"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
