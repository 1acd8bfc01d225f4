package tg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pvzzle/walletfeed/internal/bus"
	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/session"
	"github.com/pvzzle/walletfeed/internal/subs"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	cbStatus       = "status"
	cbPending      = "pending"
	cbSubscription = "subscription"
	cbBackToMain   = "back_main"
)

type StatsSource interface {
	Stats() session.Stats
}

type PendingLister interface {
	List(ctx context.Context, userID string) ([]domain.Notification, error)
}

// Service is the operator bot: it forwards pipeline alerts to one chat and
// answers status queries.
type Service struct {
	bot       *tgbot.Bot
	alertChat int64
	alerts    <-chan bus.Alert

	stats   StatsSource
	pending PendingLister
	subs    subs.Directory

	state   *StateStore
	log     *zap.Logger
	started time.Time
}

func NewService(
	b *tgbot.Bot,
	alertChat int64,
	alerts <-chan bus.Alert,
	stats StatsSource,
	pending PendingLister,
	dir subs.Directory,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		bot:       b,
		alertChat: alertChat,
		alerts:    alerts,
		stats:     stats,
		pending:   pending,
		subs:      dir,
		state:     NewStateStore(),
		log:       log.With(zap.String("component", "tg")),
		started:   time.Now(),
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, s.onStart)
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/status", tgbot.MatchTypeExact, s.onStatus)
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/pending", tgbot.MatchTypePrefix, s.onPendingCommand)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbStatus, tgbot.MatchTypeExact, s.onCbStatus)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbPending, tgbot.MatchTypeExact, s.onCbPending)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbSubscription, tgbot.MatchTypeExact, s.onCbSubscription)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBackToMain, tgbot.MatchTypeExact, s.onCbBackToMain)

	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onAnyText)
}

// Start runs the bot and the alert loop until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	go s.StartAlertLoop(ctx)
	s.bot.Start(ctx)
	return ctx.Err()
}

func (s *Service) StartAlertLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.alerts:
			if s.alertChat == 0 {
				continue
			}
			_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: s.alertChat,
				Text:   FormatAlert(a),
			})
			if err != nil {
				s.log.Warn("send alert failed", zap.Error(err))
			}
		}
	}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Status", CallbackData: cbStatus},
				{Text: "Pending", CallbackData: cbPending},
			},
			{
				{Text: "Subscription", CallbackData: cbSubscription},
			},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Назад", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) onStart(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.state.Set(chatID, StateIdle)

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        "walletfeed ops. Выбери действие:",
		ReplyMarkup: mainMenu(),
	})
}

func (s *Service) onStatus(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	s.sendStatus(ctx, b, upd.Message.Chat.ID)
}

func (s *Service) onPendingCommand(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID

	userID := commandArg(upd.Message.Text)
	if userID == "" {
		s.state.Set(chatID, StateAwaitUserID)
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: "Введи user id:"})
		return
	}
	s.handlePending(ctx, b, chatID, userID)
}

func (s *Service) onCbStatus(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.sendStatus(ctx, b, chatID)
}

func (s *Service) onCbPending(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitUserID)
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: "Введи user id:"})
}

func (s *Service) onCbSubscription(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitSubscriptionID)
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: "Введи id подписки (wh_...):"})
}

func (s *Service) onCbBackToMain(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        "Главное меню:",
		ReplyMarkup: mainMenu(),
	})
}

func (s *Service) onAnyText(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	// команды — не обрабатываем тут
	if strings.HasPrefix(text, "/") {
		return
	}

	switch s.state.Get(chatID) {
	case StateAwaitUserID:
		s.handlePending(ctx, b, chatID, text)

	case StateAwaitSubscriptionID:
		s.handleSubscription(ctx, b, chatID, text)

	default:
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Используй /start, чтобы открыть меню.",
		})
	}
}

func (s *Service) sendStatus(ctx context.Context, b *tgbot.Bot, chatID int64) {
	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        FormatStatus(s.stats.Stats(), time.Since(s.started)),
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) handlePending(ctx context.Context, b *tgbot.Bot, chatID int64, userID string) {
	if !IsUserID(userID) {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Похоже, это не user id. Попробуй ещё раз.",
		})
		return
	}
	s.state.Set(chatID, StateIdle)

	items, err := s.pending.List(ctx, userID)
	if err != nil {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("Ошибка чтения очереди: %v", err),
		})
		return
	}

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        FormatPending(userID, items),
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) handleSubscription(ctx context.Context, b *tgbot.Bot, chatID int64, id string) {
	if !IsSubscriptionID(id) {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   "Похоже, это не id подписки. Ожидаю wh_ + буквы/цифры.",
		})
		return
	}
	s.state.Set(chatID, StateIdle)

	sub, err := s.subs.Resolve(ctx, id)
	text := ""
	switch {
	case errors.Is(err, subs.ErrNotFound):
		text = "Подписка не найдена."
	case err != nil:
		text = fmt.Sprintf("Ошибка чтения подписки: %v", err)
	default:
		text = FormatSubscription(sub)
	}

	_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: backMenu(),
	})
}

func (s *Service) callbackChat(ctx context.Context, b *tgbot.Bot, upd *models.Update) (int64, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
		return 0, false
	}
	_ = s.answerCallback(ctx, b, cb.ID)
	return cb.Message.Message.Chat.ID, true
}

func (s *Service) answerCallback(ctx context.Context, b *tgbot.Bot, callbackID string) error {
	_, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	return err
}
