// Package telegram wraps the Telegram Bot API calls the tracker makes and the
// update payloads it receives.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_utm_tracker/internal/config"
	"tg_utm_tracker/internal/logging"
)

// AllowedUpdates restricts webhook deliveries to membership changes.
var AllowedUpdates = []string{"chat_member"}

// PrivateLinkTTL is the lifetime of invite links minted for private chats.
const PrivateLinkTTL = 24 * time.Hour

type botAPI interface {
	GetMe(ctx context.Context) (*models.User, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	CreateChatInviteLink(ctx context.Context, params *bot.CreateChatInviteLinkParams) (*models.ChatInviteLink, error)
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
}

// createBot is overridable for tests.
var createBot = func(token string, options ...bot.Option) (botAPI, error) {
	return bot.New(token, options...)
}

// APIError is the single failure shape of every gateway call. Description
// never contains the bot token.
type APIError struct {
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s", e.Method, e.Description)
}

// Describe returns the Telegram description of err, or its text when err did
// not come from the gateway.
func Describe(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Description
	}
	return err.Error()
}

// BotInfo is what getMe and getChat report about a bot and its chat.
type BotInfo struct {
	Username string
	ChatName string
	ChatType string
}

// Gateway performs Bot API calls on behalf of stored bots. Tokens are passed
// per call because each campaign uses its own bot.
type Gateway struct {
	serverURL string
	timeout   time.Duration
	client    *http.Client
	logger    *logrus.Entry
	now       func() time.Time
}

// NewGateway builds a Gateway from the Telegram settings in cfg.
func NewGateway(cfg config.Config, logger *logrus.Entry) *Gateway {
	if logger == nil {
		logger = logging.Logger()
	}

	timeout := cfg.TelegramTimeout
	if timeout <= 0 {
		timeout = config.DefaultTelegramTimeout
	}

	return &Gateway{
		serverURL: strings.TrimRight(cfg.TelegramAPIURL, "/"),
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		now:       time.Now,
	}
}

// CreateInviteLink mints a chat invite link named name. Links for private
// chats expire after PrivateLinkTTL; others never expire.
func (g *Gateway) CreateInviteLink(ctx context.Context, token, chatID, name string, private bool) (string, error) {
	const method = "createChatInviteLink"

	var url string
	err := g.call(ctx, token, method, func(ctx context.Context, api botAPI) error {
		params := &bot.CreateChatInviteLinkParams{
			ChatID: chatIDParam(chatID),
			Name:   name,
		}
		if private {
			params.ExpireDate = int(g.now().Add(PrivateLinkTTL).Unix())
		}

		link, err := api.CreateChatInviteLink(ctx, params)
		if err != nil {
			return err
		}
		if link == nil || link.InviteLink == "" {
			return errors.New("response did not include an invite link")
		}

		url = link.InviteLink
		return nil
	})
	if err != nil {
		return "", err
	}

	return url, nil
}

// SetWebhook points the bot at url for chat_member updates. A non-empty
// secret is echoed by Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (g *Gateway) SetWebhook(ctx context.Context, token, url, secret string) error {
	return g.call(ctx, token, "setWebhook", func(ctx context.Context, api botAPI) error {
		ok, err := api.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:            url,
			AllowedUpdates: AllowedUpdates,
			SecretToken:    secret,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("telegram returned false")
		}
		return nil
	})
}

// DeleteWebhook removes the bot's webhook registration.
func (g *Gateway) DeleteWebhook(ctx context.Context, token string) error {
	return g.call(ctx, token, "deleteWebhook", func(ctx context.Context, api botAPI) error {
		ok, err := api.DeleteWebhook(ctx, &bot.DeleteWebhookParams{})
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("telegram returned false")
		}
		return nil
	})
}

// ValidateBot checks the token with getMe and the chat with getChat.
func (g *Gateway) ValidateBot(ctx context.Context, token, chatID string) (BotInfo, error) {
	var info BotInfo

	err := g.call(ctx, token, "getMe", func(ctx context.Context, api botAPI) error {
		me, err := api.GetMe(ctx)
		if err != nil {
			return err
		}
		if me == nil || me.Username == "" {
			return errors.New("bot username missing from response")
		}
		info.Username = me.Username
		return nil
	})
	if err != nil {
		return BotInfo{}, err
	}

	err = g.call(ctx, token, "getChat", func(ctx context.Context, api botAPI) error {
		chat, err := api.GetChat(ctx, &bot.GetChatParams{ChatID: chatIDParam(chatID)})
		if err != nil {
			return err
		}
		if chat == nil {
			return errors.New("chat missing from response")
		}
		info.ChatName = chat.Title
		info.ChatType = string(chat.Type)
		return nil
	})
	if err != nil {
		return BotInfo{}, err
	}

	return info, nil
}

// call runs fn against a bot client for token under the gateway timeout and
// folds every failure into an *APIError.
func (g *Gateway) call(ctx context.Context, token, method string, fn func(context.Context, botAPI) error) error {
	if g == nil {
		return &APIError{Method: method, Description: "gateway is not initialized"}
	}
	if ctx == nil {
		return &APIError{Method: method, Description: "context is required"}
	}
	if strings.TrimSpace(token) == "" {
		return &APIError{Method: method, Description: "bot token is required"}
	}

	api, err := createBot(token, g.options()...)
	if err != nil {
		return g.fail(method, token, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := fn(callCtx, api); err != nil {
		return g.fail(method, token, err)
	}

	return nil
}

func (g *Gateway) options() []bot.Option {
	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(g.timeout, g.client),
	}
	if g.serverURL != "" {
		opts = append(opts, bot.WithServerURL(g.serverURL))
	}
	return opts
}

func (g *Gateway) fail(method, token string, err error) error {
	apiErr := &APIError{Method: method, Description: scrub(err.Error(), token)}

	g.logger.WithFields(logging.Fields{
		"event":  "telegram_call_failed",
		"method": method,
		"error":  apiErr.Description,
	}).Warn("telegram call failed")

	return apiErr
}

// scrub removes the bot token from text that may embed request URLs.
func scrub(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, "<redacted>")
}

// chatIDParam sends numeric chat ids as integers and @usernames as strings.
func chatIDParam(chatID string) any {
	if id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64); err == nil {
		return id
	}
	return chatID
}
