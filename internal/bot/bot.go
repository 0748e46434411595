// Package bot wires the Telegram transport to the command router and
// dialog engine. Updates from the same chat are handled in order by a
// dedicated worker; different chats proceed independently.
package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"b24bot/internal/conversation"
	"b24bot/internal/observability/logger"
	"b24bot/internal/webhook"
)

// maxAttachmentSize bounds documents downloaded for attaching.
const maxAttachmentSize = 20 << 20

// chatQueueSize is the per-chat update buffer. A full queue drops the
// update rather than blocking the fan-out loop.
const chatQueueSize = 16

// downloadTimeout bounds one attachment fetch from Telegram, matching
// the budget of a data call to the portal.
const downloadTimeout = 30 * time.Second

// downloadClient fetches attachment files. The timeout covers the
// whole response body, not just the headers.
var downloadClient = &http.Client{Timeout: downloadTimeout}

// Bot is the long-polling Telegram frontend.
type Bot struct {
	api    *tgbotapi.BotAPI
	router *router
	log    *logger.Logger

	mu      sync.Mutex
	workers map[int64]chan tgbotapi.Update
	wg      sync.WaitGroup
}

// New builds a Bot on an authorized Telegram API client.
func New(api *tgbotapi.BotAPI, engine *conversation.Engine, creds conversation.CredentialStore, newCRM func(desc webhook.Descriptor) CRM, log *logger.Logger) *Bot {
	return &Bot{
		api: api,
		router: &router{
			engine: engine,
			creds:  creds,
			newCRM: newCRM,
			log:    log,
			now:    time.Now,
		},
		log:     log,
		workers: make(map[int64]chan tgbotapi.Update),
	}
}

// Run polls Telegram until ctx is cancelled, then drains the per-chat
// workers.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	b.log.Info(ctx, "bot started",
		logger.Module("bot"),
		logger.Action("run"),
		zap.String("username", b.api.Self.UserName),
	)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.shutdown()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				b.shutdown()
				return nil
			}
			chatID, ok := updateChatID(update)
			if !ok {
				continue
			}
			b.enqueue(ctx, chatID, update)
		}
	}
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}

// enqueue hands the update to the chat's worker, starting one on
// first contact.
func (b *Bot) enqueue(ctx context.Context, chatID int64, update tgbotapi.Update) {
	b.mu.Lock()
	queue, ok := b.workers[chatID]
	if !ok {
		queue = make(chan tgbotapi.Update, chatQueueSize)
		b.workers[chatID] = queue
		b.wg.Add(1)
		go b.worker(ctx, chatID, queue)
	}
	b.mu.Unlock()

	select {
	case queue <- update:
	default:
		b.log.Warn(ctx, "chat queue full, update dropped",
			logger.Module("bot"),
			logger.Action("enqueue"),
			zap.Int64("chat_id", chatID),
		)
	}
}

func (b *Bot) worker(ctx context.Context, chatID int64, queue <-chan tgbotapi.Update) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-queue:
			if !ok {
				return
			}
			b.handle(ctx, chatID, update)
		}
	}
}

func (b *Bot) shutdown() {
	b.mu.Lock()
	for _, queue := range b.workers {
		close(queue)
	}
	b.workers = make(map[int64]chan tgbotapi.Update)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bot) handle(ctx context.Context, chatID int64, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, chatID, update.CallbackQuery)
	case update.Message != nil && update.Message.Document != nil:
		b.handleDocument(ctx, chatID, update.Message)
	case update.Message != nil && update.Message.Text != "":
		reply := b.router.dispatch(ctx, chatID, update.Message.Text)
		b.send(ctx, chatID, reply)
	}
}

func (b *Bot) handleCallback(ctx context.Context, chatID int64, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn(ctx, "callback ack failed",
			logger.Module("bot"),
			logger.Action("callback"),
			zap.Error(err),
		)
	}
	reply := b.router.choice(ctx, chatID, cb.Data)
	b.send(ctx, chatID, reply)
}

func (b *Bot) handleDocument(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	doc := msg.Document
	if doc.FileSize > maxAttachmentSize {
		b.send(ctx, chatID, conversation.Reply{Text: "That file is too large to attach."})
		return
	}

	data, err := b.download(ctx, doc.FileID)
	if err != nil {
		b.log.Error(ctx, "document download failed",
			logger.Module("bot"),
			logger.Action("attach_file"),
			zap.Error(err),
		)
		b.send(ctx, chatID, conversation.Reply{Text: "Could not download that file from Telegram."})
		return
	}

	reply := b.router.attach(ctx, chatID, msg.Caption, doc.FileName, data)
	b.send(ctx, chatID, reply)
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize))
}

func (b *Bot) send(ctx context.Context, chatID int64, reply conversation.Reply) {
	if reply.Text == "" {
		return
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	if len(reply.Choices) > 0 {
		msg.ReplyMarkup = inlineKeyboard(reply.Choices)
	} else {
		msg.ReplyMarkup = mainKeyboard()
	}

	if _, err := b.api.Send(msg); err != nil {
		b.log.Error(ctx, "send failed",
			logger.Module("bot"),
			logger.Action("send"),
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}
