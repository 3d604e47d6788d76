// Package bot exposes analysis over Telegram.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"stockpulse/internal/advisor"
	"stockpulse/internal/analysis"
	"stockpulse/internal/domain"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

const (
	maxMessageLen  = 4000
	maxCodesPerMsg = 3
	usage          = "Usage: /analyze 600519\nCodes: A-share (600519), Hong Kong (00700), US (AAPL)"
)

var newTeleBot = tele.NewBot

// registrar is the part of *tele.Bot the command table needs.
type registrar interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
}

// Bot turns chat commands into analysis tasks. Each chat is one session.
type Bot struct {
	ctx     context.Context
	tasks   *analysis.Manager
	log     zerolog.Logger
	timeout time.Duration
}

func New(ctx context.Context, tasks *analysis.Manager, log zerolog.Logger, timeout time.Duration) *Bot {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Bot{
		ctx:     ctx,
		tasks:   tasks,
		log:     log.With().Str("component", "telegram").Logger(),
		timeout: timeout,
	}
}

// StartTelegramBot connects with token and polls until ctx ends. An empty
// token disables the bot.
func StartTelegramBot(ctx context.Context, token string, tasks *analysis.Manager, log zerolog.Logger) error {
	if token == "" {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	tb, err := newTeleBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	New(ctx, tasks, log, 0).Register(tb)
	go tb.Start()
	go func() {
		<-ctx.Done()
		tb.Stop()
	}()
	log.Info().Msg("Telegram bot started")
	return nil
}

func (b *Bot) Register(r registrar) {
	r.Handle("/start", b.onHelp)
	r.Handle("/help", b.onHelp)
	r.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	r.Handle("/analyze", b.onAnalyze)
	r.Handle("/status", b.onStatus)
	r.Handle("/cancel", b.onCancel)
	r.Handle(tele.OnText, b.onText)
}

func (b *Bot) onHelp(c tele.Context) error {
	return c.Send(usage + "\n/status ID shows a task, /cancel ID stops it.\nYou can also just mention codes in a message.")
}

func (b *Bot) onAnalyze(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Send(usage)
	}
	if len(args) > maxCodesPerMsg {
		args = args[:maxCodesPerMsg]
	}
	for _, raw := range args {
		if err := b.submit(c, raw); err != nil {
			return err
		}
	}
	return nil
}

// onText analyzes codes mentioned in free text.
func (b *Bot) onText(c tele.Context) error {
	found := advisor.ExtractCodes(c.Text())
	if len(found) == 0 {
		return c.Send("No stock code found.\n" + usage)
	}
	if len(found) > maxCodesPerMsg {
		found = found[:maxCodesPerMsg]
	}
	for _, inst := range found {
		if err := b.submit(c, inst.CanonicalCode); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) onStatus(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Send("Usage: /status TASK_ID")
	}
	info, err := b.tasks.Snapshot(args[0])
	if err != nil {
		return c.Send(describeError(args[0], err))
	}
	msg := fmt.Sprintf("Task %s\n%s: %s", info.ID, info.Instrument.CanonicalCode, info.State)
	if info.Error != "" {
		msg += "\n" + info.Error
	}
	return c.Send(msg)
}

func (b *Bot) onCancel(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return c.Send("Usage: /cancel TASK_ID")
	}
	id := args[0]
	if err := b.tasks.Cancel(id); err != nil {
		return c.Send(describeError(id, err))
	}
	state, err := b.tasks.Status(id)
	if err != nil {
		return c.Send(describeError(id, err))
	}
	return c.Send(fmt.Sprintf("Task %s: %s", id, state))
}

func (b *Bot) submit(c tele.Context, raw string) error {
	t, err := b.tasks.Submit(raw, analysis.Options{SessionID: sessionID(c)})
	if err != nil {
		return c.Send(describeError(raw, err))
	}
	info := t.Info()
	if err := c.Send(fmt.Sprintf("Analyzing %s (%s)\nTask %s", info.Instrument.CanonicalCode, info.Instrument.Market, info.ID)); err != nil {
		return err
	}
	go b.follow(c, info.ID)
	return nil
}

// follow waits for the task and sends its outcome to the chat.
func (b *Bot) follow(c tele.Context, id string) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	info, err := b.tasks.Wait(ctx, id)
	var msg string
	switch {
	case err != nil:
		msg = fmt.Sprintf("Task %s is still running: %v\nCheck later with /status %s", id, err, id)
	case info.State == domain.TaskDone && info.Report != nil:
		msg = advisor.Summary(info.Report)
	default:
		msg = fmt.Sprintf("Task %s ended %s", id, info.State)
		if info.Error != "" {
			msg += ": " + info.Error
		}
	}
	if err := c.Send(truncate(msg)); err != nil {
		b.log.Warn().Err(err).Str("task_id", id).Msg("send result")
	}
}

func sessionID(c tele.Context) string {
	if chat := c.Chat(); chat != nil {
		return fmt.Sprintf("telegram:%d", chat.ID)
	}
	return ""
}

func describeError(subject string, err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return fmt.Sprintf("%s is not a recognised stock code.\n%s", subject, usage)
	case errors.Is(err, domain.ErrAtCapacity):
		return "Too many analyses are running, try again in a minute."
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("Unknown task: %s", subject)
	default:
		return fmt.Sprintf("Error for %s: %v", subject, err)
	}
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \n") + "\n..."
}
