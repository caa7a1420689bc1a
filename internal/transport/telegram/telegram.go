// Package telegram delivers generated posts to Telegram channels.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

// Config configures the send-only Telegram dispatcher.
type Config struct {
	Token string
	// ParseMode applies to all outgoing posts ("", "HTML", "Markdown").
	ParseMode string
}

// Dispatcher implements automation.Dispatcher. It never polls for updates;
// interactive bot traffic belongs to the dashboard, not the engine.
type Dispatcher struct {
	bot       *tele.Bot
	parseMode string
	log       logx.Logger
}

func New(cfg Config, log logx.Logger) (*Dispatcher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Send-only: no poller, no Start() loop.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Synchronous: true})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{bot: b, parseMode: cfg.ParseMode, log: log}, nil
}

const textLimit = 4000

func (d *Dispatcher) Send(ctx context.Context, ch automation.Channel, content automation.Content) (string, error) {
	chat := &tele.Chat{ID: ch.ChatID}
	opts := &tele.SendOptions{
		ParseMode:             d.parseMode,
		DisableWebPagePreview: true,
	}

	chunks := splitText(content.Text, textLimit)
	if len(chunks) == 0 {
		return "", errors.New("empty content")
	}

	var first *tele.Message
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		msg, err := d.bot.Send(chat, chunk, opts)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = msg
		}
	}

	d.log.Debug("post delivered",
		logx.Int64("chat_id", ch.ChatID),
		logx.String("type", string(content.Type)),
		logx.Int("chunks", len(chunks)))
	return strconv.Itoa(first.ID), nil
}

// splitText splits long posts into Telegram-safe chunks, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) == 0 {
		return nil
	}
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

