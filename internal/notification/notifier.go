package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Event is an operator-facing notice: a quota alert, a worker restart.
type Event struct {
	Name    string
	Level   string
	Message string
	Fields  map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	if n.Logger == nil {
		return nil
	}
	fields := make([]zap.Field, 0, len(ev.Fields)+2)
	fields = append(fields, zap.String("event", ev.Name), zap.String("level", ev.Level))
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch ev.Level {
	case "critical", "error":
		n.Logger.Error(ev.Message, fields...)
	case "warning", "warn":
		n.Logger.Warn(ev.Message, fields...)
	default:
		n.Logger.Info(ev.Message, fields...)
	}
	return nil
}

type WebhookNotifier struct {
	Sender  WebhookSender
	URL     string
	Project string
}

func (n WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	if n.URL == "" {
		return nil
	}
	return n.Sender.Send(ctx, n.URL, WebhookPayload{
		Project: n.Project,
		Event:   ev.Name,
		Level:   ev.Level,
		Message: ev.Message,
		Fields:  ev.Fields,
	})
}

type TelegramNotifier struct {
	Sender   TelegramSender
	BotToken string
	ChatID   string
	Project  string
}

func (n TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	if n.BotToken == "" || n.ChatID == "" {
		return nil
	}
	text := fmt.Sprintf("[%s] %s %s: %s", n.Project, ev.Level, ev.Name, ev.Message)
	return n.Sender.Send(ctx, n.BotToken, n.ChatID, text)
}
