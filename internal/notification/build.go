package notification

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"harvest/internal/config"
)

// FromConfig always logs; webhook and telegram are added when configured.
func FromConfig(cfg config.AlertsConfig, logger *zap.Logger) Fanout {
	client := &http.Client{Timeout: 10 * time.Second}
	out := Fanout{LogNotifier{Logger: logger}}
	if cfg.WebhookURL != "" {
		out = append(out, WebhookNotifier{Sender: WebhookSender{HTTP: client}, URL: cfg.WebhookURL, Project: cfg.Project})
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		out = append(out, TelegramNotifier{
			Sender:   TelegramSender{HTTP: client},
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
			Project:  cfg.Project,
		})
	}
	return out
}
