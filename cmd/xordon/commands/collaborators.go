package commands

import (
	"context"
	"encoding/json"

	"github.com/ronittamrakar/Xordon-sub048/handler"
	"github.com/ronittamrakar/Xordon-sub048/logger"
)

// Log-only collaborators back the built-in handlers when no real
// provider is wired. They record what would have been sent, so a fresh
// deployment runs end to end before any integration exists.

type logGateway struct{}

func (g *logGateway) Send(ctx context.Context, n *handler.Notification) error {
	logger.Named("push").Infow("Push notification (log gateway)",
		"notification_id", n.ID,
		"device_token", n.DeviceToken,
		"title", n.Title)
	return nil
}

type logMailer struct{}

func (m *logMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	logger.Named("workflow").Infow("Email (log mailer)", "to", to, "subject", subject)
	return nil
}

type logMessenger struct{}

func (m *logMessenger) SendSMS(ctx context.Context, to, message string) error {
	logger.Named("workflow").Infow("SMS (log messenger)", "to", to)
	return nil
}

type logDirectory struct{}

func (d *logDirectory) Apply(ctx context.Context, action, contactID string, params map[string]interface{}) (json.RawMessage, error) {
	logger.Named("workflow").Infow("Contact mutation (log directory)",
		"action", action,
		"contact_id", contactID)
	return json.Marshal(map[string]interface{}{"action": action, "contact_id": contactID, "applied": true})
}
