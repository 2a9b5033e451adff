package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"example.com/agrosolutions/services/alerts/config"
	"example.com/agrosolutions/services/alerts/internal/models"
)

// Notifier delivers a persisted alert to whoever needs to hear about it
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert) error
}

// EmailEvent is the payload consumed by the downstream email dispatcher
type EmailEvent struct {
	To            string    `json:"to"`
	Subject       string    `json:"subject"`
	HtmlBody      string    `json:"html_body"`
	TextBody      string    `json:"text_body"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// EmailQueueNotifier publishes email events to a dedicated Service Bus queue
type EmailQueueNotifier struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	recipient string
}

// NewEmailQueueNotifier creates a notifier sending to the configured email queue
func NewEmailQueueNotifier(cfg config.AzureConfig, recipient string) (*EmailQueueNotifier, error) {
	if cfg.QueueConnStr == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.EmailQueue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &EmailQueueNotifier{
		client:    client,
		sender:    sender,
		recipient: recipient,
	}, nil
}

// Notify publishes an email event for the alert
func (n *EmailQueueNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	to := alert.RecipientEmail
	if to == "" {
		to = n.recipient
	}

	event := EmailEvent{
		To:            to,
		Subject:       fmt.Sprintf("[%s] Alerta AgroSolutions: %s", severityLabel(alert.Severity), alert.DeviceID),
		HtmlBody:      buildHTMLBody(alert),
		TextBody:      fmt.Sprintf("%s\nAção sugerida: %s", alert.Message, alert.SuggestedAction),
		CorrelationID: alert.ID.String(),
		CreatedAt:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal email event: %w", err)
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "alerts-service",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return n.sender.SendMessage(ctx, msg, nil)
}

func severityLabel(severity models.AlertSeverity) string {
	switch severity {
	case models.SeverityCritical:
		return "CRITICAL"
	case models.SeverityWarning:
		return "WARNING"
	default:
		return "INFO"
	}
}

func buildHTMLBody(alert *models.Alert) string {
	color := "#f57c00"
	if alert.Severity == models.SeverityCritical {
		color = "#d32f2f"
	}
	return fmt.Sprintf(
		`<div style="font-family:sans-serif"><h2 style="color:%s">%s</h2>`+
			`<p>Dispositivo: <strong>%s</strong></p>`+
			`<p>Gerado em: %s</p>`+
			`<p>Ação sugerida: %s</p>`+
			`<p style="color:#757575;font-size:12px">Correlação: %s</p></div>`,
		color, alert.Message, alert.DeviceID,
		alert.GeneratedAt.Format(time.RFC3339), alert.SuggestedAction, alert.ID.String())
}

// Close closes the sender and the underlying client
func (n *EmailQueueNotifier) Close() error {
	if n.sender != nil {
		if err := n.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if n.client != nil {
		return n.client.Close(context.Background())
	}
	return nil
}
