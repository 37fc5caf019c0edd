package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// Webhook event names.
const (
	EventActivityTriggered = "activity_triggered"
	EventWorkflowCompleted = "workflow_completed"
	EventTest              = "test"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string               `json:"event"`
	EventID   string               `json:"event_id,omitempty"`
	Energy    float64              `json:"energy,omitempty"`
	Threshold float64              `json:"threshold,omitempty"`
	RunLength int                  `json:"run_length,omitempty"`
	Maxima    []float64            `json:"maxima,omitempty"`
	Phone     string               `json:"phone,omitempty"`
	Result    types.WorkflowResult `json:"result,omitempty"`
	Message   string               `json:"message,omitempty"`
	Timestamp string               `json:"timestamp"`
}

// SendTriggerWebhook notifies the webhook that sustained activity was detected.
func SendTriggerWebhook(ctx context.Context, webhookURL string, ev *types.TriggerEvent, phone string) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventActivityTriggered,
		EventID:   ev.ID,
		Energy:    ev.Energy,
		Threshold: ev.Threshold,
		RunLength: ev.RunLength,
		Maxima:    []float64{ev.Max1, ev.Max2, ev.Max3},
		Phone:     phone,
		Timestamp: timestampUTC(),
	})
}

// SendResultWebhook reports the outcome of the notification workflow.
func SendResultWebhook(ctx context.Context, webhookURL, eventID string, result types.WorkflowResult) error {
	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventWorkflowCompleted,
		EventID:   eventID,
		Result:    result,
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Message:   "This is a test notification from " + AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: types.HTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
