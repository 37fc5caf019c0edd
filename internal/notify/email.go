package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// triggerEmail builds the alert subject, body and JSON attachment.
func triggerEmail(ev *types.TriggerEvent, phone string) (subject, body string, attachment *EmailAttachment) {
	subject = "[ALERT] Loud activity detected - " + AppName
	body = fmt.Sprintf(
		"Sustained loud activity was detected.\n\n"+
			"Energy:    %.4f\n"+
			"Threshold: %.4f\n"+
			"Run:       %d ticks\n"+
			"Maxima:    %.4f / %.4f / %.4f\n"+
			"Contact:   %s\n"+
			"Time:      %s\n"+
			"Event ID:  %s",
		ev.Energy, ev.Threshold, ev.RunLength, ev.Max1, ev.Max2, ev.Max3,
		phone, util.HumanTime(ev.At), ev.ID,
	)

	if data, err := json.MarshalIndent(ev, "", "  "); err == nil {
		attachment = &EmailAttachment{
			Filename:    "trigger-" + ev.ID + ".json",
			ContentType: "application/json",
			Data:        data,
		}
	}
	return subject, body, attachment
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + AppName
	body := fmt.Sprintf(
		"Test email from the loudness monitor.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		util.HumanTime(time.Now()),
	)

	mail := &Mail{To: ParseRecipients(cfg.Recipients), Subject: subject, Body: body}
	if err := client.Send(ctx, mail); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
