// Package notify runs the contact notification workflow and fans trigger
// alerts out to the operator's channels (webhook, e-mail, Zabbix, log file).
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

// TriggerNotifier sends operator alerts for trigger events.
type TriggerNotifier struct {
	cfg *config.Config

	// mu protects graphClient.
	mu sync.Mutex

	// Cached Graph client for email notifications
	graphClient *GraphClient
}

// NewTriggerNotifier returns a TriggerNotifier configured with the given config.
func NewTriggerNotifier(cfg *config.Config) *TriggerNotifier {
	return &TriggerNotifier{cfg: cfg}
}

// InvalidateGraphClient clears the cached Graph client.
// Call this when Graph configuration changes.
func (n *TriggerNotifier) InvalidateGraphClient() {
	n.mu.Lock()
	n.graphClient = nil
	n.mu.Unlock()
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *TriggerNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// HandleTrigger alerts every configured channel in parallel and returns
// when all of them finished. Failures are logged, not returned.
func (n *TriggerNotifier) HandleTrigger(ctx context.Context, ev types.TriggerEvent, phone string) {
	cfg := n.cfg.Snapshot()

	n.fanOut(
		send(cfg.HasWebhook(), "Trigger webhook", func() error {
			return SendTriggerWebhook(ctx, cfg.WebhookURL, &ev, phone)
		}),
		send(cfg.HasGraph(), "Trigger email", func() error {
			return n.sendTriggerEmail(ctx, cfg.GraphConfig(), &ev, phone)
		}),
		send(cfg.HasZabbix(), "Trigger zabbix", func() error {
			return SendTriggerZabbix(ctx, cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey, &ev)
		}),
		send(cfg.HasLogPath(), "Trigger log", func() error {
			return LogTrigger(cfg.LogPath, &ev)
		}),
	)
}

// HandleResult reports the workflow outcome to the webhook and log file.
func (n *TriggerNotifier) HandleResult(ctx context.Context, eventID string, result types.WorkflowResult) {
	cfg := n.cfg.Snapshot()

	n.fanOut(
		send(cfg.HasWebhook(), "Result webhook", func() error {
			return SendResultWebhook(ctx, cfg.WebhookURL, eventID, result)
		}),
		send(cfg.HasLogPath(), "Result log", func() error {
			return LogResult(cfg.LogPath, eventID, result)
		}),
	)
}

type channelSend struct {
	enabled bool
	name    string
	fn      func() error
}

func send(enabled bool, name string, fn func() error) channelSend {
	return channelSend{enabled: enabled, name: name, fn: fn}
}

func (n *TriggerNotifier) fanOut(sends ...channelSend) {
	var wg sync.WaitGroup
	for _, s := range sends {
		if !s.enabled {
			continue
		}
		wg.Go(func() {
			util.LogNotifyResult(s.fn, s.name)
		})
	}
	wg.Wait()
}

// sendTriggerEmail sends the alert e-mail using the cached Graph client.
func (n *TriggerNotifier) sendTriggerEmail(ctx context.Context, cfg *GraphConfig, ev *types.TriggerEvent, phone string) error {
	if !IsConfigured(cfg) {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return errors.New("no valid recipients")
	}

	subject, body, attachment := triggerEmail(ev, phone)
	mail := &Mail{To: recipients, Subject: subject, Body: body, Attachment: attachment}
	if err := client.Send(ctx, mail); err != nil {
		return util.WrapError("send email via Graph", err)
	}

	return nil
}
