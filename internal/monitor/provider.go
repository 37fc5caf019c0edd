package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-loudwatch/internal/config"
	"github.com/oszuidwest/zwfm-loudwatch/internal/contacts"
	"github.com/oszuidwest/zwfm-loudwatch/internal/notify"
	"github.com/oszuidwest/zwfm-loudwatch/internal/sendhub"
)

// newProvider builds the contact and messaging backend selected in snap.
// Missing credentials yield a provider that fails every call with
// notify.ErrNotConfigured so the rest of the monitor keeps working.
//
//nolint:gocritic // hugeParam: called once at startup
func newProvider(snap config.Snapshot) (notify.Provider, error) {
	var (
		p   notify.Provider
		err error
	)
	switch snap.Provider {
	case config.ProviderTwilio:
		p, err = notify.NewTwilioProvider(notify.TwilioConfig{
			AccountSID: snap.TwilioAccountSID,
			AuthToken:  snap.TwilioAuthToken,
			FromNumber: snap.TwilioFromNumber,
		}, contacts.NewFileStore(snap.TwilioContactsPath))
	case config.ProviderSendHub:
		p, err = sendhub.New(sendhub.Config{
			BaseURL:  snap.SendHubBaseURL,
			Username: snap.SendHubUsername,
			APIKey:   snap.SendHubAPIKey,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", snap.Provider)
	}

	if errors.Is(err, notify.ErrNotConfigured) || errors.Is(err, sendhub.ErrNotConfigured) {
		slog.Warn("messaging provider not configured, notifications will fail", "provider", snap.Provider)
		return unconfiguredProvider{}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// unconfiguredProvider stands in for a provider without credentials.
type unconfiguredProvider struct{}

func (unconfiguredProvider) FindContactIDs(context.Context, string) ([]string, error) {
	return nil, notify.ErrNotConfigured
}

func (unconfiguredProvider) SendMessage(context.Context, []string, string) error {
	return notify.ErrNotConfigured
}

func (unconfiguredProvider) AddContact(context.Context, string, string) error {
	return notify.ErrNotConfigured
}
