package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-loudwatch/internal/contacts"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioConfig holds the credentials for the Twilio messenger.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSAPI is the subset of the Twilio REST API used to send messages.
type SMSAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// ContactDirectory stores the contacts messaged through Twilio, which has
// no address book of its own.
type ContactDirectory interface {
	Find(ctx context.Context, phone string) ([]contacts.Contact, error)
	Get(ctx context.Context, ids []string) ([]contacts.Contact, []string, error)
	Add(ctx context.Context, phone, name string) (contacts.Contact, error)
}

// TwilioProvider resolves contacts from a local directory and sends SMS
// through Twilio.
type TwilioProvider struct {
	from      string
	api       SMSAPI
	directory ContactDirectory
}

// NewTwilioProvider creates a provider with a Twilio REST client.
func NewTwilioProvider(cfg TwilioConfig, directory ContactDirectory) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("%w: twilio account SID, auth token and from number are required", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioProvider(cfg.FromNumber, client.Api, directory), nil
}

func newTwilioProvider(from string, api SMSAPI, directory ContactDirectory) *TwilioProvider {
	return &TwilioProvider{from: from, api: api, directory: directory}
}

// FindContactIDs returns the ids of directory contacts whose number
// contains phone.
func (p *TwilioProvider) FindContactIDs(ctx context.Context, phone string) ([]string, error) {
	matches, err := p.directory.Find(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("contact lookup: %w", err)
	}
	ids := make([]string, 0, len(matches))
	for _, c := range matches {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// SendMessage sends text as one SMS per contact. Every recipient is
// attempted; failures are joined.
func (p *TwilioProvider) SendMessage(ctx context.Context, ids []string, text string) error {
	if len(ids) == 0 {
		return ErrNoRecipients
	}
	if text == "" {
		return ErrEmptyMessage
	}

	found, missing, err := p.directory.Get(ctx, ids)
	if err != nil {
		return fmt.Errorf("contact lookup: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownContact, missing)
	}

	var errs []error
	for _, c := range found {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(c.Number)
		params.SetFrom(p.from)
		params.SetBody(text)

		resp, err := p.api.CreateMessage(params)
		if err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", c.Number, err))
			continue
		}
		sid := ""
		if resp != nil && resp.Sid != nil {
			sid = *resp.Sid
		}
		slog.Info("sms sent", "to", c.Number, "sid", sid)
	}
	return errors.Join(errs...)
}

// AddContact stores a contact in the directory.
func (p *TwilioProvider) AddContact(ctx context.Context, phone, name string) error {
	if _, err := p.directory.Add(ctx, phone, name); err != nil {
		if errors.Is(err, contacts.ErrExists) {
			return fmt.Errorf("%w: %w", ErrContactExists, err)
		}
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}
