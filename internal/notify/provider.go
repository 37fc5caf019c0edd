package notify

import (
	"context"
	"errors"
)

// Provider errors.
var (
	ErrNoRecipients   = errors.New("no recipients")
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrEmptyPhone     = errors.New("phone number is empty")
	ErrNotConfigured  = errors.New("provider not configured")
	ErrContactExists  = errors.New("contact already exists")
	ErrUnknownContact = errors.New("unknown contact id")
)

// ContactFinder resolves a phone number to provider contact identifiers.
// An empty result without error means nobody matched.
type ContactFinder interface {
	FindContactIDs(ctx context.Context, phone string) ([]string, error)
}

// Messenger delivers text to previously resolved contacts.
type Messenger interface {
	SendMessage(ctx context.Context, ids []string, text string) error
}

// ContactRegistrar adds a contact to the provider's address book.
type ContactRegistrar interface {
	AddContact(ctx context.Context, phone, name string) error
}

// Provider is a complete contact and messaging backend.
type Provider interface {
	ContactFinder
	Messenger
	ContactRegistrar
}
