package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oszuidwest/zwfm-loudwatch/internal/contacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeSMS struct {
	mu     sync.Mutex
	sent   []twilioApi.CreateMessageParams
	failTo string
}

func (f *fakeSMS) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.To != nil && *params.To == f.failTo {
		return nil, errors.New("invalid number")
	}
	f.sent = append(f.sent, *params)
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func newTwilioFixture(t *testing.T) (*TwilioProvider, *fakeSMS, *contacts.FileStore) {
	t.Helper()
	dir := contacts.NewFileStore(filepath.Join(t.TempDir(), "contacts.json"))
	sms := &fakeSMS{}
	return newTwilioProvider("+3110000000", sms, dir), sms, dir
}

func TestNewTwilioProviderRequiresCredentials(t *testing.T) {
	_, err := NewTwilioProvider(TwilioConfig{AccountSID: "AC1"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestTwilioProviderRoundTrip(t *testing.T) {
	p, sms, _ := newTwilioFixture(t)
	ctx := context.Background()

	ids, err := p.FindContactIDs(ctx, "+316")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, p.AddContact(ctx, "+31612345678", "Studio"))
	require.NoError(t, p.AddContact(ctx, "+31687654321", "Editor"))

	ids, err = p.FindContactIDs(ctx, "+316")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, p.SendMessage(ctx, ids, "loud"))
	require.Len(t, sms.sent, 2)
	for _, m := range sms.sent {
		assert.Equal(t, "+3110000000", *m.From)
		assert.Equal(t, "loud", *m.Body)
	}
}

func TestTwilioProviderDuplicateContact(t *testing.T) {
	p, _, _ := newTwilioFixture(t)
	ctx := context.Background()
	require.NoError(t, p.AddContact(ctx, "+31612345678", "Studio"))
	err := p.AddContact(ctx, "+31612345678", "Studio")
	require.ErrorIs(t, err, ErrContactExists)
	require.ErrorIs(t, err, contacts.ErrExists)
}

func TestTwilioProviderSendFailures(t *testing.T) {
	p, sms, dir := newTwilioFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, p.SendMessage(ctx, nil, "x"), ErrNoRecipients)
	require.ErrorIs(t, p.SendMessage(ctx, []string{"missing"}, "x"), ErrUnknownContact)

	a, err := dir.Add(ctx, "+31611111111", "")
	require.NoError(t, err)
	b, err := dir.Add(ctx, "+31622222222", "")
	require.NoError(t, err)
	sms.failTo = "+31611111111"

	err = p.SendMessage(ctx, []string{a.ID, b.ID}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")
	assert.Len(t, sms.sent, 1, "remaining recipients are still attempted")
}
