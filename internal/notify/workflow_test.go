package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	ids       []string
	lookupErr error
	sendErr   error
	addErr    error

	lookups []string
	sends   [][]string
	added   []string

	// block, when set, holds FindContactIDs until closed.
	block   chan struct{}
	active  int
	overlap bool
}

func (f *fakeProvider) FindContactIDs(_ context.Context, phone string) ([]string, error) {
	f.mu.Lock()
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	f.lookups = append(f.lookups, phone)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active--
	return f.ids, f.lookupErr
}

func (f *fakeProvider) SendMessage(_ context.Context, ids []string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, ids)
	return f.sendErr
}

func (f *fakeProvider) AddContact(_ context.Context, phone, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, phone)
	return f.addErr
}

func (f *fakeProvider) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func TestWorkflowNoContactFound(t *testing.T) {
	p := &fakeProvider{}
	w := NewWorkflow(p, time.Second)
	defer w.Close()

	result := w.Notify(context.Background(), "+31612345678", "loud")
	assert.Equal(t, types.ResultNoContactFound, result)
	assert.Zero(t, p.sendCount(), "messenger must not be invoked")

	s := w.Status()
	assert.Equal(t, StatusContactNotFound, s.Text)
	assert.True(t, s.AddContactRequired)
	assert.False(t, s.Pending)
	assert.Equal(t, types.ResultNoContactFound, s.LastResult)
}

func TestWorkflowDeliveredAndStatusClears(t *testing.T) {
	p := &fakeProvider{ids: []string{"id1", "id2"}}
	w := NewWorkflow(p, 30*time.Millisecond)
	defer w.Close()

	result := w.Notify(context.Background(), "+31612345678", "loud")
	assert.Equal(t, types.ResultDelivered, result)
	require.Len(t, p.sends, 1)
	assert.Equal(t, []string{"id1", "id2"}, p.sends[0])
	assert.Equal(t, StatusNotified, w.Status().Text)

	assert.Eventually(t, func() bool { return w.Status().Text == "" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, types.ResultDelivered, w.Status().LastResult)
}

func TestWorkflowLookupFailed(t *testing.T) {
	p := &fakeProvider{lookupErr: errors.New("connection refused")}
	w := NewWorkflow(p, time.Second)

	assert.Equal(t, types.ResultLookupFailed, w.Notify(context.Background(), "+31", "loud"))
	assert.Zero(t, p.sendCount())
	assert.Contains(t, w.Status().LastError, "connection refused")
}

func TestWorkflowDeliveryFailed(t *testing.T) {
	p := &fakeProvider{ids: []string{"id1"}, sendErr: errors.New("rejected")}
	w := NewWorkflow(p, time.Second)

	assert.Equal(t, types.ResultDeliveryFailed, w.Notify(context.Background(), "+31", "loud"))
	s := w.Status()
	assert.Equal(t, StatusDeliveryFailed, s.Text)
	assert.Equal(t, "rejected", s.LastError)
}

func TestWorkflowRejectsEmptyInput(t *testing.T) {
	p := &fakeProvider{ids: []string{"id1"}}
	w := NewWorkflow(p, time.Second)

	assert.Equal(t, types.ResultLookupFailed, w.Notify(context.Background(), "  ", "loud"))
	assert.Equal(t, types.ResultDeliveryFailed, w.Notify(context.Background(), "+31", ""))
	assert.Empty(t, p.lookups)
}

func TestWorkflowSerializesConcurrentRuns(t *testing.T) {
	p := &fakeProvider{ids: []string{"id1"}, block: make(chan struct{})}
	w := NewWorkflow(p, time.Second)
	defer w.Close()

	results := make(chan types.WorkflowResult, 2)
	for range 2 {
		go func() { results <- w.Notify(context.Background(), "+31", "loud") }()
	}

	assert.Eventually(t, w.Pending, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	p.mu.Lock()
	assert.Len(t, p.lookups, 1, "second run must wait for the first")
	p.mu.Unlock()

	close(p.block)
	for range 2 {
		assert.Equal(t, types.ResultDelivered, <-results)
	}
	assert.False(t, p.overlap)
	assert.Equal(t, 2, p.sendCount())
	assert.False(t, w.Pending())
}

func TestWorkflowNewStatusCancelsClear(t *testing.T) {
	p := &fakeProvider{ids: []string{"id1"}}
	w := NewWorkflow(p, 30*time.Millisecond)
	defer w.Close()

	w.Notify(context.Background(), "+31", "loud")
	require.NoError(t, w.AddContact(context.Background(), "+32", "Desk"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StatusContactAdded, w.Status().Text)
}

func TestWorkflowAddContact(t *testing.T) {
	p := &fakeProvider{}
	w := NewWorkflow(p, time.Second)

	w.Notify(context.Background(), "+31612345678", "loud")
	require.True(t, w.Status().AddContactRequired)

	require.NoError(t, w.AddContact(context.Background(), "+31612345678", "Studio"))
	s := w.Status()
	assert.False(t, s.AddContactRequired)
	assert.Equal(t, StatusContactAdded, s.Text)
	assert.Equal(t, []string{"+31612345678"}, p.added)

	p.addErr = errors.New("duplicate")
	require.Error(t, w.AddContact(context.Background(), "+31612345678", "Studio"))
	assert.Equal(t, StatusAddFailed, w.Status().Text)

	require.ErrorIs(t, w.AddContact(context.Background(), "", "x"), ErrEmptyPhone)
}
