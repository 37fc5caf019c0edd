package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// Status texts shown to the operator while the workflow runs.
const (
	StatusFindingContact  = "Finding the contact..."
	StatusSendingMessage  = "Sending the message..."
	StatusContactNotFound = "Can't find the contact, please add it to your contact list"
	StatusNotified        = "Your contact has been notified!"
	StatusLookupFailed    = "Contact lookup failed"
	StatusDeliveryFailed  = "Message delivery failed"
	StatusAddingContact   = "Adding Contact..."
	StatusContactAdded    = "Contact added"
	StatusAddFailed       = "Adding the contact failed"
)

// Workflow resolves a contact and delivers a message once per trigger.
// Runs are serialized: a Notify or AddContact issued while another is in
// progress waits for it to finish.
type Workflow struct {
	provider   Provider
	clearDelay time.Duration

	// run serializes provider calls.
	run sync.Mutex

	mu         sync.Mutex
	status     types.WorkflowStatus
	pending    int
	generation uint64
	clearTimer *time.Timer
}

// NewWorkflow returns a Workflow using provider. The delivered status is
// cleared after clearDelay.
func NewWorkflow(provider Provider, clearDelay time.Duration) *Workflow {
	if clearDelay <= 0 {
		clearDelay = types.DefaultStatusClearDelay
	}
	return &Workflow{provider: provider, clearDelay: clearDelay}
}

// Notify looks up phone and sends text to every matching contact. A lookup
// that matches nobody yields ResultNoContactFound and sends nothing.
func (w *Workflow) Notify(ctx context.Context, phone, text string) types.WorkflowResult {
	w.begin()
	defer w.end()

	w.run.Lock()
	defer w.run.Unlock()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return w.finish(types.ResultLookupFailed, StatusLookupFailed, ErrEmptyPhone)
	}
	if strings.TrimSpace(text) == "" {
		return w.finish(types.ResultDeliveryFailed, StatusDeliveryFailed, ErrEmptyMessage)
	}

	w.setText(StatusFindingContact)
	ids, err := w.provider.FindContactIDs(ctx, phone)
	if err != nil {
		return w.finish(types.ResultLookupFailed, StatusLookupFailed, err)
	}
	if len(ids) == 0 {
		slog.Info("no contact matches phone", "phone", phone)
		w.mu.Lock()
		w.status.AddContactRequired = true
		w.mu.Unlock()
		return w.finish(types.ResultNoContactFound, StatusContactNotFound, nil)
	}

	w.setText(StatusSendingMessage)
	if err := w.provider.SendMessage(ctx, ids, text); err != nil {
		return w.finish(types.ResultDeliveryFailed, StatusDeliveryFailed, err)
	}

	slog.Info("contact notified", "phone", phone, "recipients", len(ids))
	result := w.finish(types.ResultDelivered, StatusNotified, nil)
	w.scheduleClear()
	return result
}

// AddContact registers a contact with the provider. It does not depend on
// detector state.
func (w *Workflow) AddContact(ctx context.Context, phone, name string) error {
	w.begin()
	defer w.end()

	w.run.Lock()
	defer w.run.Unlock()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		w.setText(StatusAddFailed)
		return ErrEmptyPhone
	}

	w.setText(StatusAddingContact)
	if err := w.provider.AddContact(ctx, phone, strings.TrimSpace(name)); err != nil {
		slog.Error("failed to add contact", "phone", phone, "error", err)
		w.setText(StatusAddFailed)
		return err
	}

	slog.Info("contact added", "phone", phone)
	w.mu.Lock()
	w.status.AddContactRequired = false
	w.mu.Unlock()
	w.setText(StatusContactAdded)
	return nil
}

// Status returns the current workflow status.
func (w *Workflow) Status() types.WorkflowStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.Pending = w.pending > 0
	return s
}

// Pending reports whether a run is in progress or queued.
func (w *Workflow) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending > 0
}

// Close cancels a scheduled status clear.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.clearTimer != nil {
		w.clearTimer.Stop()
		w.clearTimer = nil
	}
}

func (w *Workflow) begin() {
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()
}

func (w *Workflow) end() {
	w.mu.Lock()
	w.pending--
	w.mu.Unlock()
}

// setText replaces the status line and cancels any pending clear.
func (w *Workflow) setText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	if w.clearTimer != nil {
		w.clearTimer.Stop()
		w.clearTimer = nil
	}
	w.status.Text = text
}

func (w *Workflow) finish(result types.WorkflowResult, text string, err error) types.WorkflowResult {
	if err != nil {
		slog.Error("notification workflow failed", "result", result, "error", err)
	}
	w.setText(text)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.LastResult = result
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	return result
}

// scheduleClear blanks the status line after clearDelay unless it changed
// in the meantime.
func (w *Workflow) scheduleClear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	gen := w.generation
	w.clearTimer = time.AfterFunc(w.clearDelay, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.generation == gen {
			w.status.Text = ""
			w.clearTimer = nil
		}
	})
}
