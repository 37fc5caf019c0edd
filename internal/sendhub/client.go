// Package sendhub is a client for the SendHub REST API: contact lookup,
// contact creation and message delivery.
package sendhub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
)

const (
	contactsPath = "/v1/contacts/"
	messagesPath = "/v1/messages/"

	maxRetries       = 3
	initialRetryWait = 500 * time.Millisecond
	maxRetryWait     = 5 * time.Second

	// maxPages bounds contact list pagination.
	maxPages = 50
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// Sentinel errors for SendHub requests.
var (
	ErrNotConfigured = errors.New("sendhub credentials not configured")
	ErrAPI           = errors.New("sendhub API error")
	ErrNoRecipients  = errors.New("no recipients")
)

// Config holds SendHub API credentials.
type Config struct {
	BaseURL  string
	Username string
	APIKey   string
}

// Client talks to SendHub. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	username   string
	apiKey     string
	httpClient *http.Client
	retryWait  time.Duration
}

// Contact is a SendHub address book entry.
type Contact struct {
	ID     string `json:"id_str"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

type contactList struct {
	Meta struct {
		Next string `json:"next"`
	} `json:"meta"`
	Objects []Contact `json:"objects"`
}

type messageRequest struct {
	Contacts []string `json:"contacts"`
	Text     string   `json:"text"`
}

type contactRequest struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// New creates a client for cfg.
func New(cfg Config) (*Client, error) {
	if !util.IsConfigured(cfg.Username, cfg.APIKey) {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid sendhub base URL %q", cfg.BaseURL)
	}
	return &Client{
		baseURL:    base,
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: types.HTTPTimeout},
		retryWait:  initialRetryWait,
	}, nil
}

// FindContactIDs returns the ids of all contacts whose number contains phone.
func (c *Client) FindContactIDs(ctx context.Context, phone string) ([]string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, errors.New("phone number is empty")
	}

	var ids []string
	next := c.endpoint(contactsPath)
	for page := 0; next != "" && page < maxPages; page++ {
		var list contactList
		if err := c.do(ctx, http.MethodGet, next, nil, &list); err != nil {
			return nil, util.WrapError("list contacts", err)
		}
		for _, contact := range list.Objects {
			if strings.Contains(contact.Number, phone) {
				ids = append(ids, contact.ID)
			}
		}
		next = c.resolveNext(list.Meta.Next)
	}
	return ids, nil
}

// SendMessage sends text to the given contact ids in one request.
func (c *Client) SendMessage(ctx context.Context, ids []string, text string) error {
	if len(ids) == 0 {
		return ErrNoRecipients
	}
	body := messageRequest{Contacts: ids, Text: text}
	if err := c.do(ctx, http.MethodPost, c.endpoint(messagesPath), body, nil); err != nil {
		return util.WrapError("send message", err)
	}
	return nil
}

// AddContact creates a contact.
func (c *Client) AddContact(ctx context.Context, phone, name string) error {
	body := contactRequest{Name: name, Number: strings.TrimSpace(phone)}
	if err := c.do(ctx, http.MethodPost, c.endpoint(contactsPath), body, nil); err != nil {
		return util.WrapError("add contact", err)
	}
	return nil
}

// endpoint returns the authenticated URL for path.
func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("username", c.username)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// resolveNext turns a pagination link into an authenticated absolute URL.
func (c *Client) resolveNext(next string) string {
	if next == "" {
		return ""
	}
	ref, err := url.Parse(next)
	if err != nil {
		return ""
	}
	u := c.baseURL.ResolveReference(ref)
	q := u.Query()
	q.Set("username", c.username)
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// do sends a JSON request, retrying rate limits and transient server errors.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return util.WrapError("marshal request", err)
		}
	}

	backoff := util.NewBackoff(c.retryWait, maxRetryWait)
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
		}

		retry, err := c.attempt(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte, out any) (retry bool, err error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return false, util.WrapError("create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, context.Cause(ctx)
		}
		return true, util.WrapError("send request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "sendhub response body")()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, util.WrapError("decode response", err)
		}
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			timer := time.NewTimer(time.Duration(seconds) * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, context.Cause(ctx)
			case <-timer.C:
			}
		}
		return true, c.apiError(resp)
	case resp.StatusCode >= 500:
		return true, c.apiError(resp)
	default:
		return false, c.apiError(resp)
	}
}

func (c *Client) apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w %d: %s", ErrAPI, resp.StatusCode, msg)
}
