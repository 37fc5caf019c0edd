package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/oszuidwest/zwfm-loudwatch/internal/util"
	"golang.org/x/mod/semver"
)

const (
	releasesURL          = "https://api.github.com/repos/oszuidwest/zwfm-loudwatch/releases/latest"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30000 * time.Millisecond // Keeps the first check off the startup path
	versionCheckTimeout  = 30000 * time.Millisecond
	versionMaxRetries    = 3
	versionRetryDelay    = 1 * time.Minute
)

// errRetryable marks a release lookup that should be retried.
var errRetryable = errors.New("release lookup failed")

// VersionChecker polls GitHub for new releases. It is safe for concurrent use.
type VersionChecker struct {
	url    string
	client *http.Client

	mu     sync.RWMutex
	latest string
	etag   string // For conditional requests (304 Not Modified)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker returns a VersionChecker polling in the background until
// Stop is called.
func NewVersionChecker() *VersionChecker {
	ctx, cancel := context.WithCancel(context.Background())
	vc := &VersionChecker{
		url:    releasesURL,
		client: &http.Client{Timeout: versionCheckTimeout},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go vc.run(ctx)
	return vc
}

// Stop ends polling and waits for the background goroutine.
func (vc *VersionChecker) Stop() {
	vc.cancel()
	<-vc.done
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer close(vc.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	wait := versionCheckDelay
	for {
		select {
		case <-time.After(wait):
			vc.checkWithRetry(ctx)
		case <-ctx.Done():
			return
		}
		wait = versionCheckInterval
	}
}

func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	for attempt := range versionMaxRetries {
		err := vc.check(ctx)
		if !errors.Is(err, errRetryable) {
			if err != nil {
				slog.Debug("version check failed", "error", err)
			}
			return
		}
		if attempt == versionMaxRetries-1 {
			slog.Debug("version check gave up", "error", err)
			return
		}
		select {
		case <-time.After(versionRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check fetches the latest release. A nil error also covers "no releases"
// and "not modified"; errRetryable marks rate limits and server errors.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.url, http.NoBody)
	if err != nil {
		return util.WrapError("create request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zwfm-loudwatch/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Join(errRetryable, err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return errRetryable
	default:
		return nil
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return errors.Join(errRetryable, err)
	}
	if release.Draft || release.Prerelease {
		return nil
	}
	if release.TagName == "" {
		return errRetryable
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	vc.mu.Unlock()
	return nil
}

// Info returns the running and latest known version.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}
