// Package notify sends the "wake up and re-run" signal to the downstream
// consumer. The webhook is workflow-dispatch shaped: POST with a target ref
// and a bearer credential, 204 meaning accepted.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JE668/get-m3u/internal/httpclient"
)

// ErrNotConfigured reports a missing webhook URL or credential; callers log
// this distinctly from a network failure so an operator can tell "not
// configured" apart from "broken".
var ErrNotConfigured = errors.New("notifier not configured")

// Notifier dispatches the downstream trigger.
type Notifier struct {
	URL     string
	Token   string
	Ref     string
	Client  *http.Client
	Timeout time.Duration
	Log     *zap.SugaredLogger
}

// Dispatch sends the trigger once. Failures are for logging only — the caller
// never retries and gate state was already persisted.
func (n *Notifier) Dispatch(ctx context.Context) error {
	if n.URL == "" || n.Token == "" {
		return ErrNotConfigured
	}
	log := n.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("notify")
	client := n.Client
	if client == nil {
		client = httpclient.Default()
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ref := n.Ref
	if ref == "" {
		ref = "main"
	}

	body, err := json.Marshal(map[string]string{"ref": ref})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+n.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("dispatch: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	log.Infof("downstream trigger accepted (ref=%s)", ref)
	return nil
}
