// Package agent talks to the external automation agent's webhook gateway.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/starford/snippets/internal/apperr"
	"github.com/starford/snippets/internal/telemetry"
)

// ErrNoToken is returned by Dispatch when no hooks token is configured.
var ErrNoToken = errors.New("no hooks token configured")

// Config configures the gateway client.
type Config struct {
	GatewayURL string
	HooksToken string
	Model      string
	Timeout    time.Duration
}

// Task is one unit of work handed to the agent.
type Task struct {
	Name    string
	Message string
	// WithModel sends the configured model alongside the task.
	WithModel bool
}

type hookRequest struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	Model    string `json:"model,omitempty"`
	WakeMode string `json:"wakeMode"`
	Deliver  bool   `json:"deliver"`
}

// Connectivity is the last observed state of the gateway.
type Connectivity struct {
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	LastTriggerOK *bool      `json:"lastTriggerOk,omitempty"`
}

// Client posts tasks to <gateway>/hooks/agent.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state Connectivity
}

// New builds a client. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Configured reports whether a hooks token is set.
func (c *Client) Configured() bool { return c.cfg.HooksToken != "" }

// Dispatch hands t to the agent. Any non-accepted response or transport
// error matches apperr.ErrDispatchFailed.
func (c *Client) Dispatch(ctx context.Context, t Task) error {
	if !c.Configured() {
		err := fmt.Errorf("%w: %w", apperr.ErrDispatchFailed, ErrNoToken)
		c.mark(false, err)
		return err
	}

	body := hookRequest{Name: t.Name, Message: t.Message, WakeMode: "now", Deliver: false}
	if t.WithModel {
		body.Model = c.cfg.Model
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("agent: encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL+"/hooks/agent", bytes.NewReader(payload))
	if err != nil {
		err = fmt.Errorf("%w: build request: %w", apperr.ErrDispatchFailed, err)
		c.mark(false, err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.HooksToken)

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %w", apperr.ErrDispatchFailed, err)
		c.mark(false, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.mark(true, nil)
		c.logger.Info("agent triggered", slog.String("task", t.Name), slog.Int("status", resp.StatusCode))
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	err = &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	c.mark(false, err)
	return err
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned %d", e.Code)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return apperr.ErrDispatchFailed }

// Snapshot returns a copy of the connectivity state.
func (c *Client) Snapshot() Connectivity {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.LastTriggerAt != nil {
		v := *s.LastTriggerAt
		s.LastTriggerAt = &v
	}
	if s.LastSuccessAt != nil {
		v := *s.LastSuccessAt
		s.LastSuccessAt = &v
	}
	if s.LastTriggerOK != nil {
		v := *s.LastTriggerOK
		s.LastTriggerOK = &v
	}
	return s
}

func (c *Client) mark(ok bool, err error) {
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastTriggerAt = &now
	c.state.LastTriggerOK = &ok
	if ok {
		telemetry.AgentDispatches.WithLabelValues(telemetry.OutcomeAccepted).Inc()
		c.state.LastSuccessAt = &now
		c.state.LastError = ""
		return
	}
	telemetry.AgentDispatches.WithLabelValues(telemetry.OutcomeFailed).Inc()
	if err != nil {
		c.state.LastError = err.Error()
	} else {
		c.state.LastError = "unknown trigger error"
	}
	c.logger.Warn("agent trigger failed", slog.String("error", c.state.LastError))
}
