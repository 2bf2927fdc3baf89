package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	kerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 120 * time.Second

	statusReady      = "ready"
	statusProcessing = "processing"
)

// Client talks to an anti-captcha style solving service: a createTask call
// returns a task id, then getTaskResult is polled until the task is ready.
type Client struct {
	baseURL      string
	clientKey    string
	httpClient   *http.Client
	pollInterval time.Duration
	timeout      time.Duration
	logger       zerolog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithPollInterval(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.pollInterval = d
		}
	}
}

// WithTimeout bounds the whole solve, from task creation to the final poll.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func NewClient(baseURL, clientKey string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientKey:    clientKey,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		logger:       log.Logger,
		sleep:        sleepCtx,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

type task struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL,omitempty"`
	WebsiteKey string `json:"websiteKey,omitempty"`
	Body       string `json:"body,omitempty"`
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      task   `json:"task"`
}

type getTaskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type apiResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Text               string `json:"text"`
	} `json:"solution"`
}

func (r *apiResponse) err() error {
	if r.ErrorID == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s %s", kerrors.ErrChallengeSolver, r.ErrorCode, r.ErrorDescription)
}

// Solve creates a task and polls for its answer. It returns ErrChallengeTimeout
// when the answer does not arrive within the configured timeout and
// ErrChallengeSolver when the service reports an error.
func (c *Client) Solve(ctx context.Context, challenge Challenge) (string, error) {
	t, err := toTask(challenge)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var created apiResponse
	if err := c.call(ctx, "/createTask", createTaskRequest{ClientKey: c.clientKey, Task: t}, &created); err != nil {
		return "", c.classify(ctx, "[Client.Solve] createTask", err)
	}
	if err := created.err(); err != nil {
		return "", fmt.Errorf("[Client.Solve] createTask: %w", err)
	}

	logger := c.logger.With().Int64("task_id", created.TaskID).Str("kind", string(challenge.Kind)).Logger()
	logger.Debug().Msg("challenge task created")

	for attempt := 1; ; attempt++ {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return "", c.classify(ctx, "[Client.Solve] waiting", err)
		}

		var result apiResponse
		if err := c.call(ctx, "/getTaskResult", getTaskResultRequest{ClientKey: c.clientKey, TaskID: created.TaskID}, &result); err != nil {
			return "", c.classify(ctx, "[Client.Solve] getTaskResult", err)
		}
		if err := result.err(); err != nil {
			return "", fmt.Errorf("[Client.Solve] getTaskResult: %w", err)
		}

		switch result.Status {
		case statusReady:
			answer := result.Solution.GRecaptchaResponse
			if answer == "" {
				answer = result.Solution.Text
			}
			if answer == "" {
				return "", fmt.Errorf("[Client.Solve] %w: ready without a solution", kerrors.ErrChallengeSolver)
			}
			logger.Debug().Int("polls", attempt).Msg("challenge solved")
			return answer, nil
		case statusProcessing:
			continue
		default:
			return "", fmt.Errorf("[Client.Solve] %w: unexpected status %q", kerrors.ErrChallengeSolver, result.Status)
		}
	}
}

// classify turns the solve deadline into ErrChallengeTimeout. Cancellation by the
// caller is passed through untouched.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", op, kerrors.ErrChallengeTimeout, c.timeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) call(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", kerrors.ErrChallengeSolver, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", kerrors.ErrChallengeSolver, path, err)
	}
	return nil
}

func toTask(ch Challenge) (task, error) {
	switch ch.Kind {
	case KindRecaptchaV2:
		if ch.SiteKey == "" || ch.PageURL == "" {
			return task{}, fmt.Errorf("[captcha] %w: recaptcha challenge needs page url and site key", kerrors.ErrChallengeSolver)
		}
		return task{Type: "RecaptchaV2TaskProxyless", WebsiteURL: ch.PageURL, WebsiteKey: ch.SiteKey}, nil
	case KindImage:
		if ch.Image == "" {
			return task{}, fmt.Errorf("[captcha] %w: image challenge has no image", kerrors.ErrChallengeSolver)
		}
		return task{Type: "ImageToTextTask", Body: ch.Image}, nil
	}
	return task{}, fmt.Errorf("[captcha] %w: unsupported challenge kind %q", kerrors.ErrChallengeSolver, ch.Kind)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Solver = (*Client)(nil)
