package categorizer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/internal/httpx"
	"github.com/deepnoodle-ai/recon/retry"
)

// HTTPOptions configures an HTTP categorizer
type HTTPOptions struct {
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	BaseWait   time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

// HTTP asks a remote text generation service for suggestions. The service
// receives the rendered prompt plus the structured request and may answer
// either with {"text": "..."} or with the suggestion text as the body.
type HTTP struct {
	url        string
	token      string
	client     *http.Client
	maxRetries int
	baseWait   time.Duration
	logger     *slog.Logger
}

var _ Gateway = (*HTTP)(nil)

func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("categorizer url is required")
	}
	if opts.Client == nil {
		opts.Client = httpx.NewClient(opts.Timeout)
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if opts.BaseWait == 0 {
		opts.BaseWait = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTP{
		url:        opts.URL,
		token:      opts.Token,
		client:     opts.Client,
		maxRetries: opts.MaxRetries,
		baseWait:   opts.BaseWait,
		logger:     opts.Logger,
	}, nil
}

type httpRequest struct {
	Prompt string `json:"prompt"`
	Request
}

type httpResponse struct {
	Text string `json:"text"`
}

func (c *HTTP) Suggest(ctx context.Context, req Request) (string, error) {
	headers := map[string]string{"Accept": "application/json"}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	var resp *httpx.Response
	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		var err error
		resp, err = httpx.Do(ctx, c.client, httpx.Request{
			URL:         c.url,
			Headers:     headers,
			JSONPayload: httpRequest{Prompt: Prompt(req), Request: req},
		})
		if err != nil {
			c.logger.Warn("categorizer request failed", "attempt", attempt, "error", err)
		}
		return err
	}, retry.WithMaxRetries(c.maxRetries), retry.WithBaseWait(c.baseWait))
	if err != nil {
		return "", fmt.Errorf("%w: categorizer: %w", recon.ErrGatewayUnavailable, err)
	}

	var wrapped httpResponse
	if json.Unmarshal(resp.Body, &wrapped) == nil && wrapped.Text != "" {
		return wrapped.Text, nil
	}
	return string(resp.Body), nil
}
