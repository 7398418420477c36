package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/deepnoodle-ai/recon"
	"github.com/deepnoodle-ai/recon/internal/httpx"
	"github.com/deepnoodle-ai/recon/retry"
)

// DeliveryHeader carries the message ID so receivers can drop duplicates.
const DeliveryHeader = "X-Recon-Delivery"

// WebhookOptions configures a webhook notifier
type WebhookOptions struct {
	URL        string
	Timeout    time.Duration
	RateLimit  float64 // messages per second, 0 for the default of 1
	Burst      int
	MaxRetries int
	BaseWait   time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

// Webhook posts review requests to an incoming-webhook URL (Slack style
// {"text": ...} plus the structured message).
type Webhook struct {
	url        string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseWait   time.Duration
	logger     *slog.Logger
}

var _ Gateway = (*Webhook)(nil)

func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if opts.Client == nil {
		opts.Client = httpx.NewClient(opts.Timeout)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if opts.BaseWait == 0 {
		opts.BaseWait = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Webhook{
		url:        opts.URL,
		client:     opts.Client,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		maxRetries: opts.MaxRetries,
		baseWait:   opts.BaseWait,
		logger:     opts.Logger,
	}, nil
}

type webhookPayload struct {
	Text    string   `json:"text"`
	Message *Message `json:"message"`
}

func (w *Webhook) Deliver(ctx context.Context, msg *Message) error {
	payload := webhookPayload{Text: msg.Text(), Message: msg}
	err := retry.Do(ctx, func() error {
		if err := w.limiter.Wait(ctx); err != nil {
			return retry.NewNonRecoverableError(err)
		}
		_, err := httpx.Do(ctx, w.client, httpx.Request{
			URL:         w.url,
			Headers:     map[string]string{DeliveryHeader: msg.ID},
			JSONPayload: payload,
		})
		if err != nil {
			w.logger.Warn("webhook delivery attempt failed", "delivery_id", msg.ID, "error", err)
		}
		return err
	}, retry.WithMaxRetries(w.maxRetries), retry.WithBaseWait(w.baseWait))
	if err != nil {
		return fmt.Errorf("%w: notifier: %w", recon.ErrGatewayUnavailable, err)
	}
	w.logger.Debug("webhook delivered", "delivery_id", msg.ID)
	return nil
}
