package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
	"github.com/bryanwahyu/profile-insight/internal/logger"
)

const DefaultBaseURL = "https://qstash.upstash.io"

type Config struct {
	BaseURL    string
	Token      string
	WebhookURL string
	Delay      time.Duration
	// RetryMax bounds transport retries on 5xx and connection errors.
	RetryMax int
}

// Client publishes delayed jobs to QStash. Every message carries the request
// id as deduplication id, so a transport retry never schedules twice.
type Client struct {
	http       *retryablehttp.Client
	baseURL    string
	token      string
	webhookURL string
	delay      time.Duration
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.Mark(errors.New("QSTASH_TOKEN is required"), domain.ErrQueue)
	}
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.Mark(errors.New("QSTASH_WEBHOOK_URL is required"), domain.ErrQueue)
	}
	if _, err := url.ParseRequestURI(cfg.WebhookURL); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "QSTASH_WEBHOOK_URL"), domain.ErrQueue)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = leveledLogger{log: orNop(log).With(zap.String(logger.FieldComponent, "qstash"))}

	return &Client{
		http:       rc,
		baseURL:    base,
		token:      cfg.Token,
		webhookURL: cfg.WebhookURL,
		delay:      cfg.Delay,
	}, nil
}

// Enqueue publishes {"requestId": id} for delivery to the webhook after the
// configured delay.
func (c *Client) Enqueue(ctx context.Context, id domain.ID) error {
	log := logger.FromContext(ctx)
	body, err := json.Marshal(map[string]string{"requestId": string(id)})
	if err != nil {
		return errors.Wrap(err, "encode qstash body")
	}

	endpoint := c.baseURL + "/v2/publish/" + c.webhookURL
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "build qstash request"), domain.ErrQueue)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Deduplication-Id", string(id))
	if d := DelayHeader(c.delay); d != "" {
		req.Header.Set("Upstash-Delay", d)
	}

	log.Debug("Enqueuing analysis to QStash",
		zap.String("url", c.webhookURL),
		zap.String("delay", DelayHeader(c.delay)),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error("Failed to enqueue analysis to QStash", zap.Error(err))
		return errors.Mark(errors.Wrap(err, "qstash publish"), domain.ErrQueue)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := errors.Newf("qstash publish failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		log.Error("Failed to enqueue analysis to QStash", zap.Error(err))
		return errors.Mark(err, domain.ErrQueue)
	}

	var out publishResponse
	_ = json.Unmarshal(raw, &out)
	log.Debug("Analysis enqueued to QStash successfully", zap.String("message_id", out.MessageID))
	return nil
}

// DelayHeader renders d in whole seconds, e.g. "60s"; zero means no delay.
func DelayHeader(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	secs := int64(d / time.Second)
	if secs == 0 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *zap.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Sugar().Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Sugar().Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Sugar().Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Sugar().Debugw(msg, kv...) }
