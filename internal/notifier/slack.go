package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/amishk599/listingwatch/internal/model"
)

const (
	SlackChannelID = "slack"

	// SlackWebhookSetting is the per-job key overriding the default webhook.
	SlackWebhookSetting = "webhook_url"
	// SlackWebhookPrefix is what every incoming webhook URL starts with.
	SlackWebhookPrefix  = "https://hooks.slack.com/"
	slackMessageSpacing = 500 * time.Millisecond
)

// Ensure SlackChannel implements Channel.
var _ Channel = (*SlackChannel)(nil)

// SlackChannel sends listing alerts to Slack via Incoming Webhooks. The
// webhook comes from the job's webhook_url setting, falling back to the
// default given at construction.
type SlackChannel struct {
	defaultWebhookURL string
	httpClient        *http.Client
	logger            *slog.Logger
	spacing           time.Duration
}

// NewSlackChannel returns a channel that posts each listing to Slack.
func NewSlackChannel(defaultWebhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackChannel {
	return &SlackChannel{
		defaultWebhookURL: defaultWebhookURL,
		httpClient:        httpClient,
		logger:            logger,
		spacing:           slackMessageSpacing,
	}
}

func (s *SlackChannel) ID() string { return SlackChannelID }

// Send posts each listing as a separate Slack message using Block Kit.
// Returns an error only if ALL messages fail. Individual failures are logged.
func (s *SlackChannel) Send(ctx context.Context, p Payload) error {
	if len(p.Listings) == 0 {
		return nil
	}

	webhookURL := p.Settings(SlackChannelID)[SlackWebhookSetting]
	if webhookURL == "" {
		webhookURL = s.defaultWebhookURL
	}
	if webhookURL == "" {
		return fmt.Errorf("slack: no webhook_url configured for job %s", p.JobKey)
	}

	failures := 0
	for i, l := range p.Listings {
		if i > 0 {
			if err := sleepCtx(ctx, s.spacing); err != nil {
				return fmt.Errorf("slack: %w", err)
			}
		}

		if err := s.sendMessage(ctx, webhookURL, p.ServiceName, l); err != nil {
			s.logger.Error("slack notification failed", "job", p.JobKey, "title", l.Title, "error", err)
			failures++
		}
	}

	sent := len(p.Listings) - failures
	if failures == len(p.Listings) {
		return fmt.Errorf("all %d slack notifications failed", failures)
	}
	s.logger.Info("slack notifications complete", "job", p.JobKey, "sent", sent, "failed", failures)
	return nil
}

func (s *SlackChannel) sendMessage(ctx context.Context, webhookURL, service string, l model.Listing) error {
	body, err := json.Marshal(buildSlackPayload(service, l))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	status, retryAfter, err := s.post(ctx, webhookURL, body)
	if err != nil {
		return err
	}

	// Slack asks for one backoff on 429; honour it once.
	if status == http.StatusTooManyRequests {
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		s.logger.Warn("slack rate limited, retrying", "retry_after", retryAfter)
		if err := sleepCtx(ctx, retryAfter); err != nil {
			return fmt.Errorf("post to slack: %w", err)
		}
		status, _, err = s.post(ctx, webhookURL, body)
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		if status != http.StatusOK {
			return &model.HTTPError{StatusCode: status, Err: fmt.Errorf("slack returned %d on retry", status)}
		}
		s.logger.Info("slack message sent", "title", l.Title, "retried", true)
		return nil
	}

	if status != http.StatusOK {
		return &model.HTTPError{StatusCode: status, Err: fmt.Errorf("slack returned %d", status)}
	}
	s.logger.Info("slack message sent", "title", l.Title)
	return nil
}

func (s *SlackChannel) post(ctx context.Context, url string, body []byte) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, model.ParseRetryAfter(resp.Header.Get("Retry-After")), nil
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

// Block Kit payload types.

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type      string         `json:"type"`
	Text      *slackText     `json:"text,omitempty"`
	Fields    []slackText    `json:"fields,omitempty"`
	Elements  []slackElement `json:"elements,omitempty"`
	Accessory *slackImage    `json:"accessory,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

type slackImage struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
	AltText  string `json:"alt_text"`
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func buildSlackPayload(service string, l model.Listing) slackPayload {
	provider := capitalize(l.Provider)
	if service != "" {
		provider = capitalize(service) + " · " + provider
	}

	overview := slackBlock{
		Type: "section",
		Fields: []slackText{
			{Type: "mrkdwn", Text: "*Price:*\n" + orDash(l.Price)},
			{Type: "mrkdwn", Text: "*Size:*\n" + orDash(l.Size)},
			{Type: "mrkdwn", Text: "*Address:*\n" + l.Address},
			{Type: "mrkdwn", Text: "*Source:*\n" + provider},
		},
	}
	if l.Image != "" {
		overview.Accessory = &slackImage{Type: "image", ImageURL: l.Image, AltText: l.Title}
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "🏠 " + l.Title},
		},
		overview,
	}

	if lines := detailLines(l); len(lines) > 0 {
		for i, line := range lines {
			label, value, _ := strings.Cut(line, ": ")
			lines[i] = "*" + label + ":* " + value
		}
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: strings.Join(lines, "   ")},
		})
	}

	blocks = append(blocks,
		slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "View Listing"},
					URL:   l.Link,
					Style: "primary",
				},
			},
		},
		slackBlock{Type: "divider"},
	)

	return slackPayload{Text: l.Title + " " + summary(l), Blocks: blocks}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
