package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/amishk599/listingwatch/internal/model"
)

const (
	NtfyChannelID = "ntfy"

	DefaultNtfyServer = "https://ntfy.sh"

	// Per-job settings. The topic is required.
	NtfyTopicSetting  = "topic"
	NtfyServerSetting = "server"
)

// Ensure NtfyChannel implements Channel.
var _ Channel = (*NtfyChannel)(nil)

// NtfyChannel pushes one ntfy message per listing to the job's topic.
type NtfyChannel struct {
	defaultServer string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewNtfyChannel returns an ntfy channel. Jobs may override defaultServer
// with their own server setting.
func NewNtfyChannel(defaultServer string, httpClient *http.Client, logger *slog.Logger) *NtfyChannel {
	if defaultServer == "" {
		defaultServer = DefaultNtfyServer
	}
	return &NtfyChannel{
		defaultServer: strings.TrimRight(defaultServer, "/"),
		httpClient:    httpClient,
		logger:        logger,
	}
}

func (n *NtfyChannel) ID() string { return NtfyChannelID }

// Send publishes each listing. Returns an error only if ALL messages fail.
func (n *NtfyChannel) Send(ctx context.Context, p Payload) error {
	if len(p.Listings) == 0 {
		return nil
	}

	settings := p.Settings(NtfyChannelID)
	topic := settings[NtfyTopicSetting]
	if topic == "" {
		return fmt.Errorf("ntfy: no topic configured for job %s", p.JobKey)
	}
	server := n.defaultServer
	if s := settings[NtfyServerSetting]; s != "" {
		server = strings.TrimRight(s, "/")
	}
	target := server + "/" + url.PathEscape(topic)

	failures := 0
	for _, l := range p.Listings {
		if err := n.publish(ctx, target, l); err != nil {
			n.logger.Error("ntfy notification failed", "job", p.JobKey, "title", l.Title, "error", err)
			failures++
		}
	}
	if failures == len(p.Listings) {
		return fmt.Errorf("all %d ntfy notifications failed", failures)
	}
	n.logger.Info("ntfy notifications complete", "job", p.JobKey, "sent", len(p.Listings)-failures, "failed", failures)
	return nil
}

func (n *NtfyChannel) publish(ctx context.Context, target string, l model.Listing) error {
	body := summary(l)
	if lines := detailLines(l); len(lines) > 0 {
		body += "\n" + strings.Join(lines, "\n")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create ntfy request: %w", err)
	}
	req.Header.Set("Title", l.Title)
	req.Header.Set("Tags", "house")
	if l.Link != "" {
		req.Header.Set("Click", l.Link)
	}
	if l.Image != "" {
		req.Header.Set("Attach", l.Image)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to ntfy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: model.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("ntfy returned %d", resp.StatusCode),
		}
	}
	return nil
}
