package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxFilesPerMessage is the webhook attachment limit.
const maxFilesPerMessage = 10

// DiscordOptions configure the webhook sink.
type DiscordOptions struct {
	WebhookURL   string
	MessageLimit int
	Username     string
}

// DiscordSink posts messages and files to a Discord webhook. Rate limiting
// (429 with Retry-After) and transient errors are retried by retryablehttp.
type DiscordSink struct {
	opts   DiscordOptions
	client *retryablehttp.Client
}

func NewDiscordSink(opts DiscordOptions) *DiscordSink {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 1997
	}
	c := retryablehttp.NewClient()
	c.RetryMax = 4
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = nil
	return &DiscordSink{opts: opts, client: c}
}

func (s *DiscordSink) Name() string { return "discord" }

type discordPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Send posts text in segments no longer than the message limit.
func (s *DiscordSink) Send(ctx context.Context, msg Message) error {
	for _, seg := range Split(msg.Text, s.opts.MessageLimit) {
		body, err := json.Marshal(discordPayload{Content: seg, Username: s.opts.Username})
		if err != nil {
			return err
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.opts.WebhookURL, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := s.do(req); err != nil {
			return err
		}
	}
	return nil
}

// Upload attaches files to webhook messages, up to ten per message.
func (s *DiscordSink) Upload(ctx context.Context, files []File) error {
	for start := 0; start < len(files); start += maxFilesPerMessage {
		end := min(start+maxFilesPerMessage, len(files))
		body, contentType, err := multipartBody(RelativeTimestamp(time.Now()), s.opts.Username, files[start:end])
		if err != nil {
			return err
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.opts.WebhookURL, body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		if err := s.do(req); err != nil {
			return err
		}
	}
	return nil
}

func multipartBody(content, username string, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	payload, err := json.Marshal(discordPayload{Content: content, Username: username})
	if err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return nil, "", err
	}
	for i, f := range files {
		fw, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (s *DiscordSink) do(req *retryablehttp.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *DiscordSink) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}
