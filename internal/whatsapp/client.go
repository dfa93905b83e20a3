// ABOUTME: WhatsApp Cloud API client for outbound sends, media upload and read receipts
// ABOUTME: Non-2xx responses surface as *ProviderError carrying the Graph API message

package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/2389/inbox-gateway/internal/metrics"
)

// DefaultAPIURL is the Graph API base used when none is configured.
const DefaultAPIURL = "https://graph.facebook.com/v22.0"

const defaultTimeout = 15 * time.Second

// MaxMediaBytes caps media fetched from a caller-supplied URL before upload.
const MaxMediaBytes = 100 << 20

// ErrMediaTooLarge is returned when media exceeds the download cap.
var ErrMediaTooLarge = errors.New("media too large")

// Provider is the subset of the messaging provider the gateway depends on.
type Provider interface {
	// SendText sends a text message and returns the provider message id.
	SendText(ctx context.Context, to, body string) (string, error)

	// SendMedia uploads the media at mediaURL, sends it and returns the
	// provider message id. Caption is ignored for audio.
	SendMedia(ctx context.Context, to, mediaType, mediaURL, caption string) (string, error)

	// MarkRead sends a read receipt for an inbound message.
	MarkRead(ctx context.Context, messageID string) error
}

// ProviderError is returned when the Graph API answers with a non-2xx status.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("whatsapp api error (status %d): %s", e.Status, e.Message)
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Config configures a Client.
type Config struct {
	APIURL        string
	APIToken      string
	PhoneNumberID string
	Timeout       time.Duration
}

// Client talks to the WhatsApp Cloud API.
type Client struct {
	api           *resty.Client
	download      *resty.Client
	phoneNumberID string
	maxMediaBytes int64
	logger        *slog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient creates a Graph API client. Pass nil logger for default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		api: resty.New().
			SetBaseURL(strings.TrimSuffix(cfg.APIURL, "/")).
			SetAuthToken(cfg.APIToken).
			SetHeader("User-Agent", "inbox-gateway/1.0").
			SetTimeout(cfg.Timeout),
		// Media hosts get no bearer token.
		download: resty.New().
			SetHeader("User-Agent", "inbox-gateway/1.0").
			SetTimeout(cfg.Timeout),
		phoneNumberID: cfg.PhoneNumberID,
		maxMediaBytes: MaxMediaBytes,
		logger:        logger.With("component", "whatsapp"),
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        body,
		},
	}

	id, err := c.postMessage(ctx, payload)
	metrics.RecordProviderCall("send_text", err)
	if err != nil {
		return "", err
	}
	c.logger.Debug("sent text message", "to", to, "message_id", id)
	return id, nil
}

// SendMedia downloads mediaURL, uploads it to the provider and sends it.
func (c *Client) SendMedia(ctx context.Context, to, mediaType, mediaURL, caption string) (string, error) {
	id, err := c.sendMedia(ctx, to, mediaType, mediaURL, caption)
	metrics.RecordProviderCall("send_media", err)
	if err != nil {
		return "", err
	}
	c.logger.Debug("sent media message", "to", to, "type", mediaType, "message_id", id)
	return id, nil
}

func (c *Client) sendMedia(ctx context.Context, to, mediaType, mediaURL, caption string) (string, error) {
	mediaID, err := c.uploadMedia(ctx, mediaType, mediaURL)
	if err != nil {
		return "", err
	}

	media := map[string]any{"id": mediaID}
	if caption != "" && mediaType != "audio" {
		media["caption"] = caption
	}

	return c.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              mediaType,
		mediaType:           media,
	})
}

// MarkRead sends a read receipt for messageID.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
	metrics.RecordProviderCall("mark_read", err)
	return err
}

func (c *Client) postMessage(ctx context.Context, payload map[string]any) (string, error) {
	var result sendResponse
	var apiErr errorResponse

	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&result).
		SetError(&apiErr).
		Post("/" + c.phoneNumberID + "/messages")
	if err != nil {
		return "", fmt.Errorf("calling whatsapp messages endpoint: %w", err)
	}
	if resp.IsError() {
		return "", newProviderError(resp, &apiErr)
	}

	if len(result.Messages) == 0 {
		return "", nil
	}
	return result.Messages[0].ID, nil
}

func (c *Client) uploadMedia(ctx context.Context, mediaType, mediaURL string) (string, error) {
	data, err := c.downloadMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	contentType := ContentType(mediaType)
	filename := path.Base(strings.SplitN(mediaURL, "?", 2)[0])
	if filename == "" || filename == "." || filename == "/" {
		filename = mediaType
	}

	var result uploadResponse
	var apiErr errorResponse
	resp, err := c.api.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"messaging_product": "whatsapp",
			"type":              contentType,
		}).
		SetMultipartField("file", filename, contentType, bytes.NewReader(data)).
		SetResult(&result).
		SetError(&apiErr).
		Post("/" + c.phoneNumberID + "/media")
	if err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	if resp.IsError() {
		return "", newProviderError(resp, &apiErr)
	}
	if result.ID == "" {
		return "", &ProviderError{Status: resp.StatusCode(), Message: "media upload returned no id"}
	}

	c.logger.Debug("uploaded media", "type", mediaType, "media_id", result.ID, "bytes", len(data))
	return result.ID, nil
}

// downloadMedia fetches mediaURL, reading at most maxMediaBytes. Larger
// bodies fail with ErrMediaTooLarge whether or not Content-Length says so.
func (c *Client) downloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	dl, err := c.download.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	body := dl.RawBody()
	defer body.Close()

	if dl.IsError() {
		return nil, fmt.Errorf("downloading media: status %d", dl.StatusCode())
	}
	if n := dl.RawResponse.ContentLength; n > c.maxMediaBytes {
		return nil, fmt.Errorf("downloading media: %d bytes exceeds %d: %w", n, c.maxMediaBytes, ErrMediaTooLarge)
	}

	data, err := io.ReadAll(io.LimitReader(body, c.maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading media: %w", err)
	}
	if int64(len(data)) > c.maxMediaBytes {
		return nil, fmt.Errorf("downloading media: body exceeds %d bytes: %w", c.maxMediaBytes, ErrMediaTooLarge)
	}
	return data, nil
}

func newProviderError(resp *resty.Response, body *errorResponse) *ProviderError {
	msg := body.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &ProviderError{Status: resp.StatusCode(), Message: msg}
}

// ContentType maps a media message type to the upload MIME type.
func ContentType(mediaType string) string {
	switch mediaType {
	case "image":
		return "image/jpeg"
	case "video":
		return "video/mp4"
	case "audio":
		return "audio/ogg"
	case "document":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// IsValidMessageID reports whether id looks like a real provider message id.
// Ids that fail this check (test fixtures, locally generated ids) are never
// sent to the provider.
func IsValidMessageID(id string) bool {
	return strings.HasPrefix(id, "wamid.") && len(id) > 20
}
