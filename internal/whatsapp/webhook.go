// ABOUTME: Decoding of WhatsApp Cloud API webhook payloads and subscription verification
// ABOUTME: Flattens entry/changes into inbound messages and delivery status callbacks

package whatsapp

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// BusinessAccountObject is the webhook object value for WhatsApp payloads.
const BusinessAccountObject = "whatsapp_business_account"

// WebhookPayload is the envelope the Cloud API POSTs to the webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         ValueMetadata    `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []Status         `json:"statuses"`
}

type ValueMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Media is the attachment block of an image/video/audio/document message.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// InboundMessage is one customer message. Raw keeps the undecoded JSON so
// it can be stored as message metadata.
type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Video    *Media `json:"video,omitempty"`
	Audio    *Media `json:"audio,omitempty"`
	Document *Media `json:"document,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the message and retains its raw bytes.
func (m *InboundMessage) UnmarshalJSON(data []byte) error {
	type plain InboundMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = InboundMessage(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Media returns the attachment block for media types, nil otherwise.
func (m *InboundMessage) Media() *Media {
	switch m.Type {
	case "image":
		return m.Image
	case "video":
		return m.Video
	case "audio":
		return m.Audio
	case "document":
		return m.Document
	}
	return nil
}

// Body is the text body, or the caption of a media message.
func (m *InboundMessage) Body() string {
	if m.Text != nil {
		return m.Text.Body
	}
	if media := m.Media(); media != nil {
		return media.Caption
	}
	return ""
}

// SentAt parses the unix-seconds timestamp. Zero if absent or malformed.
func (m *InboundMessage) SentAt() time.Time {
	secs, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// Status is a delivery callback for a message we sent.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Inbound pairs a message with the sender's profile name.
type Inbound struct {
	Message     InboundMessage
	ContactName string
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}
	return &p, nil
}

// IsBusinessAccount reports whether the payload is a WhatsApp payload.
func (p *WebhookPayload) IsBusinessAccount() bool {
	return p.Object == BusinessAccountObject
}

// Inbound returns every customer message in the payload in delivery order.
func (p *WebhookPayload) Inbound() []Inbound {
	var out []Inbound
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				out = append(out, Inbound{
					Message:     msg,
					ContactName: contactName(change.Value.Contacts, msg.From),
				})
			}
		}
	}
	return out
}

// Statuses returns every delivery callback in the payload.
func (p *WebhookPayload) Statuses() []Status {
	var out []Status
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Statuses...)
		}
	}
	return out
}

func contactName(contacts []Contact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	if len(contacts) > 0 {
		return contacts[0].Profile.Name
	}
	return ""
}

// VerifySubscription answers the GET handshake. It returns the challenge
// and true when mode is "subscribe" and token matches the configured one.
func VerifySubscription(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}
