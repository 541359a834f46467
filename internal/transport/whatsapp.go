package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
)

const sendPath = "/api/qr/rest/send_message"

// WhatsAppClient talks to a JSON-over-HTTP WhatsApp gateway.
type WhatsAppClient struct {
	BaseURL string
	Token   string
	client  *http.Client
	log     zerolog.Logger
}

func NewWhatsAppClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *WhatsAppClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "whatsapp").Logger(),
	}
}

type sendPayload struct {
	MessageType string `json:"messageType"`
	RequestType string `json:"requestType"`
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

func (c *WhatsAppClient) SendText(ctx context.Context, sender, recipient, text string) error {
	return c.send(ctx, sendPayload{
		MessageType: "text",
		From:        sender,
		To:          recipient,
		Text:        text,
	})
}

func (c *WhatsAppClient) SendImage(ctx context.Context, sender, recipient, text, imageRef string) error {
	if imageRef == "" {
		return appErrors.NewTransport(recipient, "image message without image", nil)
	}
	return c.send(ctx, sendPayload{
		MessageType: "image",
		From:        sender,
		To:          recipient,
		Text:        text,
		ImageURL:    imageRef,
	})
}

func (c *WhatsAppClient) send(ctx context.Context, p sendPayload) error {
	start := time.Now()
	p.RequestType = http.MethodPost
	p.Token = c.Token

	body, err := json.Marshal(p)
	if err != nil {
		return appErrors.NewTransport(p.To, "malformed payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return appErrors.NewTransport(p.To, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("recipient", p.To).Msg("whatsapp http error")
		return appErrors.NewTransport(p.To, "http error", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().
			Str("recipient", p.To).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Str("response", string(respBody)).
			Msg("whatsapp send rejected")
		return appErrors.NewTransport(p.To, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	c.log.Debug().
		Str("recipient", p.To).
		Str("type", p.MessageType).
		Dur("duration", time.Since(start)).
		Msg("whatsapp message sent")
	return nil
}

var (
	_ Messenger = (*WhatsAppClient)(nil)
	_ Messenger = (*MockMessenger)(nil)
)
