// Package transport places broadcast messages on the wire.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
)

// Messenger sends one message to one recipient. Each call is one attempt with one outcome.
type Messenger interface {
	SendText(ctx context.Context, sender, recipient, text string) error
	SendImage(ctx context.Context, sender, recipient, text, imageRef string) error
}

// New builds the messenger selected by cfg.Driver.
func New(cfg config.TransportConfig, log zerolog.Logger) (Messenger, error) {
	switch cfg.Driver {
	case "", "mock":
		return NewMockMessenger(cfg.MockSuccess), nil
	case "whatsapp":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("transport: WA_URL is required for the whatsapp driver")
		}
		return NewWhatsAppClient(cfg.BaseURL, cfg.Token, cfg.Timeout, log), nil
	default:
		return nil, fmt.Errorf("transport: unknown driver %q", cfg.Driver)
	}
}

// MockMessenger simulates a provider that accepts a fixed share of messages.
type MockMessenger struct {
	SuccessRatio float64
	rnd          func() float64
}

func NewMockMessenger(successRatio float64) *MockMessenger {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &MockMessenger{SuccessRatio: successRatio, rnd: r.Float64}
}

func (m *MockMessenger) SendText(ctx context.Context, sender, recipient, text string) error {
	return m.attempt(ctx, recipient)
}

func (m *MockMessenger) SendImage(ctx context.Context, sender, recipient, text, imageRef string) error {
	return m.attempt(ctx, recipient)
}

func (m *MockMessenger) attempt(ctx context.Context, recipient string) error {
	if err := ctx.Err(); err != nil {
		return appErrors.NewTransport(recipient, "cancelled", err)
	}
	if m.rnd() < m.SuccessRatio {
		return nil
	}
	return appErrors.NewTransport(recipient, "mock sending failed", nil)
}
