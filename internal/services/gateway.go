package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/storefront/internal/utils"
)

// ErrGatewayUnavailable covers transport failures, timeouts and 5xx answers.
// The charge outcome is unknown and the customer has to resubmit.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ProviderCard is recorded as the payment provider of card orders.
const ProviderCard = "card_gateway"

const defaultDeclineMessage = "Your card was declined. Please try another card."

// ChargeRequest is one card charge attempt.
type ChargeRequest struct {
	AmountMinor    int64
	Currency       string
	Email          string
	SourceToken    string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// ChargeResult is the normalized gateway answer. Success is false for
// declines, which carry a message safe to show the customer.
type ChargeResult struct {
	Success           bool
	ChargeID          string
	AuthorizationCode string
	AmountMinor       int64
	Currency          string
	CardBrand         string
	LastFour          string
	CreatedAt         time.Time

	DeclineCode     string
	UserMessage     string
	MerchantMessage string
}

// PaymentGateway charges a tokenized card.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// GatewayConfig holds the card gateway credentials.
type GatewayConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// CardGateway talks to the charge API over HTTP.
type CardGateway struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

func NewCardGateway(cfg GatewayConfig, logger *zap.Logger) *CardGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CardGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type chargePayload struct {
	Amount       int64             `json:"amount"`
	CurrencyCode string            `json:"currency_code"`
	Email        string            `json:"email"`
	SourceID     string            `json:"source_id"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	ID                string `json:"id"`
	AuthorizationCode string `json:"authorization_code"`
	Amount            int64  `json:"amount"`
	CurrencyCode      string `json:"currency_code"`
	CreationDate      int64  `json:"creation_date"`
	Source            struct {
		CardBrand string `json:"card_brand"`
		LastFour  string `json:"last_four"`
	} `json:"source"`
}

type chargeErrorResponse struct {
	Code            string `json:"code"`
	UserMessage     string `json:"user_message"`
	MerchantMessage string `json:"merchant_message"`
}

// Charge posts the charge. Declines (4xx) come back as an unsuccessful
// result; only an unknown outcome is returned as an error.
func (g *CardGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("charge amount %d: %w", req.AmountMinor, utils.ErrNonPositiveAmount)
	}

	payload, err := json.Marshal(chargePayload{
		Amount:       req.AmountMinor,
		CurrencyCode: strings.ToUpper(req.Currency),
		Email:        req.Email,
		SourceID:     req.SourceToken,
		Description:  req.Description,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("charge marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("charge request build: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.secretKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		g.logger.Warn("gateway server error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 512)))
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)

	case resp.StatusCode >= 400:
		var declined chargeErrorResponse
		if err := json.Unmarshal(body, &declined); err != nil {
			g.logger.Warn("gateway decline body unreadable", zap.Int("status", resp.StatusCode), zap.Error(err))
		}
		msg := declined.UserMessage
		if msg == "" {
			msg = defaultDeclineMessage
		}
		return &ChargeResult{
			Success:         false,
			DeclineCode:     declined.Code,
			UserMessage:     msg,
			MerchantMessage: declined.MerchantMessage,
		}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var charged chargeResponse
		if err := json.Unmarshal(body, &charged); err != nil {
			// Outcome unknown; a resubmission with the same idempotency key
			// returns the original charge.
			return nil, fmt.Errorf("%w: decode charge: %v", ErrGatewayUnavailable, err)
		}
		return &ChargeResult{
			Success:           true,
			ChargeID:          charged.ID,
			AuthorizationCode: charged.AuthorizationCode,
			AmountMinor:       charged.Amount,
			Currency:          charged.CurrencyCode,
			CardBrand:         charged.Source.CardBrand,
			LastFour:          charged.Source.LastFour,
			CreatedAt:         time.Unix(charged.CreationDate, 0).UTC(),
		}, nil
	}

	return nil, fmt.Errorf("%w: unexpected status %d", ErrGatewayUnavailable, resp.StatusCode)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
