package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/storefront/internal/models"
)

const telegramAPI = "https://api.telegram.org"

// TelegramConfig holds the bot credentials. BaseURL defaults to the public API.
type TelegramConfig struct {
	BotToken    string
	AdminChatID string
	BaseURL     string
}

// TelegramService handles sending notifications to Telegram.
type TelegramService struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
}

var _ AdminNotifier = (*TelegramService)(nil)

// NewTelegramService creates a new TelegramService.
func NewTelegramService(cfg TelegramConfig, logger *zap.Logger) *TelegramService {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramService{
		botToken:    cfg.BotToken,
		adminChatID: cfg.AdminChatID,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.logger.Debug("telegram bot token not configured")
		return nil
	}

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.logger.Debug("telegram admin chat not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// OrderNotification contains order data for Telegram notification.
type OrderNotification struct {
	OrderNumber   string
	Items         []OrderItemNotification
	Total         decimal.Decimal
	Currency      string
	CustomerName  string
	CustomerPhone string
	PaymentMethod string
}

// OrderItemNotification contains order item data.
type OrderItemNotification struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func newOrderNotification(order models.Order) OrderNotification {
	n := OrderNotification{
		OrderNumber:   order.OrderNumber,
		Total:         order.Total,
		Currency:      order.Currency,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		PaymentMethod: order.PaymentMethod,
	}
	for _, line := range order.Lines {
		name := line.ProductName
		if line.VariantLabel != "" {
			name += " (" + line.VariantLabel + ")"
		}
		n.Items = append(n.Items, OrderItemNotification{
			Name:      name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return n
}

// PaymentNotification describes a settled payment.
type PaymentNotification struct {
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Reference   string
	Reason      string
}

func newPaymentNotification(order models.Order, reason string) PaymentNotification {
	ref := order.PaymentID
	if order.CardLastFour != "" {
		ref = fmt.Sprintf("%s •••• %s", order.CardBrand, order.CardLastFour)
	}
	return PaymentNotification{
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Currency:    order.Currency,
		Method:      order.PaymentMethod,
		Reference:   ref,
		Reason:      reason,
	}
}

// FormatPrice formats an amount with thousand separators, two decimals and
// the currency code.
func FormatPrice(amount decimal.Decimal, currency string) string {
	str := amount.StringFixed(2)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	intPart, frac, _ := strings.Cut(str, ".")

	var result strings.Builder
	length := len(intPart)
	for i, digit := range intPart {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	out := sign + result.String() + "." + frac
	if currency != "" {
		out += " " + currency
	}
	return out
}

// NotifyNewOrder sends notification about new order to admin chat.
func (s *TelegramService) NotifyNewOrder(ctx context.Context, order OrderNotification) error {
	var items strings.Builder
	for i, item := range order.Items {
		fmt.Fprintf(&items, "%d. <b>%s</b>\n   %d x %s = %s\n",
			i+1,
			html.EscapeString(item.Name),
			item.Quantity,
			FormatPrice(item.UnitPrice, order.Currency),
			FormatPrice(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))), order.Currency),
		)
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>Order:</b> %s
<b>Customer:</b> %s
<b>Phone:</b> %s
<b>Items:</b>
%s
<b>Total:</b> %s
<b>Payment:</b> %s
━━━━━━━━━━━━━━━━━━`,
		order.OrderNumber,
		html.EscapeString(order.CustomerName),
		html.EscapeString(order.CustomerPhone),
		items.String(),
		FormatPrice(order.Total, order.Currency),
		paymentMethodLabel(order.PaymentMethod),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// NotifyPaymentSuccess sends notification about successful payment.
func (s *TelegramService) NotifyPaymentSuccess(ctx context.Context, payment PaymentNotification) error {
	message := fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>Order:</b> %s
<b>Amount:</b> %s
<b>Method:</b> %s
<b>Reference:</b> %s
━━━━━━━━━━━━━━━━━━`,
		payment.OrderNumber,
		FormatPrice(payment.Amount, payment.Currency),
		paymentMethodLabel(payment.Method),
		html.EscapeString(payment.Reference),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// NotifyPaymentFailed sends notification about a declined or rejected payment.
func (s *TelegramService) NotifyPaymentFailed(ctx context.Context, payment PaymentNotification) error {
	message := fmt.Sprintf(`<b>❌ PAYMENT FAILED</b>
<b>Order:</b> %s
<b>Amount:</b> %s
<b>Method:</b> %s
<b>Reason:</b> %s
━━━━━━━━━━━━━━━━━━`,
		payment.OrderNumber,
		FormatPrice(payment.Amount, payment.Currency),
		paymentMethodLabel(payment.Method),
		html.EscapeString(payment.Reason),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

func paymentMethodLabel(method string) string {
	switch method {
	case models.PaymentMethodCard:
		return "Card"
	case "":
		return "-"
	}
	return strings.ReplaceAll(method, "_", " ")
}
