package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/settings"
)

// Email templates shipped with the binary.
const (
	TemplateOrderReceived    = "order_received.html"
	TemplatePaymentConfirmed = "payment_confirmed.html"
	TemplatePaymentRejected  = "payment_rejected.html"
	TemplateOrderShipped     = "order_shipped.html"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Email is one message to render and send.
type Email struct {
	To       string
	Subject  string
	Template string
	Data     any
}

// EmailData is the payload every order template receives.
type EmailData struct {
	StoreName      string
	SupportEmail   string
	CustomerName   string
	OrderNumber    string
	PaymentMethod  string
	Subtotal       string
	ShippingFee    string
	Total          string
	TrackingNumber string
	Reason         string
	Lines          []EmailLine
}

type EmailLine struct {
	Name      string
	Variant   string
	Quantity  int
	LineTotal string
}

func newEmailData(store settings.Provider, order models.Order) EmailData {
	data := EmailData{
		StoreName:      store.StoreName(),
		SupportEmail:   store.SupportEmail(),
		CustomerName:   order.CustomerName,
		OrderNumber:    order.OrderNumber,
		PaymentMethod:  order.PaymentMethod,
		Subtotal:       FormatPrice(order.Subtotal, order.Currency),
		ShippingFee:    FormatPrice(order.ShippingFee, order.Currency),
		Total:          FormatPrice(order.Total, order.Currency),
		TrackingNumber: order.TrackingNumber,
	}
	for _, line := range order.Lines {
		data.Lines = append(data.Lines, EmailLine{
			Name:      line.ProductName,
			Variant:   line.VariantLabel,
			Quantity:  line.Quantity,
			LineTotal: FormatPrice(line.LineTotal, order.Currency),
		})
	}
	return data
}

// RenderEmail executes a named template.
func RenderEmail(name string, data any) (string, error) {
	var body bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&body, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return body.String(), nil
}

// SMTPConfig holds outgoing mail credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends rendered templates over SMTP.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Email) error {
	body, err := RenderEmail(msg.Template, msg.Data)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}
