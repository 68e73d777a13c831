package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/storefront/internal/metrics"
	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/settings"
)

// Notifier is told about reconciliation outcomes once they are committed.
// Delivery is best effort and at most once: implementations must not block
// the caller and must not report failures back.
type Notifier interface {
	OrderPlaced(ctx context.Context, order models.Order)
	PaymentConfirmed(ctx context.Context, order models.Order)
	PaymentRejected(ctx context.Context, order models.Order, reason string)
	OrderShipped(ctx context.Context, order models.Order)
}

// Mailer delivers one templated email.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// AdminNotifier posts back-office alerts.
type AdminNotifier interface {
	NotifyNewOrder(ctx context.Context, n OrderNotification) error
	NotifyPaymentSuccess(ctx context.Context, n PaymentNotification) error
	NotifyPaymentFailed(ctx context.Context, n PaymentNotification) error
}

// EventPublisher emits order events to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

// Channel names used in logs and metrics.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelEvents   = "events"
)

// DispatcherConfig wires the delivery channels. Nil channels are skipped.
type DispatcherConfig struct {
	Mailer  Mailer
	Admin   AdminNotifier
	Events  EventPublisher
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

// Dispatcher fans notifications out to every configured channel, each in
// its own goroutine with a detached, time-limited context.
type Dispatcher struct {
	mailer  Mailer
	admin   AdminNotifier
	events  EventPublisher
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	wg sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		mailer:  cfg.Mailer,
		admin:   cfg.Admin,
		events:  cfg.Events,
		logger:  logger,
		metrics: cfg.Metrics,
		timeout: timeout,
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) OrderPlaced(ctx context.Context, order models.Order) {
	store := settings.FromContext(ctx)

	if d.mailer != nil && order.CustomerEmail != "" {
		msg := Email{
			To:       order.CustomerEmail,
			Subject:  fmt.Sprintf("%s: we received order %s", store.StoreName(), order.OrderNumber),
			Template: TemplateOrderReceived,
			Data:     newEmailData(store, order),
		}
		d.fire(ChannelEmail, order, func(ctx context.Context) error { return d.mailer.Send(ctx, msg) })
	}
	if d.admin != nil {
		n := newOrderNotification(order)
		d.fire(ChannelTelegram, order, func(ctx context.Context) error { return d.admin.NotifyNewOrder(ctx, n) })
	}
	d.publish(EventOrderPlaced, order, "")
}

func (d *Dispatcher) PaymentConfirmed(ctx context.Context, order models.Order) {
	store := settings.FromContext(ctx)

	if d.mailer != nil && order.CustomerEmail != "" {
		msg := Email{
			To:       order.CustomerEmail,
			Subject:  fmt.Sprintf("%s: payment confirmed for order %s", store.StoreName(), order.OrderNumber),
			Template: TemplatePaymentConfirmed,
			Data:     newEmailData(store, order),
		}
		d.fire(ChannelEmail, order, func(ctx context.Context) error { return d.mailer.Send(ctx, msg) })
	}
	if d.admin != nil {
		n := newPaymentNotification(order, "")
		d.fire(ChannelTelegram, order, func(ctx context.Context) error { return d.admin.NotifyPaymentSuccess(ctx, n) })
	}
	d.publish(EventOrderPaid, order, "")
}

func (d *Dispatcher) PaymentRejected(ctx context.Context, order models.Order, reason string) {
	store := settings.FromContext(ctx)

	if d.mailer != nil && order.CustomerEmail != "" {
		data := newEmailData(store, order)
		data.Reason = reason
		msg := Email{
			To:       order.CustomerEmail,
			Subject:  fmt.Sprintf("%s: payment for order %s was not accepted", store.StoreName(), order.OrderNumber),
			Template: TemplatePaymentRejected,
			Data:     data,
		}
		d.fire(ChannelEmail, order, func(ctx context.Context) error { return d.mailer.Send(ctx, msg) })
	}
	if d.admin != nil {
		n := newPaymentNotification(order, reason)
		d.fire(ChannelTelegram, order, func(ctx context.Context) error { return d.admin.NotifyPaymentFailed(ctx, n) })
	}
	d.publish(EventPaymentFailed, order, reason)
}

func (d *Dispatcher) OrderShipped(ctx context.Context, order models.Order) {
	store := settings.FromContext(ctx)

	if d.mailer != nil && order.CustomerEmail != "" {
		msg := Email{
			To:       order.CustomerEmail,
			Subject:  fmt.Sprintf("%s: order %s is on its way", store.StoreName(), order.OrderNumber),
			Template: TemplateOrderShipped,
			Data:     newEmailData(store, order),
		}
		d.fire(ChannelEmail, order, func(ctx context.Context) error { return d.mailer.Send(ctx, msg) })
	}
	d.publish(EventOrderShipped, order, "")
}

func (d *Dispatcher) publish(eventType string, order models.Order, reason string) {
	if d.events == nil {
		return
	}
	ev := NewOrderEvent(eventType, order, reason)
	d.fire(ChannelEvents, order, func(ctx context.Context) error { return d.events.Publish(ctx, ev) })
}

func (d *Dispatcher) fire(channel string, order models.Order, send func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notification panicked",
					zap.String("channel", channel),
					zap.String("order_number", order.OrderNumber),
					zap.Any("panic", r))
				d.metrics.Notification(channel, "panic")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			d.logger.Warn("notification failed",
				zap.String("channel", channel),
				zap.String("order_number", order.OrderNumber),
				zap.Error(err))
			d.metrics.Notification(channel, "failed")
			return
		}
		d.metrics.Notification(channel, "sent")
	}()
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) OrderPlaced(context.Context, models.Order)             {}
func (NopNotifier) PaymentConfirmed(context.Context, models.Order)        {}
func (NopNotifier) PaymentRejected(context.Context, models.Order, string) {}
func (NopNotifier) OrderShipped(context.Context, models.Order)            {}
