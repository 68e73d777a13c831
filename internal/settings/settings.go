// Package settings serves the store configuration kept in the settings
// table. Values are loaded into an immutable Snapshot that is cached for a
// TTL and handed to request code through the context.
package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/storefront/internal/models"
)

// Setting keys.
const (
	KeyStoreName             = "store_name"
	KeyCurrency              = "currency"
	KeySupportEmail          = "support_email"
	KeyShippingFee           = "shipping_fee"
	KeyFreeShippingThreshold = "free_shipping_threshold"
	KeyManualPaymentMethods  = "manual_payment_methods"
)

var defaults = map[string]string{
	KeyStoreName:             "Storefront",
	KeyCurrency:              "USD",
	KeySupportEmail:          "",
	KeyShippingFee:           "0",
	KeyFreeShippingThreshold: "0",
	KeyManualPaymentMethods:  "bank_transfer,wallet_transfer",
}

// Provider is the typed read side of the store configuration.
type Provider interface {
	StoreName() string
	Currency() string
	SupportEmail() string
	ShippingFee() decimal.Decimal
	FreeShippingThreshold() decimal.Decimal
	ManualPaymentMethods() []string
	IsManualMethod(method string) bool
}

// Store is the persistence the service reads from and writes to.
type Store interface {
	ListSettings(ctx context.Context) ([]models.Setting, error)
	UpsertSetting(ctx context.Context, setting models.Setting) error
}

// Snapshot is an immutable view of the settings at load time.
type Snapshot struct {
	values map[string]string
}

var _ Provider = (*Snapshot)(nil)

// Defaults returns a snapshot holding only built-in values.
func Defaults() *Snapshot {
	return newSnapshot(nil)
}

func newSnapshot(rows []models.Setting) *Snapshot {
	values := make(map[string]string, len(defaults)+len(rows))
	for k, v := range defaults {
		values[k] = v
	}
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return &Snapshot{values: values}
}

func (s *Snapshot) StoreName() string    { return s.values[KeyStoreName] }
func (s *Snapshot) SupportEmail() string { return s.values[KeySupportEmail] }

func (s *Snapshot) Currency() string {
	return strings.ToUpper(s.values[KeyCurrency])
}

func (s *Snapshot) ShippingFee() decimal.Decimal {
	return s.decimal(KeyShippingFee)
}

func (s *Snapshot) FreeShippingThreshold() decimal.Decimal {
	return s.decimal(KeyFreeShippingThreshold)
}

func (s *Snapshot) decimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(s.values[key])
	if err != nil {
		d, _ = decimal.NewFromString(defaults[key])
	}
	return d
}

func (s *Snapshot) ManualPaymentMethods() []string {
	var methods []string
	for _, m := range strings.Split(s.values[KeyManualPaymentMethods], ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

// IsManualMethod reports whether method is paid by a verified transfer.
// Card is never manual, whatever the stored list says.
func (s *Snapshot) IsManualMethod(method string) bool {
	if method == models.PaymentMethodCard {
		return false
	}
	for _, m := range s.ManualPaymentMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// Values returns a copy of every key, defaults included.
func (s *Snapshot) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ShippingFor returns the shipping fee owed on a subtotal.
func ShippingFor(p Provider, subtotal decimal.Decimal) decimal.Decimal {
	threshold := p.FreeShippingThreshold()
	if threshold.IsPositive() && subtotal.GreaterThanOrEqual(threshold) {
		return decimal.Zero
	}
	return p.ShippingFee()
}

// Service caches the settings snapshot.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	cached   *Snapshot
	loadedAt time.Time
}

func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// Current returns the cached snapshot, reloading it once the TTL has passed.
func (s *Service) Current(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.loadedAt) < s.ttl {
		snap := s.cached
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.loadedAt) < s.ttl {
		return s.cached, nil
	}

	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s.cached = newSnapshot(rows)
	s.loadedAt = s.now()
	return s.cached, nil
}

// Set validates and persists one value, then drops the cache.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}
	if err := s.store.UpsertSetting(ctx, models.Setting{Key: key, Value: value}); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	return nil
}

// ValidationError reports a rejected setting value.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("setting %s: %s", e.Key, e.Reason)
}

func validate(key, value string) error {
	if _, known := defaults[key]; !known {
		return &ValidationError{Key: key, Reason: "unknown key"}
	}
	switch key {
	case KeyShippingFee, KeyFreeShippingThreshold:
		d, err := decimal.NewFromString(value)
		if err != nil {
			return &ValidationError{Key: key, Reason: "must be a decimal amount"}
		}
		if d.IsNegative() {
			return &ValidationError{Key: key, Reason: "must not be negative"}
		}
	case KeyCurrency:
		if len(value) != 3 {
			return &ValidationError{Key: key, Reason: "must be a 3-letter ISO code"}
		}
	case KeyManualPaymentMethods:
		for _, m := range strings.Split(value, ",") {
			if strings.TrimSpace(m) == models.PaymentMethodCard {
				return &ValidationError{Key: key, Reason: "card is charged through the gateway and cannot be a manual method"}
			}
		}
	}
	return nil
}

type ctxKey struct{}

// WithContext attaches a provider to ctx.
func WithContext(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the provider attached to ctx, or the defaults.
func FromContext(ctx context.Context) Provider {
	if p, ok := ctx.Value(ctxKey{}).(Provider); ok && p != nil {
		return p
	}
	return Defaults()
}
