package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/lifecycle"
	"github.com/example/storefront/internal/models"
)

// Memory is an in-process Repository with the same transactional contract
// as Gorm: WithTx works on a copy of the state and publishes it only when fn
// returns nil. Transactions are serialized, which stands in for row locks.
type Memory struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
	now   func() time.Time
}

type memState struct {
	users     map[uuid.UUID]models.User
	products  map[uuid.UUID]models.Product
	variants  map[uuid.UUID]models.ProductVariant
	orders    map[uuid.UUID]models.Order
	lines     map[uuid.UUID][]models.OrderLine
	payments  map[uuid.UUID]models.PendingPayment
	movements []models.InventoryMovement
	settings  map[string]models.Setting
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		state: &memState{
			users:    map[uuid.UUID]models.User{},
			products: map[uuid.UUID]models.Product{},
			variants: map[uuid.UUID]models.ProductVariant{},
			orders:   map[uuid.UUID]models.Order{},
			lines:    map[uuid.UUID][]models.OrderLine{},
			payments: map[uuid.UUID]models.PendingPayment{},
			settings: map[string]models.Setting{},
		},
		now: time.Now,
	}
}

var _ Repository = (*Memory)(nil)

func (s *memState) clone() *memState {
	c := &memState{
		users:     make(map[uuid.UUID]models.User, len(s.users)),
		products:  make(map[uuid.UUID]models.Product, len(s.products)),
		variants:  make(map[uuid.UUID]models.ProductVariant, len(s.variants)),
		orders:    make(map[uuid.UUID]models.Order, len(s.orders)),
		lines:     make(map[uuid.UUID][]models.OrderLine, len(s.lines)),
		payments:  make(map[uuid.UUID]models.PendingPayment, len(s.payments)),
		movements: append([]models.InventoryMovement(nil), s.movements...),
		settings:  make(map[string]models.Setting, len(s.settings)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]models.OrderLine(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

// do runs fn against the state, taking the lock unless the caller is already
// inside WithTx.
func (m *Memory) do(fn func(s *memState) error) error {
	if !m.inTx {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.state)
}

func (m *Memory) stamp(b *models.BaseModel) {
	b.AssignID()
	now := m.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{mu: m.mu, state: m.state.clone(), inTx: true, now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	*m.state = *tx.state
	return nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	return m.do(func(s *memState) error {
		for _, u := range s.users {
			if u.Email == user.Email {
				return ErrDuplicate
			}
		}
		m.stamp(&user.BaseModel)
		if user.Role == "" {
			user.Role = models.RoleCustomer
		}
		s.users[user.ID] = *user
		return nil
	})
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	var found *models.User
	err := m.do(func(s *memState) error {
		for _, u := range s.users {
			if u.Email == email {
				u := u
				found = &u
				return nil
			}
		}
		return ErrNotFound
	})
	return found, err
}

func (m *Memory) CreateProduct(_ context.Context, product *models.Product) error {
	return m.do(func(s *memState) error {
		for _, p := range s.products {
			if product.Slug != "" && p.Slug == product.Slug {
				return ErrDuplicate
			}
		}
		m.stamp(&product.BaseModel)
		for i := range product.Variants {
			v := &product.Variants[i]
			v.ProductID = product.ID
			m.stamp(&v.BaseModel)
			s.variants[v.ID] = *v
		}
		stored := *product
		stored.Variants = nil
		s.products[product.ID] = stored
		return nil
	})
}

func (s *memState) productWithVariants(id uuid.UUID) (*models.Product, bool) {
	p, ok := s.products[id]
	if !ok {
		return nil, false
	}
	p.Variants = nil
	for _, v := range s.variants {
		if v.ProductID == id {
			p.Variants = append(p.Variants, v)
		}
	}
	sort.Slice(p.Variants, func(i, j int) bool {
		return p.Variants[i].CreatedAt.Before(p.Variants[j].CreatedAt)
	})
	return &p, true
}

func (m *Memory) FindProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	var found *models.Product
	err := m.do(func(s *memState) error {
		p, ok := s.productWithVariants(id)
		if !ok {
			return ErrNotFound
		}
		found = p
		return nil
	})
	return found, err
}

func (m *Memory) FindVariant(_ context.Context, id uuid.UUID) (*models.ProductVariant, error) {
	var found *models.ProductVariant
	err := m.do(func(s *memState) error {
		v, ok := s.variants[id]
		if !ok {
			return ErrNotFound
		}
		found = &v
		return nil
	})
	return found, err
}

func (m *Memory) ListProducts(_ context.Context, page Page) ([]models.Product, int64, error) {
	var out []models.Product
	var total int64
	err := m.do(func(s *memState) error {
		var all []models.Product
		for id, p := range s.products {
			if !p.IsActive {
				continue
			}
			full, _ := s.productWithVariants(id)
			all = append(all, *full)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
		total = int64(len(all))
		out = paginate(all, page)
		return nil
	})
	return out, total, err
}

func (m *Memory) DeleteProduct(_ context.Context, id uuid.UUID) error {
	return m.do(func(s *memState) error {
		if _, ok := s.products[id]; !ok {
			return ErrNotFound
		}
		delete(s.products, id)

		deletedVariants := map[uuid.UUID]bool{}
		for vid, v := range s.variants {
			if v.ProductID == id {
				deletedVariants[vid] = true
				delete(s.variants, vid)
			}
		}

		for orderID, lines := range s.lines {
			for i := range lines {
				if lines[i].ProductID != nil && *lines[i].ProductID == id {
					lines[i].ProductID = nil
				}
				if lines[i].VariantID != nil && deletedVariants[*lines[i].VariantID] {
					lines[i].VariantID = nil
				}
			}
			s.lines[orderID] = lines
		}
		return nil
	})
}

func (m *Memory) LockStock(_ context.Context, ref StockRef) (int, error) {
	var stock int
	err := m.do(func(s *memState) error {
		switch {
		case ref.VariantID != nil:
			v, ok := s.variants[*ref.VariantID]
			if !ok {
				return ErrNotFound
			}
			stock = v.Stock
		case ref.ProductID != nil:
			p, ok := s.products[*ref.ProductID]
			if !ok {
				return ErrNotFound
			}
			stock = p.Stock
		default:
			return ErrNotFound
		}
		return nil
	})
	return stock, err
}

func (m *Memory) SetStock(_ context.Context, ref StockRef, stock int) error {
	return m.do(func(s *memState) error {
		switch {
		case ref.VariantID != nil:
			v, ok := s.variants[*ref.VariantID]
			if !ok {
				return ErrNotFound
			}
			v.Stock = stock
			v.UpdatedAt = m.now()
			s.variants[v.ID] = v
		case ref.ProductID != nil:
			p, ok := s.products[*ref.ProductID]
			if !ok {
				return ErrNotFound
			}
			p.Stock = stock
			p.UpdatedAt = m.now()
			s.products[p.ID] = p
		default:
			return ErrNotFound
		}
		return nil
	})
}

func (m *Memory) AppendMovement(_ context.Context, movement *models.InventoryMovement) error {
	return m.do(func(s *memState) error {
		m.stamp(&movement.BaseModel)
		s.movements = append(s.movements, *movement)
		return nil
	})
}

func (m *Memory) ListMovements(_ context.Context, filter MovementFilter) ([]models.InventoryMovement, error) {
	var out []models.InventoryMovement
	err := m.do(func(s *memState) error {
		for _, mv := range s.movements {
			if filter.OrderID != nil && (mv.OrderID == nil || *mv.OrderID != *filter.OrderID) {
				continue
			}
			if filter.ProductID != nil && (mv.ProductID == nil || *mv.ProductID != *filter.ProductID) {
				continue
			}
			out = append(out, mv)
		}
		return nil
	})
	return out, err
}

func (m *Memory) CreateOrder(_ context.Context, order *models.Order) error {
	return m.do(func(s *memState) error {
		for _, o := range s.orders {
			if order.OrderNumber != "" && o.OrderNumber == order.OrderNumber {
				return ErrDuplicate
			}
		}
		m.stamp(&order.BaseModel)
		lines := make([]models.OrderLine, len(order.Lines))
		for i := range order.Lines {
			l := &order.Lines[i]
			l.OrderID = order.ID
			m.stamp(&l.BaseModel)
			lines[i] = *l
		}
		stored := *order
		stored.Lines = nil
		s.orders[order.ID] = stored
		s.lines[order.ID] = lines
		return nil
	})
}

func (s *memState) orderWithLines(id uuid.UUID) (*models.Order, bool) {
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	o.Lines = append([]models.OrderLine(nil), s.lines[id]...)
	return &o, true
}

func (m *Memory) FindOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	var found *models.Order
	err := m.do(func(s *memState) error {
		o, ok := s.orderWithLines(id)
		if !ok {
			return ErrNotFound
		}
		found = o
		return nil
	})
	return found, err
}

func (m *Memory) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return m.FindOrder(ctx, id)
}

func (m *Memory) UpdateOrder(_ context.Context, order *models.Order) error {
	return m.do(func(s *memState) error {
		o, ok := s.orders[order.ID]
		if !ok {
			return ErrNotFound
		}
		o.Status = order.Status
		o.PaymentStatus = order.PaymentStatus
		o.PaymentProvider = order.PaymentProvider
		o.PaymentID = order.PaymentID
		o.AuthorizationCode = order.AuthorizationCode
		o.CardBrand = order.CardBrand
		o.CardLastFour = order.CardLastFour
		o.TrackingNumber = order.TrackingNumber
		o.PaidAt = order.PaidAt
		o.ShippedAt = order.ShippedAt
		o.DeliveredAt = order.DeliveredAt
		o.CancelledAt = order.CancelledAt
		o.UpdatedAt = m.now()
		s.orders[o.ID] = o
		return nil
	})
}

func (m *Memory) ListOrders(_ context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	var out []models.Order
	var total int64
	err := m.do(func(s *memState) error {
		var all []models.Order
		for id, o := range s.orders {
			if filter.UserID != nil && (o.UserID == nil || *o.UserID != *filter.UserID) {
				continue
			}
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			if filter.PaymentStatus != "" && o.PaymentStatus != filter.PaymentStatus {
				continue
			}
			full, _ := s.orderWithLines(id)
			all = append(all, *full)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
		total = int64(len(all))
		out = paginate(all, filter.Page)
		return nil
	})
	return out, total, err
}

func (m *Memory) CountOrdersByStatus(_ context.Context) (map[lifecycle.Status]int64, error) {
	counts := map[lifecycle.Status]int64{}
	err := m.do(func(s *memState) error {
		for _, o := range s.orders {
			counts[o.Status]++
		}
		return nil
	})
	return counts, err
}

func (m *Memory) CreatePendingPayment(_ context.Context, payment *models.PendingPayment) error {
	return m.do(func(s *memState) error {
		m.stamp(&payment.BaseModel)
		stored := *payment
		stored.Order = nil
		s.payments[payment.ID] = stored
		return nil
	})
}

func (m *Memory) LockPendingPayment(_ context.Context, id uuid.UUID) (*models.PendingPayment, error) {
	var found *models.PendingPayment
	err := m.do(func(s *memState) error {
		p, ok := s.payments[id]
		if !ok {
			return ErrNotFound
		}
		found = &p
		return nil
	})
	return found, err
}

func (m *Memory) UpdatePendingPayment(_ context.Context, payment *models.PendingPayment) error {
	return m.do(func(s *memState) error {
		p, ok := s.payments[payment.ID]
		if !ok {
			return ErrNotFound
		}
		p.Status = payment.Status
		p.VerifiedBy = payment.VerifiedBy
		p.VerifiedAt = payment.VerifiedAt
		p.RejectionReason = payment.RejectionReason
		p.UpdatedAt = m.now()
		s.payments[p.ID] = p
		return nil
	})
}

func (m *Memory) ListPendingPayments(_ context.Context, filter PendingPaymentFilter) ([]models.PendingPayment, int64, error) {
	var out []models.PendingPayment
	var total int64
	err := m.do(func(s *memState) error {
		var all []models.PendingPayment
		for _, p := range s.payments {
			if filter.Status != "" && p.Status != filter.Status {
				continue
			}
			if o, ok := s.orderWithLines(p.OrderID); ok {
				p.Order = o
			}
			all = append(all, p)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
		total = int64(len(all))
		out = paginate(all, filter.Page)
		return nil
	})
	return out, total, err
}

func (m *Memory) ListSettings(_ context.Context) ([]models.Setting, error) {
	var out []models.Setting
	err := m.do(func(s *memState) error {
		for _, st := range s.settings {
			out = append(out, st)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		return nil
	})
	return out, err
}

func (m *Memory) UpsertSetting(_ context.Context, setting models.Setting) error {
	return m.do(func(s *memState) error {
		setting.UpdatedAt = m.now()
		s.settings[setting.Key] = setting
		return nil
	})
}

func paginate[T any](items []T, page Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
