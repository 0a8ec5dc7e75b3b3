package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// MemoryStore implements Store in process memory. A single mutex
// serializes every call, so InTx has the same all-or-nothing and
// isolation guarantees the Postgres store gets from row locks.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	products   map[string]models.Product
	carts      map[string]models.Cart
	cartByUser map[string]string
	cartItems  map[string]models.CartItem
	orders     map[string]models.Order
	payments   map[string]models.Payment
}

func newMemState() *memState {
	return &memState{
		products:   map[string]models.Product{},
		carts:      map[string]models.Cart{},
		cartByUser: map[string]string{},
		cartItems:  map[string]models.CartItem{},
		orders:     map[string]models.Order{},
		payments:   map[string]models.Payment{},
	}
}

// clone copies every map. Values are replaced on write and never mutated
// in place, so a shallow copy of each value is enough.
func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartByUser {
		c.cartByUser[k] = v
	}
	for k, v := range s.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			*s.state = *snapshot
		}
	}()

	if err := fn(&memQueries{st: s.state}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

func locked[T any](s *MemoryStore, fn func(q *memQueries) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memQueries{st: s.state})
}

func lockedErr(s *MemoryStore, fn func(q *memQueries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memQueries{st: s.state})
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p *models.Product) error {
	return lockedErr(s, func(q *memQueries) error { return q.CreateProduct(ctx, p) })
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return locked(s, func(q *memQueries) (*models.Product, error) { return q.GetProduct(ctx, id) })
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	return lockedErr(s, func(q *memQueries) error { return q.UpdateProduct(ctx, p) })
}

func (s *MemoryStore) ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, error) {
	return locked(s, func(q *memQueries) ([]*models.Product, error) { return q.ListProducts(ctx, filter) })
}

func (s *MemoryStore) EnsureCart(ctx context.Context, userID string) (*models.Cart, error) {
	return locked(s, func(q *memQueries) (*models.Cart, error) { return q.EnsureCart(ctx, userID) })
}

func (s *MemoryStore) GetCartByUser(ctx context.Context, userID string, forUpdate bool) (*models.Cart, error) {
	return locked(s, func(q *memQueries) (*models.Cart, error) { return q.GetCartByUser(ctx, userID, forUpdate) })
}

func (s *MemoryStore) ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	return locked(s, func(q *memQueries) ([]models.CartItem, error) { return q.ListCartItems(ctx, cartID) })
}

func (s *MemoryStore) GetCartItem(ctx context.Context, cartID, itemID string) (*models.CartItem, error) {
	return locked(s, func(q *memQueries) (*models.CartItem, error) { return q.GetCartItem(ctx, cartID, itemID) })
}

func (s *MemoryStore) GetCartItemByProduct(ctx context.Context, cartID, productID string) (*models.CartItem, error) {
	return locked(s, func(q *memQueries) (*models.CartItem, error) {
		return q.GetCartItemByProduct(ctx, cartID, productID)
	})
}

func (s *MemoryStore) InsertCartItem(ctx context.Context, item *models.CartItem) error {
	return lockedErr(s, func(q *memQueries) error { return q.InsertCartItem(ctx, item) })
}

func (s *MemoryStore) UpdateCartItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	return lockedErr(s, func(q *memQueries) error { return q.UpdateCartItemQuantity(ctx, cartID, itemID, quantity) })
}

func (s *MemoryStore) DeleteCartItem(ctx context.Context, cartID, itemID string) error {
	return lockedErr(s, func(q *memQueries) error { return q.DeleteCartItem(ctx, cartID, itemID) })
}

func (s *MemoryStore) ClearCart(ctx context.Context, cartID string) (int64, error) {
	return locked(s, func(q *memQueries) (int64, error) { return q.ClearCart(ctx, cartID) })
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return lockedErr(s, func(q *memQueries) error { return q.CreateOrder(ctx, o) })
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string, forUpdate bool) (*models.Order, error) {
	return locked(s, func(q *memQueries) (*models.Order, error) { return q.GetOrder(ctx, id, forUpdate) })
}

func (s *MemoryStore) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error) {
	return locked(s, func(q *memQueries) ([]*models.Order, error) { return q.ListOrders(ctx, filter) })
}

func (s *MemoryStore) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	return locked(s, func(q *memQueries) (bool, error) { return q.TransitionOrder(ctx, id, from, to) })
}

func (s *MemoryStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	return lockedErr(s, func(q *memQueries) error { return q.CreatePayment(ctx, p) })
}

func (s *MemoryStore) GetPayment(ctx context.Context, id string, forUpdate bool) (*models.Payment, error) {
	return locked(s, func(q *memQueries) (*models.Payment, error) { return q.GetPayment(ctx, id, forUpdate) })
}

func (s *MemoryStore) GetPaymentByTransactionCode(ctx context.Context, code string, forUpdate bool) (*models.Payment, error) {
	return locked(s, func(q *memQueries) (*models.Payment, error) {
		return q.GetPaymentByTransactionCode(ctx, code, forUpdate)
	})
}

func (s *MemoryStore) ListPayments(ctx context.Context, filter models.PaymentListFilter) ([]*models.Payment, error) {
	return locked(s, func(q *memQueries) ([]*models.Payment, error) { return q.ListPayments(ctx, filter) })
}

func (s *MemoryStore) TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, receipt, reason *string) (bool, error) {
	return locked(s, func(q *memQueries) (bool, error) {
		return q.TransitionPayment(ctx, id, from, to, receipt, reason)
	})
}

func (s *MemoryStore) FailPendingPayments(ctx context.Context, orderID, reason string) (int64, error) {
	return locked(s, func(q *memQueries) (int64, error) { return q.FailPendingPayments(ctx, orderID, reason) })
}

func (s *MemoryStore) ExpirePendingPayments(ctx context.Context, createdBefore time.Time, reason string) (int64, error) {
	return locked(s, func(q *memQueries) (int64, error) {
		return q.ExpirePendingPayments(ctx, createdBefore, reason)
	})
}

func (s *MemoryStore) Stats(ctx context.Context) (*models.Stats, error) {
	return locked(s, func(q *memQueries) (*models.Stats, error) { return q.Stats(ctx) })
}

// memQueries runs against state the caller has already locked.
type memQueries struct {
	st *memState
}

func (q *memQueries) CreateProduct(ctx context.Context, p *models.Product) error {
	if _, ok := q.st.products[p.ID]; ok {
		return ErrDuplicate
	}
	q.st.products[p.ID] = copyProduct(*p)
	return nil
}

func (q *memQueries) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, ok := q.st.products[id]
	if !ok {
		return nil, apperrors.NotFound("product")
	}
	out := copyProduct(p)
	return &out, nil
}

func (q *memQueries) UpdateProduct(ctx context.Context, p *models.Product) error {
	if _, ok := q.st.products[p.ID]; !ok {
		return apperrors.NotFound("product")
	}
	q.st.products[p.ID] = copyProduct(*p)
	return nil
}

func (q *memQueries) ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, error) {
	var out []*models.Product
	for _, p := range q.st.products {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		cp := copyProduct(p)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (q *memQueries) EnsureCart(ctx context.Context, userID string) (*models.Cart, error) {
	if _, ok := q.st.cartByUser[userID]; !ok {
		now := time.Now().UTC()
		c := models.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		q.st.carts[c.ID] = c
		q.st.cartByUser[userID] = c.ID
	}
	return q.GetCartByUser(ctx, userID, false)
}

func (q *memQueries) GetCartByUser(ctx context.Context, userID string, forUpdate bool) (*models.Cart, error) {
	id, ok := q.st.cartByUser[userID]
	if !ok {
		return nil, apperrors.NotFound("cart")
	}
	c := q.st.carts[id]
	c.Items = []models.CartItem{}
	return &c, nil
}

func (q *memQueries) withProduct(item models.CartItem) models.CartItem {
	if p, ok := q.st.products[item.ProductID]; ok {
		cp := copyProduct(p)
		item.Product = &cp
	}
	return item
}

func (q *memQueries) ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	items := []models.CartItem{}
	for _, item := range q.st.cartItems {
		if item.CartID == cartID {
			items = append(items, q.withProduct(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (q *memQueries) GetCartItem(ctx context.Context, cartID, itemID string) (*models.CartItem, error) {
	item, ok := q.st.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return nil, apperrors.NotFound("cart item")
	}
	out := q.withProduct(item)
	return &out, nil
}

func (q *memQueries) GetCartItemByProduct(ctx context.Context, cartID, productID string) (*models.CartItem, error) {
	for _, item := range q.st.cartItems {
		if item.CartID == cartID && item.ProductID == productID {
			out := q.withProduct(item)
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("cart item")
}

func (q *memQueries) InsertCartItem(ctx context.Context, item *models.CartItem) error {
	for _, existing := range q.st.cartItems {
		if existing.CartID == item.CartID && existing.ProductID == item.ProductID {
			return ErrDuplicate
		}
	}
	stored := *item
	stored.Product = nil
	q.st.cartItems[item.ID] = stored
	q.touchCart(item.CartID)
	return nil
}

func (q *memQueries) UpdateCartItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	item, ok := q.st.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return apperrors.NotFound("cart item")
	}
	item.Quantity = quantity
	q.st.cartItems[itemID] = item
	q.touchCart(cartID)
	return nil
}

func (q *memQueries) DeleteCartItem(ctx context.Context, cartID, itemID string) error {
	item, ok := q.st.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return apperrors.NotFound("cart item")
	}
	delete(q.st.cartItems, itemID)
	q.touchCart(cartID)
	return nil
}

func (q *memQueries) ClearCart(ctx context.Context, cartID string) (int64, error) {
	var n int64
	for id, item := range q.st.cartItems {
		if item.CartID == cartID {
			delete(q.st.cartItems, id)
			n++
		}
	}
	q.touchCart(cartID)
	return n, nil
}

func (q *memQueries) touchCart(cartID string) {
	if c, ok := q.st.carts[cartID]; ok {
		c.UpdatedAt = time.Now().UTC()
		q.st.carts[cartID] = c
	}
}

func (q *memQueries) CreateOrder(ctx context.Context, o *models.Order) error {
	if _, ok := q.st.orders[o.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range q.st.orders {
		if existing.Code == o.Code {
			return ErrDuplicate
		}
	}
	seen := map[string]bool{}
	for _, item := range o.Items {
		if seen[item.ProductID] {
			return ErrDuplicate
		}
		seen[item.ProductID] = true
	}

	stored := *o
	stored.Items = append([]models.OrderItem(nil), o.Items...)
	for i := range stored.Items {
		stored.Items[i].OrderID = o.ID
	}
	q.st.orders[o.ID] = stored
	return nil
}

func copyOrder(o models.Order) *models.Order {
	o.Items = append([]models.OrderItem{}, o.Items...)
	return &o
}

func (q *memQueries) GetOrder(ctx context.Context, id string, forUpdate bool) (*models.Order, error) {
	o, ok := q.st.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order")
	}
	return copyOrder(o), nil
}

func (q *memQueries) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range q.st.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (q *memQueries) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	o, ok := q.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	q.st.orders[id] = o
	return true, nil
}

func (q *memQueries) CreatePayment(ctx context.Context, p *models.Payment) error {
	if _, ok := q.st.payments[p.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range q.st.payments {
		if existing.TransactionCode == p.TransactionCode {
			return ErrDuplicate
		}
	}
	q.st.payments[p.ID] = *p
	return nil
}

func (q *memQueries) GetPayment(ctx context.Context, id string, forUpdate bool) (*models.Payment, error) {
	p, ok := q.st.payments[id]
	if !ok {
		return nil, apperrors.NotFound("payment")
	}
	return &p, nil
}

func (q *memQueries) GetPaymentByTransactionCode(ctx context.Context, code string, forUpdate bool) (*models.Payment, error) {
	for _, p := range q.st.payments {
		if p.TransactionCode == code {
			out := p
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("payment")
}

func (q *memQueries) ListPayments(ctx context.Context, filter models.PaymentListFilter) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range q.st.payments {
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (q *memQueries) TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, receipt, reason *string) (bool, error) {
	p, ok := q.st.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if receipt != nil {
		r := *receipt
		p.ReceiptRef = &r
	}
	if reason != nil {
		r := *reason
		p.FailureReason = &r
	}
	p.UpdatedAt = time.Now().UTC()
	q.st.payments[id] = p
	return true, nil
}

func (q *memQueries) failWhere(match func(p models.Payment) bool, reason string) int64 {
	var n int64
	now := time.Now().UTC()
	for id, p := range q.st.payments {
		if p.Status != models.PaymentStatusPending || !match(p) {
			continue
		}
		r := reason
		p.Status = models.PaymentStatusFailed
		p.FailureReason = &r
		p.UpdatedAt = now
		q.st.payments[id] = p
		n++
	}
	return n
}

func (q *memQueries) FailPendingPayments(ctx context.Context, orderID, reason string) (int64, error) {
	return q.failWhere(func(p models.Payment) bool { return p.OrderID == orderID }, reason), nil
}

func (q *memQueries) ExpirePendingPayments(ctx context.Context, createdBefore time.Time, reason string) (int64, error) {
	return q.failWhere(func(p models.Payment) bool { return p.CreatedAt.Before(createdBefore) }, reason), nil
}

func (q *memQueries) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{
		OrdersByStatus:   map[models.OrderStatus]int{},
		ProductsByStatus: map[models.ProductStatus]int{},
		PaymentsByStatus: map[models.PaymentStatus]int{},
	}
	for _, o := range q.st.orders {
		stats.OrdersByStatus[o.Status]++
	}
	for _, p := range q.st.products {
		stats.ProductsByStatus[p.Status]++
	}
	for _, p := range q.st.payments {
		stats.PaymentsByStatus[p.Status]++
	}
	return stats, nil
}

func copyProduct(p models.Product) models.Product {
	if p.Media != nil {
		p.Media = append([]string{}, p.Media...)
	} else {
		p.Media = []string{}
	}
	return p
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if a.Equal(b) {
		return idA < idB
	}
	return a.After(b)
}

func page[T any](items []T, limit, offset int) []T {
	limit = normalizeLimit(limit)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
