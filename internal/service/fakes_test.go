package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

type debtRow struct {
	ClientID string
	Status   models.DebtStatus
	PaidAt   *time.Time
}

// memStore is an in-memory stand-in for the payment, order and debt tables.
// It follows the same conditional-write rules as the SQL repositories.
type memStore struct {
	mu             sync.Mutex
	payments       map[string]*models.Payment
	orders         map[string]*models.Order
	orderByPayment map[string]string
	items          []models.OrderItem
	debts          []*debtRow
	writes         int

	createOrderErr error
	insertItemsErr error
	// settleErrs are returned by SettlePending one per call before it succeeds.
	settleErrs []error
}

func newMemStore() *memStore {
	return &memStore{
		payments:       map[string]*models.Payment{},
		orders:         map[string]*models.Order{},
		orderByPayment: map[string]string{},
	}
}

func (s *memStore) addPayment(p models.Payment) *models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PaymentPending
	}
	s.payments[p.ID] = &p
	return &p
}

func (s *memStore) addOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = &o
	if o.PaymentID != nil {
		s.orderByPayment[*o.PaymentID] = o.ID
	}
}

func (s *memStore) addDebt(clientID string) *debtRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &debtRow{ClientID: clientID, Status: models.DebtPending}
	s.debts = append(s.debts, d)
	return d
}

func (s *memStore) payment(id string) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[id]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) itemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func strPtr(s string) *string { return &s }

// PaymentRepository

func (s *memStore) Create(_ context.Context, p models.NewPayment) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	row := &models.Payment{
		ID:               id,
		OrderID:          p.OrderID,
		PreferenceID:     p.PreferenceID,
		GatewayPaymentID: p.GatewayPaymentID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		PaymentMethod:    p.PaymentMethod,
		Status:           p.Status,
		GatewayStatus:    p.GatewayStatus,
		StatusDetail:     p.StatusDetail,
		InitPoint:        p.InitPoint,
		ClientDebtAmount: p.ClientDebtAmount,
		OrderData:        p.OrderData,
		CreatedAt:        now,
		UpdatedAt:        now,
		PaidAt:           p.PaidAt,
	}
	s.payments[id] = row
	cp := *row
	return &cp, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPaymentNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetByPreferenceID(_ context.Context, preferenceID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.PreferenceID != nil && *p.PreferenceID == preferenceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: preference %s", apperrors.ErrPaymentRecordNotFound, preferenceID)
}

func (s *memStore) ApplyNotification(_ context.Context, id string, upd models.PaymentUpdate) (models.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrPaymentNotFound, id)
	}
	s.writes++
	previous := p.Status
	if p.OrderID == nil && upd.OrderID != nil {
		p.OrderID = strPtr(*upd.OrderID)
	}
	if previous != models.PaymentCompleted {
		p.GatewayPaymentID = strPtr(upd.GatewayPaymentID)
		p.Status = upd.Status
		p.GatewayStatus = strPtr(upd.GatewayStatus)
		p.StatusDetail = strPtr(upd.StatusDetail)
	}
	if upd.Status == models.PaymentCompleted && p.PaidAt == nil {
		now := time.Now()
		p.PaidAt = &now
	}
	return previous, nil
}

func (s *memStore) MarkFailed(_ context.Context, id, gatewayPaymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if p, ok := s.payments[id]; ok && p.Status != models.PaymentCompleted {
		p.Status = models.PaymentFailed
		p.GatewayPaymentID = strPtr(gatewayPaymentID)
	}
	return nil
}

func (s *memStore) MarkDebtSettled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.DebtSettledAt != nil {
		return false, nil
	}
	s.writes++
	now := time.Now()
	p.DebtSettledAt = &now
	return true, nil
}

func (s *memStore) UpdateGatewayStatus(_ context.Context, id string, status models.PaymentStatus, gatewayStatus, statusDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	p, ok := s.payments[id]
	if !ok {
		return nil
	}
	if p.Status != models.PaymentCompleted {
		p.Status = status
	}
	p.GatewayStatus = strPtr(gatewayStatus)
	p.StatusDetail = strPtr(statusDetail)
	return nil
}

func (s *memStore) SetPreferenceForOrder(_ context.Context, orderID, preferenceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	var n int64
	for _, p := range s.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			p.PreferenceID = strPtr(preferenceID)
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpdateByOrderID(_ context.Context, orderID, gatewayPaymentID string, status models.PaymentStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	var n int64
	for _, p := range s.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			p.GatewayPaymentID = strPtr(gatewayPaymentID)
			if p.Status != models.PaymentCompleted {
				p.Status = status
			}
			n++
		}
	}
	return n, nil
}

// OrderRepository

type memOrders struct{ *memStore }

func (s memOrders) CreateForPayment(_ context.Context, o models.NewOrder) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createOrderErr != nil {
		return "", false, s.createOrderErr
	}
	if id, ok := s.orderByPayment[o.PaymentID]; ok {
		return id, false, nil
	}
	s.writes++
	id := uuid.NewString()
	s.orders[id] = &models.Order{
		ID:            id,
		UserID:        o.Data.UserID,
		RestaurantID:  o.Data.RestaurantID,
		TotalAmount:   o.Data.TotalAmount,
		PaymentMethod: models.PaymentMethodCard,
		Status:        models.OrderPending,
		PaymentID:     strPtr(o.PaymentID),
		CreatedAt:     time.Now(),
	}
	s.orderByPayment[o.PaymentID] = id
	return id, true, nil
}

func (s memOrders) InsertItems(_ context.Context, items []models.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertItemsErr != nil {
		return s.insertItemsErr
	}
	s.writes++
	s.items = append(s.items, items...)
	return nil
}

func (s memOrders) GetByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s memOrders) GetUserID(ctx context.Context, orderID string) (string, error) {
	o, err := s.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.UserID, nil
}

func (s memOrders) MarkPaid(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if o, ok := s.orders[orderID]; ok {
		o.PaymentStatus = strPtr("paid")
	}
	return nil
}

// DebtRepository

func (s *memStore) SettlePending(_ context.Context, clientID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.settleErrs) > 0 {
		err := s.settleErrs[0]
		s.settleErrs = s.settleErrs[1:]
		return 0, err
	}
	var n int64
	for _, d := range s.debts {
		if d.ClientID == clientID && d.Status == models.DebtPending {
			d.Status = models.DebtPaid
			paidAt := at
			d.PaidAt = &paidAt
			n++
		}
	}
	if n > 0 {
		s.writes++
	}
	return n, nil
}

// mockGateway is a testify mock of the gateway client.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*gateway.Payment); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CreatePreference(ctx context.Context, req gateway.PreferenceRequest) (*gateway.Preference, error) {
	args := m.Called(ctx, req)
	if p, ok := args.Get(0).(*gateway.Preference); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CreateCardToken(ctx context.Context, req gateway.CardTokenRequest) (*gateway.CardToken, error) {
	args := m.Called(ctx, req)
	if t, ok := args.Get(0).(*gateway.CardToken); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CreatePayment(ctx context.Context, req gateway.PaymentRequest, idempotencyKey string) (*gateway.Payment, error) {
	args := m.Called(ctx, req, idempotencyKey)
	if p, ok := args.Get(0).(*gateway.Payment); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PaymentStatusChanged
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if e, ok := event.(models.PaymentStatusChanged); ok {
		p.events = append(p.events, e)
	}
	return nil
}
