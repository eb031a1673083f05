package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

type reconcilerFixture struct {
	store     *memStore
	gw        *mockGateway
	locker    *fakeLocker
	publisher *recordingPublisher
	rec       *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store:     newMemStore(),
		gw:        &mockGateway{},
		locker:    newFakeLocker(),
		publisher: &recordingPublisher{},
	}
	f.rec = NewReconciler(f.store, memOrders{f.store}, f.store, f.gw, f.locker, f.publisher, 30*time.Second, zap.NewNop())
	f.rec.now = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }
	return f
}

func paymentNotification(id string) models.Notification {
	var n models.Notification
	n.Type = models.NotificationPayment
	n.Data.ID = models.GatewayID(id)
	return n
}

func gatewayPayment(id, status, preferenceID string, clientDebt string) *gateway.Payment {
	p := &gateway.Payment{
		ID:                models.GatewayID(id),
		Status:            status,
		StatusDetail:      "detail_" + status,
		ExternalReference: "pending_creation",
		PreferenceID:      preferenceID,
	}
	if clientDebt != "" {
		p.Metadata.ClientDebtRaw = json.RawMessage(clientDebt)
	}
	return p
}

func deferredOrderData() *models.OrderData {
	return &models.OrderData{
		UserID:          "client-1",
		RestaurantID:    "rest-1",
		TotalAmount:     decimal.RequireFromString("135.00"),
		DeliveryAddress: "Av. Reforma 222",
		Items: []models.OrderItemData{
			{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(25), PriceAtTimeOfOrder: decimal.NewFromInt(25)},
			{ProductID: "p-2", Quantity: 1, UnitPrice: decimal.NewFromInt(50), PriceAtTimeOfOrder: decimal.NewFromInt(50)},
		},
	}
}

func TestReconciler_IgnoresOtherKinds(t *testing.T) {
	f := newReconcilerFixture(t)

	for _, kind := range []models.NotificationKind{models.NotificationMerchantOrder, "subscription", ""} {
		var n models.Notification
		n.Type = kind
		n.Data.ID = "123"

		result, err := f.rec.Reconcile(context.Background(), n)

		require.NoError(t, err)
		assert.False(t, result.Handled)
	}

	assert.Zero(t, f.store.writeCount())
	f.gw.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
}

func TestReconciler_MissingPaymentID(t *testing.T) {
	f := newReconcilerFixture(t)

	_, err := f.rec.Reconcile(context.Background(), paymentNotification(""))

	assert.True(t, apperrors.IsValidation(err))
	f.gw.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
}

func TestReconciler_StatusMapping(t *testing.T) {
	tests := []struct {
		gatewayStatus string
		want          models.PaymentStatus
	}{
		{"approved", models.PaymentCompleted},
		{"rejected", models.PaymentFailed},
		{"pending", models.PaymentPending},
		{"in_process", models.PaymentPending},
		{"cancelled", models.PaymentPending},
		{"", models.PaymentPending},
	}

	for _, tt := range tests {
		t.Run(tt.gatewayStatus, func(t *testing.T) {
			f := newReconcilerFixture(t)
			payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderID: strPtr("order-1")})
			f.gw.On("GetPayment", mock.Anything, "555").Return(gatewayPayment("555", tt.gatewayStatus, "pref-1", ""), nil)

			result, err := f.rec.Reconcile(context.Background(), paymentNotification("555"))

			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			stored := f.store.payment(payment.ID)
			assert.Equal(t, tt.want, stored.Status)
			assert.Equal(t, "555", *stored.GatewayPaymentID)
		})
	}
}

func TestReconciler_DeferredOrderOnPendingPayment(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	f.gw.On("GetPayment", mock.Anything, "777").Return(gatewayPayment("777", "pending", "pref-1", ""), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("777"))

	require.NoError(t, err)
	assert.True(t, result.Handled)
	assert.True(t, result.OrderCreated)
	assert.Equal(t, 1, f.store.orderCount())
	assert.Equal(t, 2, f.store.itemCount())

	stored := f.store.payment(payment.ID)
	require.NotNil(t, stored.OrderID)
	assert.Equal(t, result.OrderID, *stored.OrderID)
	assert.Equal(t, models.PaymentPending, stored.Status)
	assert.Empty(t, f.publisher.events, "status did not change")
}

func TestReconciler_DuplicateDelivery(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	f.gw.On("GetPayment", mock.Anything, "777").Return(gatewayPayment("777", "pending", "pref-1", ""), nil)

	first, err := f.rec.Reconcile(context.Background(), paymentNotification("777"))
	require.NoError(t, err)
	second, err := f.rec.Reconcile(context.Background(), paymentNotification("777"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.orderCount())
	assert.Equal(t, 2, f.store.itemCount())
	assert.False(t, second.OrderCreated)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.OrderID, *f.store.payment(payment.ID).OrderID)
}

func TestReconciler_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newReconcilerFixture(t)
	// No lock: only the datastore guards are left.
	f.rec.locker = nil
	f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	f.gw.On("GetPayment", mock.Anything, "777").Return(gatewayPayment("777", "approved", "pref-1", ""), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.Reconcile(context.Background(), paymentNotification("777"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.orderCount())
	assert.Equal(t, 2, f.store.itemCount())
}

func TestReconciler_OrderAlreadyCreatedByConcurrentDelivery(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	// The other delivery inserted the order but has not updated the payment yet.
	f.store.addOrder(models.Order{ID: "order-race", UserID: "client-1", Status: models.OrderPending, PaymentID: strPtr(payment.ID)})
	f.gw.On("GetPayment", mock.Anything, "777").Return(gatewayPayment("777", "pending", "pref-1", ""), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("777"))

	require.NoError(t, err)
	assert.False(t, result.OrderCreated)
	assert.Equal(t, "order-race", result.OrderID)
	assert.Equal(t, 0, f.store.itemCount(), "items belong to the delivery that created the order")
	assert.Equal(t, "order-race", *f.store.payment(payment.ID).OrderID)
}

func TestReconciler_SettlesDebtOnApproval(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	debt := f.store.addDebt("client-1")
	other := f.store.addDebt("client-2")
	f.gw.On("GetPayment", mock.Anything, "900").Return(gatewayPayment("900", "approved", "pref-1", "50"), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("900"))

	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, result.Status)
	assert.Equal(t, int64(1), result.DebtsSettled)
	assert.Equal(t, models.DebtPaid, debt.Status)
	require.NotNil(t, debt.PaidAt)
	assert.Equal(t, f.rec.now().UTC(), *debt.PaidAt)
	assert.Equal(t, models.DebtPending, other.Status)
	assert.NotNil(t, f.store.payment(payment.ID).PaidAt)
	assert.NotNil(t, f.store.payment(payment.ID).DebtSettledAt)

	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.Equal(t, payment.ID, event.PaymentID)
	assert.Equal(t, models.PaymentCompleted, event.Status)
	assert.Equal(t, models.PaymentPending, event.PreviousStatus)
	assert.Equal(t, "900", event.GatewayPaymentID)
	assert.Equal(t, result.OrderID, event.OrderID)

	// Redelivery after a new debt appears must not settle it.
	late := f.store.addDebt("client-1")
	again, err := f.rec.Reconcile(context.Background(), paymentNotification("900"))
	require.NoError(t, err)
	assert.Zero(t, again.DebtsSettled)
	assert.Equal(t, models.DebtPending, late.Status)
	assert.Len(t, f.publisher.events, 1)
}

func TestReconciler_DebtSettlementRetriedOnRedelivery(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	debt := f.store.addDebt("client-1")
	f.store.settleErrs = []error{errors.New("connection reset by peer")}
	f.gw.On("GetPayment", mock.Anything, "910").Return(gatewayPayment("910", "approved", "pref-1", "50"), nil)

	_, err := f.rec.Reconcile(context.Background(), paymentNotification("910"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Equal(t, models.DebtPending, debt.Status)
	assert.Equal(t, models.PaymentCompleted, f.store.payment(payment.ID).Status)
	assert.Nil(t, f.store.payment(payment.ID).DebtSettledAt)
	require.Len(t, f.publisher.events, 1)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("910"))

	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DebtsSettled)
	assert.Equal(t, models.DebtPaid, debt.Status)
	assert.NotNil(t, f.store.payment(payment.ID).DebtSettledAt)
	assert.Equal(t, 1, f.store.orderCount())
	assert.Len(t, f.publisher.events, 1, "status change is published once")
}

func TestReconciler_NoDebtWritesWithoutClientDebt(t *testing.T) {
	for _, debtHint := range []string{"", "0", `"50"`, "-10", "null"} {
		t.Run("client_debt="+debtHint, func(t *testing.T) {
			f := newReconcilerFixture(t)
			f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
			debt := f.store.addDebt("client-1")
			f.gw.On("GetPayment", mock.Anything, "900").Return(gatewayPayment("900", "approved", "pref-1", debtHint), nil)

			result, err := f.rec.Reconcile(context.Background(), paymentNotification("900"))

			require.NoError(t, err)
			assert.Zero(t, result.DebtsSettled)
			assert.Equal(t, models.DebtPending, debt.Status)
			assert.Nil(t, debt.PaidAt)
		})
	}
}

func TestReconciler_Rejected(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.addOrder(models.Order{ID: "order-1", UserID: "client-1", Status: models.OrderPending})
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderID: strPtr("order-1")})
	debt := f.store.addDebt("client-1")
	f.gw.On("GetPayment", mock.Anything, "901").Return(gatewayPayment("901", "rejected", "pref-1", "50"), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("901"))

	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, result.Status)
	stored := f.store.payment(payment.ID)
	assert.Equal(t, models.PaymentFailed, stored.Status)
	assert.Equal(t, "rejected", *stored.GatewayStatus)
	assert.Nil(t, stored.PaidAt)

	order, err := memOrders{f.store}.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, models.DebtPending, debt.Status)
	assert.Equal(t, 1, f.store.orderCount())
}

func TestReconciler_CompletedIsSticky(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{
		PreferenceID:     strPtr("pref-1"),
		OrderID:          strPtr("order-1"),
		Status:           models.PaymentCompleted,
		GatewayPaymentID: strPtr("902"),
	})
	f.gw.On("GetPayment", mock.Anything, "902").Return(gatewayPayment("902", "in_process", "pref-1", ""), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("902"))

	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, result.Status)
	assert.Equal(t, models.PaymentCompleted, f.store.payment(payment.ID).Status)
	assert.Empty(t, f.publisher.events)
}

func TestReconciler_MissingPaymentRecord(t *testing.T) {
	f := newReconcilerFixture(t)
	f.gw.On("GetPayment", mock.Anything, "404").Return(gatewayPayment("404", "approved", "pref-unknown", "50"), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("404"))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrPaymentRecordNotFound)
	assert.Zero(t, f.store.writeCount())
	assert.Empty(t, f.publisher.events)
}

func TestReconciler_OrderCreationFailureMarksPaymentFailed(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	f.store.createOrderErr = errors.New("restaurant_id violates foreign key")
	f.gw.On("GetPayment", mock.Anything, "903").Return(gatewayPayment("903", "approved", "pref-1", ""), nil)

	_, err := f.rec.Reconcile(context.Background(), paymentNotification("903"))

	var orderErr *apperrors.OrderCreationError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, payment.ID, orderErr.PaymentID)

	stored := f.store.payment(payment.ID)
	assert.Equal(t, models.PaymentFailed, stored.Status)
	assert.Equal(t, "903", *stored.GatewayPaymentID)
	assert.Nil(t, stored.OrderID)
}

func TestReconciler_ItemFailureDoesNotFailNotification(t *testing.T) {
	f := newReconcilerFixture(t)
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	f.store.insertItemsErr = errors.New("product not found")
	f.gw.On("GetPayment", mock.Anything, "904").Return(gatewayPayment("904", "approved", "pref-1", ""), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("904"))

	require.NoError(t, err)
	assert.True(t, result.OrderCreated)
	assert.Equal(t, models.PaymentCompleted, f.store.payment(payment.ID).Status)
	assert.Equal(t, 0, f.store.itemCount())
}

func TestReconciler_GatewayFailure(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderData: deferredOrderData()})
	upstream := &apperrors.UpstreamFetchError{Operation: "get_payment", StatusCode: 502, Message: "bad gateway"}
	f.gw.On("GetPayment", mock.Anything, "905").Return(nil, upstream)

	_, err := f.rec.Reconcile(context.Background(), paymentNotification("905"))

	var fetchErr *apperrors.UpstreamFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 502, fetchErr.StatusCode)
	assert.Zero(t, f.store.writeCount())
	assert.Empty(t, f.locker.held, "lock released after failure")
}

func TestReconciler_LockHeldByAnotherDelivery(t *testing.T) {
	f := newReconcilerFixture(t)
	f.locker.held["notification_lock:906"] = true

	_, err := f.rec.Reconcile(context.Background(), paymentNotification("906"))

	assert.ErrorIs(t, err, apperrors.ErrNotificationInFlight)
	f.gw.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
}

func TestReconciler_LockUnavailableContinues(t *testing.T) {
	f := newReconcilerFixture(t)
	f.locker.err = errors.New("dial tcp: connection refused")
	payment := f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderID: strPtr("order-1")})
	f.gw.On("GetPayment", mock.Anything, "907").Return(gatewayPayment("907", "approved", "pref-1", ""), nil)

	_, err := f.rec.Reconcile(context.Background(), paymentNotification("907"))

	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, f.store.payment(payment.ID).Status)
}

func TestReconciler_PublishFailureIsNotFatal(t *testing.T) {
	f := newReconcilerFixture(t)
	f.publisher.err = errors.New("broker unavailable")
	f.store.addPayment(models.Payment{PreferenceID: strPtr("pref-1"), OrderID: strPtr("order-1")})
	f.gw.On("GetPayment", mock.Anything, "908").Return(gatewayPayment("908", "approved", "pref-1", ""), nil)

	result, err := f.rec.Reconcile(context.Background(), paymentNotification("908"))

	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, result.Status)
}
