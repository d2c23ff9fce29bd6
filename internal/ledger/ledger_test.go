package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/models"
)

var shipTo = models.Address{ID: "addr-1", IdentityID: "u1", Name: "Nimal Perera", Line1: "12 Galle Rd", City: "Colombo", Country: "Sri Lanka"}

type fixture struct {
	store  *database.Memory
	events *events.Recorder
	ledger *Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := database.NewMemory(0)
	store.PutProduct(models.Product{ID: "A", Name: "Product A", Price: decimal.NewFromInt(50), IsActive: true})
	store.PutProduct(models.Product{ID: "B", Name: "Product B", Price: decimal.RequireFromString("19.99"), IsActive: true})
	store.SetStock("A", 10)
	store.SetStock("B", 5)
	rec := &events.Recorder{}
	return fixture{store: store, events: rec, ledger: New(store, rec, Config{Currency: "LKR", DeliveryDays: 14})}
}

func (f fixture) onHand(t *testing.T, productID string) int {
	t.Helper()
	rec, err := f.store.Inventory(context.Background(), productID)
	require.NoError(t, err)
	return rec.QuantityOnHand
}

func placeRequest(method models.PaymentMethod, items ...LineItem) PlaceRequest {
	return PlaceRequest{IdentityID: "u1", Address: shipTo, Items: items, Method: method}
}

func TestPlaceCashOnDeliveryScenario(t *testing.T) {
	f := newFixture(t)
	o, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, "100.00", o.Total.StringFixed(2))
	assert.Equal(t, models.StatusDispatchPending, o.Status)
	assert.Equal(t, 8, f.onHand(t, "A"))
	assert.Equal(t, []string{"A"}, o.Reserved)
	assert.Regexp(t, `^ORD-[0-9A-F]{32}$`, o.ID)
	assert.Regexp(t, `^TRK-[0-9A-F]{12}$`, o.TrackingNumber)
	assert.Equal(t, "LKR", o.Currency)
	assert.Equal(t, o.CreatedAt.AddDate(0, 0, 14), o.EstimatedDeliveryAt)
	assert.Equal(t, shipTo.Line1, o.Address.Line1)
	assert.Equal(t, []string{events.OrderPlaced}, f.events.Types(o.ID))
}

func TestPlaceGatewayStartsPaymentPending(t *testing.T) {
	f := newFixture(t)
	o, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentGateway, LineItem{ProductID: "B", Quantity: 3}))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, o.Status)
	assert.Equal(t, "59.97", o.Total.StringFixed(2))
	assert.Equal(t, 2, f.onHand(t, "B"))
}

func TestPlaceOutOfStockLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock("A", 1)

	_, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentCashOnDelivery,
		LineItem{ProductID: "B", Quantity: 2},
		LineItem{ProductID: "A", Quantity: 2},
	))

	var stock apperr.OutOfStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, "A", stock.ProductID)
	assert.Equal(t, 1, stock.Available)
	assert.Equal(t, 2, stock.Requested)

	assert.Equal(t, 1, f.onHand(t, "A"))
	assert.Equal(t, 5, f.onHand(t, "B"), "already applied decrements are returned")

	orders, err := f.store.Orders(context.Background(), models.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceAggregatesQuantitiesPerProduct(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock("A", 3)

	_, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentCashOnDelivery,
		LineItem{ProductID: "A", Quantity: 2, Options: models.CartOptions{Color: "red"}},
		LineItem{ProductID: "A", Quantity: 2, Options: models.CartOptions{Color: "blue"}},
	))
	var stock apperr.OutOfStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, 4, stock.Requested)
	assert.Equal(t, 3, f.onHand(t, "A"))
}

func TestPlaceValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]PlaceRequest{
		"empty cart":     placeRequest(models.PaymentCashOnDelivery),
		"zero quantity":  placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A"}),
		"no address":     {IdentityID: "u1", Items: []LineItem{{ProductID: "A", Quantity: 1}}, Method: models.PaymentGateway},
		"unknown method": {IdentityID: "u1", Address: shipTo, Items: []LineItem{{ProductID: "A", Quantity: 1}}, Method: "cheque"},
		"unknown item":   placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "Z", Quantity: 1}),
	}
	for name, req := range cases {
		_, err := f.ledger.Place(ctx, req)
		assert.True(t, apperr.IsValidation(err), name)
	}
	assert.Equal(t, 10, f.onHand(t, "A"))
}

func TestPlaceIdempotencyKeyReturnsSameOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 1})
	req.IdempotencyKey = "k-1"

	first, err := f.ledger.Place(ctx, req)
	require.NoError(t, err)
	second, err := f.ledger.Place(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 9, f.onHand(t, "A"))
}

// racingStore hides the stored key from the first lookups and runs a second
// placement while the first one is reserving stock.
type racingStore struct {
	*database.Memory
	misses int
	during func()
}

func (s *racingStore) OrderByIdempotencyKey(ctx context.Context, identityID, key string) (models.Order, error) {
	if s.misses > 0 {
		s.misses--
		return models.Order{}, database.ErrNotFound
	}
	return s.Memory.OrderByIdempotencyKey(ctx, identityID, key)
}

func (s *racingStore) DecrementStock(ctx context.Context, productID string, qty int) error {
	if during := s.during; during != nil {
		s.during = nil
		during()
	}
	return s.Memory.DecrementStock(ctx, productID, qty)
}

func TestPlaceSameKeyWhileReservingTakesStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &racingStore{Memory: f.store, misses: 2}
	l := New(store, f.events, Config{Currency: "LKR", DeliveryDays: 14})

	req := placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 2})
	req.IdempotencyKey = "k1"

	var secondErr error
	store.during = func() {
		_, secondErr = l.Place(ctx, req)
	}

	first, err := l.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatchPending, first.Status)

	require.ErrorIs(t, secondErr, apperr.ErrInvalidTransition)
	assert.Equal(t, 8, f.onHand(t, "A"))

	orders, err := f.store.Orders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	replayed, err := l.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, 8, f.onHand(t, "A"))
}

func TestPlaceReplayOfPendingOrderIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertOrder(ctx, models.Order{
		ID:             "ORD-PENDING",
		TrackingNumber: "TRK-PENDING",
		IdentityID:     "u1",
		IdempotencyKey: "k2",
		Status:         models.StatusPending,
	}))

	req := placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 1})
	req.IdempotencyKey = "k2"
	o, err := f.ledger.Place(ctx, req)

	var transition apperr.TransitionError
	require.True(t, errors.As(err, &transition))
	assert.Contains(t, transition.Reason, "in progress")
	assert.Empty(t, o.ID)
	assert.Equal(t, 10, f.onHand(t, "A"))
}

func TestOrderTotalIgnoresLaterPriceChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placed, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)

	f.store.PutProduct(models.Product{ID: "A", Name: "Product A", Price: decimal.NewFromInt(75), IsActive: true})

	got, err := f.ledger.Order(ctx, placed.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.NewFromInt(50)))
}

func TestPlaceUsesSalePrice(t *testing.T) {
	f := newFixture(t)
	f.store.PutProduct(models.Product{ID: "A", Name: "Product A", Price: decimal.NewFromInt(50), SaleEnabled: true, SalePrice: decimal.NewFromInt(40), IsActive: true})

	o, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)
	assert.Equal(t, "80.00", o.Total.StringFixed(2))
}

func TestPlaceInfrastructureFailureCompensates(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext = func(op string) error {
		if op == "RecordReservation" {
			return errors.New("write timeout")
		}
		return nil
	}

	_, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 2}))
	require.Error(t, err)
	assert.False(t, apperr.IsValidation(err))
	assert.Equal(t, 10, f.onHand(t, "A"))

	f.store.FailNext = nil
	orders, _ := f.store.Orders(context.Background(), models.OrderFilter{})
	assert.Empty(t, orders)
}

func TestPlaceFailedCompensationLeavesPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock("B", 0)
	f.store.FailNext = func(op string) error {
		if op == "ClaimRestock" {
			return errors.New("store unavailable")
		}
		return nil
	}

	_, err := f.ledger.Place(context.Background(), placeRequest(models.PaymentCashOnDelivery,
		LineItem{ProductID: "A", Quantity: 2},
		LineItem{ProductID: "B", Quantity: 1},
	))
	var stock apperr.OutOfStockError
	require.True(t, errors.As(err, &stock))

	f.store.FailNext = nil
	pending, err := f.store.Orders(context.Background(), models.OrderFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"A"}, pending[0].Reserved)
	assert.Equal(t, 8, f.onHand(t, "A"))
}

func TestCancelTwiceRestoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentCashOnDelivery,
		LineItem{ProductID: "A", Quantity: 2},
		LineItem{ProductID: "B", Quantity: 1},
	))
	require.NoError(t, err)
	require.Equal(t, 8, f.onHand(t, "A"))

	cancelled, err := f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: "staff-1", Reason: "customer request"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.onHand(t, "A"))
	assert.Equal(t, 5, f.onHand(t, "B"))

	_, err = f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: "staff-1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, 10, f.onHand(t, "A"))
	assert.Equal(t, 5, f.onHand(t, "B"))
	assert.Equal(t, []string{events.OrderPlaced, events.OrderCancelled}, f.events.Types(o.ID))
}

func TestCancelResumesInterruptedRestock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentCashOnDelivery,
		LineItem{ProductID: "A", Quantity: 2},
		LineItem{ProductID: "B", Quantity: 1},
	))
	require.NoError(t, err)

	claims := 0
	f.store.FailNext = func(op string) error {
		if op == "ClaimRestock" {
			claims++
			if claims == 2 {
				return errors.New("connection reset")
			}
		}
		return nil
	}
	_, err = f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: "staff-1"})
	require.Error(t, err)
	assert.Equal(t, 10, f.onHand(t, "A"))
	assert.Equal(t, 4, f.onHand(t, "B"))

	f.store.FailNext = nil
	_, err = f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: "staff-1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, 10, f.onHand(t, "A"))
	assert.Equal(t, 5, f.onHand(t, "B"))
}

func TestConcurrentCancelsRestoreOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 3}))
	require.NoError(t, err)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: "staff"})
			done <- err
		}()
	}
	succeeded := 0
	for i := 0; i < 8; i++ {
		if <-done == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 10, f.onHand(t, "A"))
}

func TestCancelDeliveredIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)
	_, err = f.ledger.Advance(ctx, o.ID, models.StatusDispatchPending, models.StatusDelivered, models.StatusChange{Actor: "staff"})
	require.NoError(t, err)

	_, err = f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: "staff"})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, 9, f.onHand(t, "A"))
}

func TestDeleteRestocksLiveOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 4}))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Delete(ctx, o.ID, models.StatusChange{Actor: "admin"}))
	assert.Equal(t, 10, f.onHand(t, "A"))

	_, err = f.ledger.Order(ctx, o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, f.ledger.Delete(ctx, o.ID, models.StatusChange{Actor: "admin"}), apperr.ErrNotFound)
}

func paymentFor(o models.Order) PaymentResult {
	return PaymentResult{OrderID: o.ID, PaymentID: "pay-1", Amount: o.Total, Currency: o.Currency}
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)

	paid, err := f.ledger.ConfirmPayment(ctx, paymentFor(o))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatchPending, paid.Status)
	assert.Equal(t, "pay-1", paid.PaymentID)

	again, err := f.ledger.ConfirmPayment(ctx, paymentFor(o))
	assert.ErrorIs(t, err, apperr.ErrDuplicateCallback)
	assert.Equal(t, models.StatusDispatchPending, again.Status)
	assert.Equal(t, 8, f.onHand(t, "A"))
	assert.Len(t, again.History, len(paid.History))
}

func TestConfirmPaymentRejectsWrongAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)

	res := paymentFor(o)
	res.Amount = decimal.NewFromInt(1)
	_, err = f.ledger.ConfirmPayment(ctx, res)
	assert.ErrorIs(t, err, apperr.ErrAmountMismatch)

	got, _ := f.ledger.Order(ctx, o.ID)
	assert.Equal(t, models.StatusPaymentPending, got.Status)
	last := got.History[len(got.History)-1]
	assert.True(t, last.Rejected)
}

func TestConfirmPaymentAfterCancellationOnlyAnnotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: ActorSweeper, Reason: "payment_timeout"})
	require.NoError(t, err)

	_, err = f.ledger.ConfirmPayment(ctx, paymentFor(o))
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, _ := f.ledger.Order(ctx, o.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.True(t, got.History[len(got.History)-1].Rejected)
	assert.Equal(t, 10, f.onHand(t, "A"))
}

func TestFailPaymentCancelsAndRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)

	res := paymentFor(o)
	res.Reason = "failed"
	cancelled, err := f.ledger.FailPayment(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.onHand(t, "A"))

	_, err = f.ledger.FailPayment(ctx, res)
	assert.ErrorIs(t, err, apperr.ErrDuplicateCallback)
	assert.Equal(t, 10, f.onHand(t, "A"))
}

func TestSwitchToCashOnDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)

	_, err = f.ledger.SwitchToCashOnDelivery(ctx, "someone-else", o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	switched, err := f.ledger.SwitchToCashOnDelivery(ctx, "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatchPending, switched.Status)
	assert.Equal(t, models.PaymentCashOnDelivery, switched.PaymentMethod)

	_, err = f.ledger.SwitchToCashOnDelivery(ctx, "u1", o.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.ledger.ConfirmPayment(ctx, paymentFor(o))
	assert.ErrorIs(t, err, apperr.ErrDuplicateCallback)
}

func TestTrackAndLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, err := f.ledger.Place(ctx, placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)

	tracked, err := f.ledger.Track(ctx, " "+o.TrackingNumber+" ")
	require.NoError(t, err)
	assert.Equal(t, o.ID, tracked.ID)

	_, err = f.ledger.Track(ctx, "TRK-NOPE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mine, err := f.ledger.OrdersForIdentity(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = f.ledger.OrderForIdentity(ctx, "u2", o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSweeperExpiresStaleOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now()

	f.ledger.now = func() time.Time { return base.Add(-2 * time.Hour) }
	stale, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 2}))
	require.NoError(t, err)
	cod, err := f.ledger.Place(ctx, placeRequest(models.PaymentCashOnDelivery, LineItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)

	f.ledger.now = func() time.Time { return base }
	fresh, err := f.ledger.Place(ctx, placeRequest(models.PaymentGateway, LineItem{ProductID: "A", Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, 6, f.onHand(t, "A"))

	sweeper := NewSweeper(f.ledger, time.Hour, 10*time.Minute)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 8, f.onHand(t, "A"))

	for id, want := range map[string]models.OrderStatus{
		stale.ID: models.StatusCancelled,
		cod.ID:   models.StatusDispatchPending,
		fresh.ID: models.StatusPaymentPending,
	} {
		got, err := f.ledger.Order(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperRecoversInterruptedPlacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	f.store.SetStock("A", 7)

	require.NoError(t, f.store.InsertOrder(ctx, models.Order{
		ID: "ORD-CRASHED", IdentityID: "u1", TrackingNumber: "TRK-CRASHED", Status: models.StatusPending,
		Items:    []models.OrderItem{{ProductID: "A", Quantity: 3}},
		Reserved: []string{"A"}, Restocked: []string{}, CreatedAt: old,
	}))

	n, err := NewSweeper(f.ledger, time.Hour, 10*time.Minute).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 10, f.onHand(t, "A"))
}

func TestReceiveAddsStock(t *testing.T) {
	f := newFixture(t)

	rec, err := f.ledger.Receive(context.Background(), "A", 5)
	require.NoError(t, err)
	assert.Equal(t, 15, rec.QuantityOnHand)

	_, err = f.ledger.Receive(context.Background(), "A", 0)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.ledger.Receive(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
