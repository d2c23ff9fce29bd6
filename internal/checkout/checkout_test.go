package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/addressbook"
	"storefront/internal/apperr"
	"storefront/internal/cart"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/payment"
)

const (
	merchantID = "1211149"
	secret     = "secret"
)

type fixture struct {
	store *database.Memory
	carts *cart.Service
	book  *addressbook.Book
	svc   *Service
}

func newFixture(t *testing.T, gateway payment.Gateway) fixture {
	t.Helper()
	store := database.NewMemory(0)
	store.PutProduct(models.Product{ID: "A", Name: "Product A", Price: decimal.NewFromInt(50), IsActive: true})
	store.SetStock("A", 10)

	if gateway == nil {
		gateway = payment.NewPayHere(payment.Config{MerchantID: merchantID, Secret: secret})
	}
	carts := cart.NewService(store, store)
	book := addressbook.New(store, time.Hour)
	l := ledger.New(store, &events.Recorder{}, ledger.Config{Currency: "LKR"})
	svc := NewService(carts, book, l,
		payment.NewNegotiator(gateway, time.Second, "https://shop.example/thankyou"),
		payment.NewVerifier(merchantID, secret),
		store,
	)
	return fixture{store: store, carts: carts, book: book, svc: svc}
}

// ready puts two units of A in the cart of u1 and selects an address.
func (f fixture) ready(t *testing.T) models.CheckoutSession {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, models.IdentityCart("u1"), "A", models.CartOptions{}, 2)
	require.NoError(t, err)
	addr, err := f.book.AddAddress(ctx, "u1", models.AddressFields{Name: "Nimal Perera", Line1: "12 Galle Rd", City: "Colombo", Country: "Sri Lanka"})
	require.NoError(t, err)
	session, err := f.svc.Begin(ctx, "u1")
	require.NoError(t, err)
	_, err = f.svc.SelectAddress(ctx, session.ID, "u1", addr.ID)
	require.NoError(t, err)
	return session
}

func (f fixture) onHand(t *testing.T) int {
	t.Helper()
	rec, err := f.store.Inventory(context.Background(), "A")
	require.NoError(t, err)
	return rec.QuantityOnHand
}

func notify(orderID, amount, status string) payment.Notification {
	return payment.Notification{
		MerchantID: merchantID,
		OrderID:    orderID,
		PaymentID:  "320025071",
		Amount:     amount,
		Currency:   "LKR",
		StatusCode: status,
		Signature:  payment.NotifySignature(merchantID, orderID, amount, "LKR", status, secret),
	}
}

func TestBeginRefusesEmptyCart(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Begin(context.Background(), "u1")
	assert.True(t, apperr.IsValidation(err))
}

func TestPlaceRequiresSelectedAddress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, models.IdentityCart("u1"), "A", models.CartOptions{}, 1)
	require.NoError(t, err)
	session, err := f.svc.Begin(ctx, "u1")
	require.NoError(t, err)

	_, err = f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentCashOnDelivery})
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 10, f.onHand(t))
}

func TestPlaceCashOnDeliveryClearsCart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)

	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentCashOnDelivery})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatchPending, res.Order.Status)
	assert.Equal(t, "100.00", res.Order.Total.StringFixed(2))
	assert.Equal(t, models.PaymentCashOnDelivery, res.Handoff.Method)
	assert.Equal(t, "https://shop.example/thankyou", res.Handoff.RedirectURL)
	assert.Equal(t, 8, f.onHand(t))

	total, err := f.carts.TotalQuantity(ctx, models.IdentityCart("u1"))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPlaceOutOfStockKeepsCart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	f.store.SetStock("A", 1)

	_, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentCashOnDelivery})
	var stock apperr.OutOfStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, 1, f.onHand(t))

	total, _ := f.carts.TotalQuantity(ctx, models.IdentityCart("u1"))
	assert.Equal(t, 2, total)
}

func TestGatewayRoundTripIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)

	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Email: "nimal@example.com", Method: models.PaymentGateway})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, res.Order.Status)
	assert.Equal(t, payment.SandboxCheckoutURL, res.Handoff.Action)
	assert.Equal(t, res.Order.ID, res.Handoff.Field("order_id"))
	assert.Equal(t, "100.00", res.Handoff.Field("amount"))
	assert.Equal(t, "Nimal", res.Handoff.Field("first_name"))
	assert.Equal(t, "nimal@example.com", res.Handoff.Field("email"))
	assert.Equal(t, "Product A x2", res.Handoff.Field("items"))
	assert.Equal(t, 8, f.onHand(t))

	callback := notify(res.Order.ID, "100.00", "2")
	outcome, err := f.svc.HandleNotification(ctx, callback)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	outcome, err = f.svc.HandleNotification(ctx, callback)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	o, err := f.store.Order(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatchPending, o.Status)
	assert.Equal(t, "320025071", o.PaymentID)
	assert.Equal(t, 8, f.onHand(t))
	assert.Len(t, f.store.Notifications(res.Order.ID), 1)
}

func TestBadSignatureLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	forged := notify(res.Order.ID, "100.00", "2")
	forged.Signature = payment.NotifySignature(merchantID, res.Order.ID, "100.00", "LKR", "2", "guessed")
	_, err = f.svc.HandleNotification(ctx, forged)
	assert.ErrorIs(t, err, apperr.ErrSignatureMismatch)

	o, _ := f.store.Order(ctx, res.Order.ID)
	assert.Equal(t, models.StatusPaymentPending, o.Status)
	assert.Empty(t, f.store.Notifications(res.Order.ID))
}

func TestFailedPaymentCancelsAndRestocks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	outcome, err := f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "-2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
	assert.Equal(t, 10, f.onHand(t))

	outcome, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	o, _ := f.store.Order(ctx, res.Order.ID)
	assert.Equal(t, models.StatusCancelled, o.Status)
}

func TestAmountMismatchIsHandledButNotApplied(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	outcome, err := f.svc.HandleNotification(ctx, notify(res.Order.ID, "1.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, outcome)
	o, _ := f.store.Order(ctx, res.Order.ID)
	assert.Equal(t, models.StatusPaymentPending, o.Status)
}

func TestNotificationForUnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	outcome, err := f.svc.HandleNotification(context.Background(), notify("ORD-MISSING", "10.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownOrder, outcome)
}

type downGateway struct{}

func (downGateway) CreateSession(context.Context, payment.SessionRequest) (payment.Handoff, error) {
	return payment.Handoff{}, errors.New("dial tcp: connection refused")
}

func TestGatewayDownKeepsOrderForRetryOrCOD(t *testing.T) {
	f := newFixture(t, downGateway{})
	ctx := context.Background()
	session := f.ready(t)

	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, apperr.ErrGatewayUnreachable)
	require.NotEmpty(t, res.Order.ID)
	assert.Equal(t, models.StatusPaymentPending, res.Order.Status)

	_, err = f.svc.RetryPayment(ctx, "u1", res.Order.ID, "")
	assert.ErrorIs(t, err, apperr.ErrGatewayUnreachable)

	switched, err := f.svc.SwitchToCashOnDelivery(ctx, "u1", res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatchPending, switched.Order.Status)
	assert.Equal(t, models.PaymentCashOnDelivery, switched.Handoff.Method)
	assert.Equal(t, 8, f.onHand(t))

	_, err = f.svc.RetryPayment(ctx, "u1", res.Order.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestPendingStatusChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	outcome, err := f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "0"))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	o, _ := f.store.Order(ctx, res.Order.ID)
	assert.Equal(t, models.StatusPaymentPending, o.Status)
}

func TestRepeatedNonTransitionCallbacksAnnotateOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	historyLen := func() int {
		o, err := f.store.Order(ctx, res.Order.ID)
		require.NoError(t, err)
		return len(o.History)
	}

	outcome, err := f.svc.HandleNotification(ctx, notify(res.Order.ID, "1.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAmountMismatch, outcome)
	afterMismatch := historyLen()

	outcome, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "1.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, afterMismatch, historyLen())

	outcome, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "-3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeChargeback, outcome)
	afterChargeback := historyLen()
	assert.Equal(t, afterMismatch+1, afterChargeback)

	outcome, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "-3"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, afterChargeback, historyLen())
}

func TestRepeatedSuccessAfterCancellationAnnotatesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	_, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "-2"))
	require.NoError(t, err)

	outcome, err := f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	o, _ := f.store.Order(ctx, res.Order.ID)
	annotated := len(o.History)

	outcome, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	o, _ = f.store.Order(ctx, res.Order.ID)
	assert.Equal(t, annotated, len(o.History))
	assert.Equal(t, models.StatusCancelled, o.Status)
	assert.Equal(t, 10, f.onHand(t))
}

func TestNotificationApplyFailureIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.ready(t)
	res, err := f.svc.Place(ctx, PlaceInput{SessionID: session.ID, IdentityID: "u1", Method: models.PaymentGateway})
	require.NoError(t, err)

	f.store.FailNext = func(op string) error {
		if op == "UpdateOrderStatus" {
			return errors.New("primary stepped down")
		}
		return nil
	}
	_, err = f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "2"))
	require.Error(t, err)
	assert.Empty(t, f.store.Notifications(res.Order.ID))

	f.store.FailNext = nil
	outcome, err := f.svc.HandleNotification(ctx, notify(res.Order.ID, "100.00", "2"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
}
