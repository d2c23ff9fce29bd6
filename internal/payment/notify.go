package payment

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
)

type StatusCode int

const (
	StatusSuccess    StatusCode = 2
	StatusPending    StatusCode = 0
	StatusCancelled  StatusCode = -1
	StatusFailed     StatusCode = -2
	StatusChargeback StatusCode = -3
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	case StatusChargeback:
		return "chargedback"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Notification is the form the gateway posts to the notify URL.
type Notification struct {
	MerchantID    string `form:"merchant_id" binding:"required"`
	OrderID       string `form:"order_id" binding:"required"`
	PaymentID     string `form:"payment_id"`
	Amount        string `form:"payhere_amount" binding:"required"`
	Currency      string `form:"payhere_currency" binding:"required"`
	StatusCode    string `form:"status_code" binding:"required"`
	Signature     string `form:"md5sig" binding:"required"`
	StatusMessage string `form:"status_message"`
	Method        string `form:"method"`
}

func (n Notification) Status() (StatusCode, error) {
	code, err := strconv.Atoi(strings.TrimSpace(n.StatusCode))
	if err != nil {
		return 0, apperr.Invalid("status_code", "must be an integer")
	}
	return StatusCode(code), nil
}

func (n Notification) ParsedAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(n.Amount))
	if err != nil {
		return decimal.Decimal{}, apperr.Invalid("payhere_amount", "must be a decimal amount")
	}
	return d, nil
}

type Verifier struct {
	merchantID string
	secret     string
}

func NewVerifier(merchantID, secret string) *Verifier {
	return &Verifier{merchantID: merchantID, secret: secret}
}

// Verify recomputes the notification signature with the merchant secret.
func (v *Verifier) Verify(n Notification) error {
	if subtle.ConstantTimeCompare([]byte(n.MerchantID), []byte(v.merchantID)) != 1 {
		return fmt.Errorf("%w: merchant id", apperr.ErrSignatureMismatch)
	}
	expected := NotifySignature(n.MerchantID, n.OrderID, n.Amount, n.Currency, n.StatusCode, v.secret)
	got := strings.ToUpper(strings.TrimSpace(n.Signature))
	if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
		return apperr.ErrSignatureMismatch
	}
	return nil
}
