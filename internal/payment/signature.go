package payment

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount with exactly two decimals, the form the
// gateway signs and compares.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Sign computes the checkout hash sent with the hand-off form.
func Sign(merchantID, orderID, amount, currency, secret string) string {
	return md5Upper(merchantID + orderID + amount + currency + secret)
}

// NotifySignature computes the md5sig the gateway attaches to a callback.
func NotifySignature(merchantID, orderID, amount, currency, statusCode, secret string) string {
	return md5Upper(merchantID + orderID + amount + currency + statusCode + md5Upper(secret))
}
