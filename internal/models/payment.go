package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentNotification is a verified gateway callback as it was received.
type PaymentNotification struct {
	ID         string          `bson:"_id" json:"id"`
	OrderID    string          `bson:"orderId" json:"orderId"`
	PaymentID  string          `bson:"paymentId" json:"paymentId"`
	StatusCode int             `bson:"statusCode" json:"statusCode"`
	Amount     decimal.Decimal `bson:"amount" json:"amount"`
	Currency   string          `bson:"currency" json:"currency"`
	Outcome    string          `bson:"outcome" json:"outcome"`
	ReceivedAt time.Time       `bson:"receivedAt" json:"receivedAt"`
}

func NotificationID(orderID, paymentID string, statusCode int) string {
	return orderID + ":" + paymentID + ":" + strconv.Itoa(statusCode)
}
