// Package payment negotiates how an order is paid: a signed hand-off form for
// the PayHere checkout, or cash on delivery with no gateway involved. It also
// verifies the gateway's server-to-server notifications.
package payment

import (
	"bytes"
	"context"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

const (
	LiveCheckoutURL    = "https://www.payhere.lk/pay/checkout"
	SandboxCheckoutURL = "https://sandbox.payhere.lk/pay/checkout"
)

// CheckoutURL picks the checkout endpoint for the gateway environment.
func CheckoutURL(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "live") {
		return LiveCheckoutURL
	}
	return SandboxCheckoutURL
}

// Config is the merchant configuration. Secret stays on the server; only
// the hash derived from it ever leaves.
type Config struct {
	MerchantID string
	Secret     string
	Env        string
	ReturnURL  string
	CancelURL  string
	NotifyURL  string
}

type Buyer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

func (b Buyer) withDefaults() Buyer {
	if strings.TrimSpace(b.FirstName) == "" {
		b.FirstName = "Customer"
	}
	if strings.TrimSpace(b.LastName) == "" {
		b.LastName = "User"
	}
	if strings.TrimSpace(b.Email) == "" {
		b.Email = "no-reply@example.com"
	}
	if strings.TrimSpace(b.Country) == "" {
		b.Country = "Sri Lanka"
	}
	return b
}

// BuyerFromAddress fills the buyer details the form needs from a shipping
// address.
func BuyerFromAddress(addr models.Address, email string) Buyer {
	first, last, _ := strings.Cut(strings.TrimSpace(addr.Name), " ")
	return Buyer{
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     email,
		Phone:     addr.Phone,
		Address:   addr.Line1,
		City:      addr.City,
		Country:   addr.Country,
	}
}

type SessionRequest struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Items    string
	Buyer    Buyer
}

func (r SessionRequest) validate() error {
	switch {
	case strings.TrimSpace(r.OrderID) == "":
		return apperr.Invalid("orderId", "is required")
	case !r.Amount.IsPositive():
		return apperr.Invalid("amount", "must be greater than 0")
	case strings.TrimSpace(r.Currency) == "":
		return apperr.Invalid("currency", "is required")
	}
	return nil
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Handoff tells the client how to continue. For the gateway it is a form to
// post to Action; for cash on delivery only Method and RedirectURL are set.
type Handoff struct {
	Method      models.PaymentMethod `json:"method"`
	Action      string               `json:"action,omitempty"`
	Fields      []Field              `json:"fields,omitempty"`
	FormHTML    string               `json:"formHtml,omitempty"`
	RedirectURL string               `json:"redirectUrl,omitempty"`
}

// Field returns the value of a named form field.
func (h Handoff) Field(name string) string {
	for _, f := range h.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Handoff, error)
}

// PayHere builds the signed checkout form locally.
type PayHere struct {
	cfg Config
}

func NewPayHere(cfg Config) *PayHere {
	return &PayHere{cfg: cfg}
}

var formTemplate = template.Must(template.New("payhere").Parse(`<!doctype html><html><head><meta charset="utf-8"></head><body>
<form id="payhereForm" action="{{.Action}}" method="post">{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}"/>{{end}}</form>
<script>document.getElementById('payhereForm').submit();</script>
</body></html>`))

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (p *PayHere) CreateSession(ctx context.Context, req SessionRequest) (Handoff, error) {
	if err := ctx.Err(); err != nil {
		return Handoff{}, err
	}
	if p.cfg.MerchantID == "" || p.cfg.Secret == "" {
		return Handoff{}, apperr.Invalid("merchant", "gateway credentials are not configured")
	}

	amount := FormatAmount(req.Amount)
	buyer := req.Buyer.withDefaults()
	items := orDefault(req.Items, "Order "+req.OrderID)

	h := Handoff{
		Method: models.PaymentGateway,
		Action: CheckoutURL(p.cfg.Env),
		Fields: []Field{
			{"merchant_id", p.cfg.MerchantID},
			{"return_url", orDefault(p.cfg.ReturnURL, "https://example.com/thankyou.html")},
			{"cancel_url", orDefault(p.cfg.CancelURL, "https://example.com/checkout-payment.html")},
			{"notify_url", orDefault(p.cfg.NotifyURL, "https://example.com/api/ipg/notify")},
			{"first_name", buyer.FirstName},
			{"last_name", buyer.LastName},
			{"email", buyer.Email},
			{"phone", buyer.Phone},
			{"address", buyer.Address},
			{"city", buyer.City},
			{"country", buyer.Country},
			{"order_id", req.OrderID},
			{"items", items},
			{"amount", amount},
			{"currency", req.Currency},
			{"hash", Sign(p.cfg.MerchantID, req.OrderID, amount, req.Currency, p.cfg.Secret)},
		},
	}

	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, h); err != nil {
		return Handoff{}, err
	}
	h.FormHTML = buf.String()
	return h, nil
}
