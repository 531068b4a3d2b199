package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"product_name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LowStock reports whether the product belongs in the low-stock signal
// attached to product listings. Derived on every read, never stored.
func (p Product) LowStock() bool {
	return p.Stock < LowStockThreshold
}

type ProductCreateRequest struct {
	Name        string          `json:"product_name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
}

type ProductUpdateRequest struct {
	Name        *string          `json:"product_name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int64           `json:"stock,omitempty"`
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"customer_name"`
	ContactInfo    string          `json:"contact_info,omitempty"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name        string `json:"customer_name"`
	ContactInfo string `json:"contact_info"`
}

type SaleItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"price_at_sale"`
}

type Sale struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	CustomerName   string          `json:"customer_name,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentType    string          `json:"payment_type"`
	IdempotencyKey string          `json:"-"`
	Items          []SaleItem      `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SaleCreateRequest is the wire shape of a sale submission.
// TotalAmount is advisory; the recorded total is always recomputed
// from the items server-side.
type SaleCreateRequest struct {
	CustomerID     string            `json:"customer_id"`
	PaymentType    string            `json:"payment_type"`
	Items          []SaleItemRequest `json:"items"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type SaleItemRequest struct {
	ProductID   string          `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"price_at_sale"`
}

// ComputedTotal sums quantity times captured unit price across the
// submitted items.
func (r SaleCreateRequest) ComputedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.PriceAtSale.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}

type CreditEntry struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	SaleID     string          `json:"sale_id"`
	AmountOwed decimal.Decimal `json:"amount_owed"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Outstanding returns how much is still owed on the entry.
func (c CreditEntry) Outstanding() decimal.Decimal {
	return c.AmountOwed.Sub(c.AmountPaid)
}

// DeriveCreditStatus maps the two ledger amounts to a status. This is
// the only place status is decided; it is never set independently.
func DeriveCreditStatus(owed, paid decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(owed):
		return CreditPaid
	case paid.IsPositive():
		return CreditPartiallyPaid
	default:
		return CreditUnpaid
	}
}

// CreditView is a ledger entry joined with its customer and parent
// sale for listing screens.
type CreditView struct {
	CreditEntry
	CustomerName string          `json:"customer_name"`
	SaleTotal    decimal.Decimal `json:"sale_total"`
	SaleDate     time.Time       `json:"sale_date"`
}

type PaymentRequest struct {
	SaleID string          `json:"sale_id"`
	Amount decimal.Decimal `json:"amount"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      string
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type ForgotPasswordRequest struct {
	Username string `json:"username"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
}

// LogEntry is one row of the audit trail.
type LogEntry struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// ReportRow is one bucket of a sales report. Period is a date, an ISO
// week or a month label depending on the grouping requested.
type ReportRow struct {
	Period string          `json:"period"`
	Total  decimal.Decimal `json:"total"`
	Count  int64           `json:"count"`
}

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

const (
	PaymentCash   = "cash"
	PaymentCredit = "credit"
)

const (
	CreditUnpaid        = "unpaid"
	CreditPartiallyPaid = "partially_paid"
	CreditPaid          = "paid"
)

const (
	ReportDaily   = "daily"
	ReportWeekly  = "weekly"
	ReportMonthly = "monthly"
)

// LowStockThreshold is the stock level below which a product is
// included in the low-stock signal.
const LowStockThreshold = 5
