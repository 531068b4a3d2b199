package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tindapos/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSale     = errors.New("invalid sale")
	ErrMissingCustomer = errors.New("customer required for credit sale")
	ErrNoCreditEntry   = errors.New("no credit entry for sale")
	ErrOverpayment     = errors.New("payment exceeds outstanding balance")
	ErrInvalidPayment  = errors.New("invalid payment")
	ErrDuplicate       = errors.New("already exists")

	// ErrTransient marks failures worth retrying as-is: serialization
	// conflicts, deadlocks, dropped connections.
	ErrTransient = errors.New("transient storage failure")
)

// StockError reports a sale item that asked for more units than the
// product had. It matches errors.Is(err, ErrInsufficientStock).
type StockError struct {
	ProductID   string
	ProductName string
	Requested   int64
	Available   int64
}

var ErrInsufficientStock = errors.New("insufficient stock")

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)

	// RecordSale persists the sale, its items, the conditional stock
	// decrements and, for credit sales, the ledger entry in a single
	// atomic unit. Either everything lands or nothing does.
	RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)

	ListCredits(ctx context.Context) ([]domain.CreditView, error)
	GetCreditBySaleID(ctx context.Context, saleID string) (*domain.CreditEntry, error)
	// ApplyCreditPayment adds amount to the entry for saleID,
	// recomputes its status and, once fully paid, flips the parent
	// sale to cash. Overpayment is rejected with ErrOverpayment.
	ApplyCreditPayment(ctx context.Context, saleID string, amount decimal.Decimal) (*domain.CreditEntry, error)

	SalesReport(ctx context.Context, period string) ([]domain.ReportRow, error)

	CreateLog(ctx context.Context, entry domain.LogEntry) error
	ListLogs(ctx context.Context, limit int) ([]domain.LogEntry, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
