package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tindapos/internal/domain"
	"tindapos/internal/store"
	"tindapos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo store.Repository
}

func New(repo store.Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrNotFound
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)

	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidSale
	}
	if req.Price.IsNegative() || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidSale
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:          xid.New("prd"),
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logEvent(ctx, fmt.Sprintf("Product %q added (price %s, stock %d)", created.Name, created.Price.String(), created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrNotFound
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Price = *req.Price
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrInvalidSale
		}
		updated.Stock = *req.Stock
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logEvent(ctx, fmt.Sprintf("Product %q updated", saved.Name))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrNotFound
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.logEvent(ctx, fmt.Sprintf("Product %q deleted", existing.Name))
	return nil
}

// LowStockProducts filters a product listing down to the items below
// the restock threshold.
func LowStockProducts(products []domain.Product) []domain.Product {
	low := make([]domain.Product, 0, 4)
	for _, p := range products {
		if p.LowStock() {
			low = append(low, p)
		}
	}
	return low
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ContactInfo = strings.TrimSpace(req.ContactInfo)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidSale
	}

	customer := domain.Customer{
		ID:             xid.New("cst"),
		Name:           req.Name,
		ContactInfo:    req.ContactInfo,
		TotalPurchases: decimal.Zero,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logEvent(ctx, fmt.Sprintf("Customer %q added", created.Name))
	return *created, nil
}

// RecordSale validates a submitted sale, recomputes its total from the
// line items and persists it atomically. The caller's total_amount is
// advisory only; a mismatch is logged and the recomputed value wins.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	req.PaymentType = strings.ToLower(strings.TrimSpace(req.PaymentType))
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if req.PaymentType != domain.PaymentCash && req.PaymentType != domain.PaymentCredit {
		return domain.Sale{}, store.ErrInvalidSale
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, store.ErrInvalidSale
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity < 1 || item.PriceAtSale.IsNegative() {
			return domain.Sale{}, store.ErrInvalidSale
		}
	}
	if req.PaymentType == domain.PaymentCredit && req.CustomerID == "" {
		return domain.Sale{}, store.ErrMissingCustomer
	}

	total := req.ComputedTotal()
	if !req.TotalAmount.IsZero() && !req.TotalAmount.Equal(total) {
		log.Printf("[service] WARN: sale total mismatch: client sent %s, recomputed %s", req.TotalAmount.String(), total.String())
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return *existing, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.SaleItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			Quantity:    item.Quantity,
			PriceAtSale: item.PriceAtSale,
		})
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		CustomerID:     req.CustomerID,
		TotalAmount:    total,
		PaymentType:    req.PaymentType,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.RecordSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logEvent(ctx, fmt.Sprintf("Sale %s recorded: total %s, payment %s, %d item(s)",
		created.ID, created.TotalAmount.String(), created.PaymentType, len(created.Items)))
	return *created, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrNotFound
	}
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListCredits(ctx context.Context) ([]domain.CreditView, error) {
	return s.repo.ListCredits(ctx)
}

// ApplyPayment records a repayment against the credit entry of the
// given sale. Payments above the outstanding balance are rejected
// rather than clamped, so the caller always knows the exact amount
// that was accepted.
func (s *Service) ApplyPayment(ctx context.Context, req domain.PaymentRequest) (domain.CreditEntry, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	if req.SaleID == "" {
		return domain.CreditEntry{}, store.ErrInvalidPayment
	}
	if !req.Amount.IsPositive() {
		return domain.CreditEntry{}, store.ErrInvalidPayment
	}

	entry, err := s.repo.ApplyCreditPayment(ctx, req.SaleID, req.Amount)
	if err != nil {
		return domain.CreditEntry{}, err
	}

	s.logEvent(ctx, fmt.Sprintf("Payment of %s applied to sale %s (status %s)",
		req.Amount.String(), req.SaleID, entry.Status))
	return *entry, nil
}

func (s *Service) SalesReport(ctx context.Context, period string) ([]domain.ReportRow, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = domain.ReportDaily
	}
	switch period {
	case domain.ReportDaily, domain.ReportWeekly, domain.ReportMonthly:
	default:
		return nil, store.ErrInvalidSale
	}
	return s.repo.SalesReport(ctx, period)
}

func (s *Service) ListLogs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListLogs(ctx, limit)
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, domain.User{
			ID:        a.ID,
			Username:  a.Username,
			Role:      a.Role,
			CreatedAt: a.CreatedAt,
		})
	}
	return users, nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if req.Role == "" {
		req.Role = domain.RoleOwner
	}
	if req.Username == "" || len(req.Password) < 6 {
		return domain.User{}, store.ErrInvalidSale
	}
	if req.Role != domain.RoleOwner && req.Role != domain.RoleAdmin {
		return domain.User{}, store.ErrInvalidSale
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	account := domain.UserAccount{
		ID:        xid.New("usr"),
		Username:  req.Username,
		Password:  string(hashed),
		Role:      req.Role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, account); err != nil {
		return domain.User{}, err
	}

	s.logEvent(ctx, fmt.Sprintf("User %q created with role %s", account.Username, account.Role))
	return domain.User{
		ID:        account.ID,
		Username:  account.Username,
		Role:      account.Role,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, store.ErrNotFound
	}
	return s.repo.GetUserByUsername(ctx, username)
}

func (s *Service) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < 6 {
		return store.ErrInvalidSale
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, username, string(hashed)); err != nil {
		return err
	}

	s.logEvent(ctx, fmt.Sprintf("Password reset for user %q", username))
	return nil
}

// LogEvent appends a line to the activity log on behalf of callers
// outside this package, login and logout handlers mostly.
func (s *Service) LogEvent(ctx context.Context, event string) {
	s.logEvent(ctx, event)
}

func (s *Service) logEvent(ctx context.Context, event string) {
	actor, ok := ActorFromContext(ctx)
	if ok && actor.Username != "" {
		event = fmt.Sprintf("%s (by %s)", event, actor.Username)
	}

	if err := s.repo.CreateLog(ctx, domain.LogEntry{
		ID:        xid.New("log"),
		Event:     event,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write activity log: %v", err)
	}
}
