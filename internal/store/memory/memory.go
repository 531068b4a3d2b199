package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tindapos/internal/domain"
	"tindapos/internal/store"
	"tindapos/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	products      map[string]domain.Product
	customers     map[string]domain.Customer
	salesByID     map[string]*domain.Sale
	salesByIdem   map[string]*domain.Sale
	creditsBySale map[string]domain.CreditEntry
	logs          []domain.LogEntry
	usersByName   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_OWNER_PASSWORD and SEED_ADMIN_PASSWORD.
// If unset, hardcoded dev defaults are used with a warning printed to
// stdout. The backend uses PostgreSQL when DATABASE_URL is set, so
// these never reach production.
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_ADMIN_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"admin", adminPwd, domain.RoleAdmin},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("usr"),
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	seed := []domain.Product{
		{ID: "prd-seed-rice", Name: "Rice 1kg", Category: "grocery", Price: decimal.NewFromFloat(52.00), Stock: 80},
		{ID: "prd-seed-oil", Name: "Cooking Oil 1L", Category: "grocery", Price: decimal.NewFromFloat(95.50), Stock: 40},
		{ID: "prd-seed-sugar", Name: "Sugar 1kg", Category: "grocery", Price: decimal.NewFromFloat(68.00), Stock: 35},
		{ID: "prd-seed-coffee", Name: "Coffee Sachet", Category: "beverage", Price: decimal.NewFromFloat(8.50), Stock: 200},
		{ID: "prd-seed-noodles", Name: "Instant Noodles", Category: "grocery", Price: decimal.NewFromFloat(14.25), Stock: 150},
		{ID: "prd-seed-soap", Name: "Bath Soap", Category: "household", Price: decimal.NewFromFloat(32.75), Stock: 60},
		{ID: "prd-seed-softdrink", Name: "Soft Drink 1.5L", Category: "beverage", Price: decimal.NewFromFloat(72.00), Stock: 25},
		{ID: "prd-seed-crackers", Name: "Crackers", Category: "snack", Price: decimal.NewFromFloat(21.00), Stock: 3},
	}
	products := make(map[string]domain.Product, len(seed))
	for _, p := range seed {
		p.CreatedAt = now
		p.UpdatedAt = now
		products[p.ID] = p
	}

	return &Store{
		products:      products,
		customers:     make(map[string]domain.Customer),
		salesByID:     make(map[string]*domain.Sale),
		salesByIdem:   make(map[string]*domain.Sale),
		creditsBySale: make(map[string]domain.CreditEntry),
		logs:          make([]domain.LogEntry, 0, 128),
		usersByName:   seedUsers(),
	}
}

// New returns an empty store. Tests that want full control over the
// catalog start here instead of NewSeeded.
func New() *Store {
	return &Store{
		products:      make(map[string]domain.Product),
		customers:     make(map[string]domain.Customer),
		salesByID:     make(map[string]*domain.Sale),
		salesByIdem:   make(map[string]*domain.Sale),
		creditsBySale: make(map[string]domain.CreditEntry),
		logs:          make([]domain.LogEntry, 0, 16),
		usersByName:   make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidSale
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

// RecordSale applies the whole sale under one lock hold: stock checks,
// decrements, the sale row, its items and the credit entry either all
// happen or none do. Nothing is mutated before every item has passed
// its stock check.
func (s *Store) RecordSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.PaymentType != domain.PaymentCash && sale.PaymentType != domain.PaymentCredit {
		return nil, store.ErrInvalidSale
	}
	if sale.PaymentType == domain.PaymentCredit && sale.CustomerID == "" {
		return nil, store.ErrMissingCustomer
	}

	if sale.IdempotencyKey != "" {
		if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(existing), nil
		}
	}

	var customer domain.Customer
	if sale.CustomerID != "" {
		var exists bool
		customer, exists = s.customers[sale.CustomerID]
		if !exists {
			return nil, store.ErrNotFound
		}
	}

	// First pass: validate every line before touching any stock. A
	// product may appear on several lines, so the guard runs against
	// the combined quantity, not each line alone.
	total := decimal.Zero
	required := make(map[string]int64, len(sale.Items))
	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.PriceAtSale.IsNegative() {
			return nil, store.ErrInvalidSale
		}
		product, exists := s.products[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		required[item.ProductID] += item.Quantity
		if product.Stock < required[item.ProductID] {
			return nil, &store.StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   required[item.ProductID],
				Available:   product.Stock,
			}
		}
		items = append(items, domain.SaleItem{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			PriceAtSale: item.PriceAtSale,
		})
		total = total.Add(item.PriceAtSale.Mul(decimal.NewFromInt(item.Quantity)))
	}

	// Second pass: apply the decrements.
	for _, item := range items {
		product := s.products[item.ProductID]
		product.Stock -= item.Quantity
		product.UpdatedAt = time.Now().UTC()
		s.products[item.ProductID] = product
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Items = items
	sale.TotalAmount = total
	sale.CustomerName = customer.Name

	if sale.PaymentType == domain.PaymentCredit {
		s.creditsBySale[sale.ID] = domain.CreditEntry{
			ID:         xid.New("crd"),
			CustomerID: sale.CustomerID,
			SaleID:     sale.ID,
			AmountOwed: total,
			AmountPaid: decimal.Zero,
			Status:     domain.CreditUnpaid,
			CreatedAt:  sale.CreatedAt,
		}
		customer.TotalPurchases = customer.TotalPurchases.Add(total)
		s.customers[customer.ID] = customer
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = saved
	}
	return cloneSale(saved), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) ListCredits(_ context.Context) ([]domain.CreditView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]domain.CreditView, 0, len(s.creditsBySale))
	for saleID, entry := range s.creditsBySale {
		view := domain.CreditView{CreditEntry: entry}
		if c, ok := s.customers[entry.CustomerID]; ok {
			view.CustomerName = c.Name
		}
		if sale, ok := s.salesByID[saleID]; ok {
			view.SaleTotal = sale.TotalAmount
			view.SaleDate = sale.CreatedAt
		}
		views = append(views, view)
	}
	slices.SortFunc(views, func(a, b domain.CreditView) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return views, nil
}

func (s *Store) GetCreditBySaleID(_ context.Context, saleID string) (*domain.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.creditsBySale[saleID]
	if !ok {
		return nil, store.ErrNoCreditEntry
	}
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) ApplyCreditPayment(_ context.Context, saleID string, amount decimal.Decimal) (*domain.CreditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !amount.IsPositive() {
		return nil, store.ErrInvalidPayment
	}
	entry, ok := s.creditsBySale[saleID]
	if !ok {
		return nil, store.ErrNoCreditEntry
	}
	if amount.GreaterThan(entry.Outstanding()) {
		return nil, store.ErrOverpayment
	}

	entry.AmountPaid = entry.AmountPaid.Add(amount)
	entry.Status = domain.DeriveCreditStatus(entry.AmountOwed, entry.AmountPaid)
	s.creditsBySale[saleID] = entry

	// A settled credit sale becomes a cash sale. One-way only.
	if entry.Status == domain.CreditPaid {
		if sale, ok := s.salesByID[saleID]; ok {
			sale.PaymentType = domain.PaymentCash
		}
	}

	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) SalesReport(_ context.Context, period string) ([]domain.ReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := map[string]*domain.ReportRow{}
	for _, sale := range s.salesByID {
		label, err := reportLabel(period, sale.CreatedAt)
		if err != nil {
			return nil, err
		}
		row := buckets[label]
		if row == nil {
			row = &domain.ReportRow{Period: label, Total: decimal.Zero}
			buckets[label] = row
		}
		row.Total = row.Total.Add(sale.TotalAmount)
		row.Count++
	}

	rows := make([]domain.ReportRow, 0, len(buckets))
	for _, row := range buckets {
		rows = append(rows, *row)
	}
	slices.SortFunc(rows, func(a, b domain.ReportRow) int {
		return cmpString(b.Period, a.Period)
	})
	return rows, nil
}

func reportLabel(period string, at time.Time) (string, error) {
	at = at.UTC()
	switch period {
	case domain.ReportDaily:
		return at.Format("2006-01-02"), nil
	case domain.ReportWeekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case domain.ReportMonthly:
		return at.Format("2006-01"), nil
	default:
		return "", store.ErrInvalidSale
	}
}

func (s *Store) CreateLog(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) ListLogs(_ context.Context, limit int) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LogEntry, len(s.logs))
	copy(result, s.logs)
	slices.SortFunc(result, func(a, b domain.LogEntry) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return cmpString(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByName[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleOwner
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByName[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
