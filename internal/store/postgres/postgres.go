package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tindapos/internal/domain"
	"tindapos/internal/store"
	"tindapos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_name, COALESCE(description,''), COALESCE(category,''), price, stock, created_at, updated_at
		FROM products
		ORDER BY category, product_name
	`)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, product_name, description, category, price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Description, product.Category, product.Price, product.Stock, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, wrapDBErr(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_name, COALESCE(description,''), COALESCE(category,''), price, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDBErr(err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET product_name = $2, description = $3, category = $4, price = $5, stock = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.Category, product.Price, product.Stock)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	product.UpdatedAt = time.Now().UTC()
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_name, COALESCE(contact_info,''), total_purchases, created_at
		FROM customers
		ORDER BY customer_name
	`)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.ContactInfo, &c.TotalPurchases, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidSale
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, customer_name, contact_info, total_purchases, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.ContactInfo, customer.TotalPurchases, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, wrapDBErr(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_name, COALESCE(contact_info,''), total_purchases, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.ContactInfo, &c.TotalPurchases, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDBErr(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// RecordSale runs the whole sale in one serializable transaction. The
// product rows are locked up front, every stock guard passes before
// any row is written, and the decrement itself carries a stock >= qty
// condition so it can never push stock negative.
func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.PaymentType != domain.PaymentCash && sale.PaymentType != domain.PaymentCredit {
		return nil, store.ErrInvalidSale
	}
	if sale.PaymentType == domain.PaymentCredit && sale.CustomerID == "" {
		return nil, store.ErrMissingCustomer
	}

	ids := uniqueProductIDs(sale.Items)
	if len(ids) == 0 {
		return nil, store.ErrInvalidSale
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	productRows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_name, stock
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	type productState struct {
		name  string
		stock int64
	}
	productMap := make(map[string]productState, len(ids))
	for productRows.Next() {
		var id string
		var state productState
		if err := productRows.Scan(&id, &state.name, &state.stock); err != nil {
			_ = productRows.Close()
			return nil, err
		}
		productMap[id] = state
	}
	if err := productRows.Err(); err != nil {
		_ = productRows.Close()
		return nil, wrapDBErr(err)
	}
	_ = productRows.Close()

	// A product may appear on several lines; the guard runs against
	// the combined quantity so the error reports what the sale as a
	// whole asked for.
	total := decimal.Zero
	required := make(map[string]int64, len(sale.Items))
	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.PriceAtSale.IsNegative() {
			return nil, store.ErrInvalidSale
		}
		product, exists := productMap[item.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		required[item.ProductID] += item.Quantity
		if product.stock < required[item.ProductID] {
			return nil, &store.StockError{
				ProductID:   item.ProductID,
				ProductName: product.name,
				Requested:   required[item.ProductID],
				Available:   product.stock,
			}
		}
		items = append(items, domain.SaleItem{
			ProductID:   item.ProductID,
			ProductName: product.name,
			Quantity:    item.Quantity,
			PriceAtSale: item.PriceAtSale,
		})
		total = total.Add(item.PriceAtSale.Mul(decimal.NewFromInt(item.Quantity)))
	}

	for _, item := range items {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2 AND stock >= $1
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			product := productMap[item.ProductID]
			return nil, &store.StockError{
				ProductID:   item.ProductID,
				ProductName: product.name,
				Requested:   item.Quantity,
				Available:   product.stock,
			}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Items = items
	sale.TotalAmount = total

	if sale.CustomerID != "" {
		err = pgTx.QueryRowContext(ctx, `
			SELECT customer_name FROM customers WHERE id = $1
		`, sale.CustomerID).Scan(&sale.CustomerName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, wrapDBErr(err)
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, total_amount, payment_type, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, sale.ID, nullIfEmpty(sale.CustomerID), sale.TotalAmount, sale.PaymentType, nullIfEmpty(sale.IdempotencyKey), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, wrapDBErr(err)
	}

	for _, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, price_at_sale)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, item.ProductID, item.Quantity, item.PriceAtSale)
		if err != nil {
			return nil, wrapDBErr(err)
		}
	}

	if sale.PaymentType == domain.PaymentCredit {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO credits (id, customer_id, sale_id, amount_owed, amount_paid, status, created_at)
			VALUES ($1,$2,$3,$4,0,$5,$6)
		`, xid.New("crd"), sale.CustomerID, sale.ID, sale.TotalAmount, domain.CreditUnpaid, sale.CreatedAt)
		if err != nil {
			return nil, wrapDBErr(err)
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE customers
			SET total_purchases = total_purchases + $1
			WHERE id = $2
		`, sale.TotalAmount, sale.CustomerID)
		if err != nil {
			return nil, wrapDBErr(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, wrapDBErr(err)
	}

	return &sale, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "s.idempotency_key", key)
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "s.id", id)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "s.id" && column != "s.idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var sale domain.Sale
	var customerID sql.NullString
	var customerName sql.NullString
	query := fmt.Sprintf(`
		SELECT s.id, s.customer_id, c.customer_name, s.total_amount, s.payment_type, s.created_at
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE %s = $1
	`, column)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&sale.ID, &customerID, &customerName, &sale.TotalAmount, &sale.PaymentType, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDBErr(err)
	}
	if customerID.Valid {
		sale.CustomerID = customerID.String
	}
	if customerName.Valid {
		sale.CustomerName = customerName.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemsBySale, err := s.saleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = itemsBySale[sale.ID]

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, c.customer_name, s.total_amount, s.payment_type, s.created_at
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		ORDER BY s.created_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 128)
	ids := make([]string, 0, 128)
	for rows.Next() {
		var sale domain.Sale
		var customerID sql.NullString
		var customerName sql.NullString
		if err := rows.Scan(&sale.ID, &customerID, &customerName, &sale.TotalAmount, &sale.PaymentType, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if customerID.Valid {
			sale.CustomerID = customerID.String
		}
		if customerName.Valid {
			sale.CustomerName = customerName.String
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}

	itemsBySale, err := s.saleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}

	return sales, nil
}

func (s *Store) saleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.sale_id, si.product_id, COALESCE(p.product_name,''), si.quantity, si.price_at_sale
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.id ASC
	`, saleIDs)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.PriceAtSale); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}
	return result, nil
}

func (s *Store) ListCredits(ctx context.Context) ([]domain.CreditView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cr.id, cr.customer_id, cr.sale_id, cr.amount_owed, cr.amount_paid, cr.status, cr.created_at,
			COALESCE(c.customer_name,''), s.total_amount, s.created_at
		FROM credits cr
		JOIN sales s ON s.id = cr.sale_id
		LEFT JOIN customers c ON c.id = cr.customer_id
		ORDER BY cr.created_at DESC, cr.id DESC
	`)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	views := make([]domain.CreditView, 0, 64)
	for rows.Next() {
		var v domain.CreditView
		if err := rows.Scan(&v.ID, &v.CustomerID, &v.SaleID, &v.AmountOwed, &v.AmountPaid, &v.Status, &v.CreatedAt,
			&v.CustomerName, &v.SaleTotal, &v.SaleDate); err != nil {
			return nil, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		v.SaleDate = v.SaleDate.UTC()
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}
	return views, nil
}

func (s *Store) GetCreditBySaleID(ctx context.Context, saleID string) (*domain.CreditEntry, error) {
	var entry domain.CreditEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, sale_id, amount_owed, amount_paid, status, created_at
		FROM credits
		WHERE sale_id = $1
	`, saleID).Scan(&entry.ID, &entry.CustomerID, &entry.SaleID, &entry.AmountOwed, &entry.AmountPaid, &entry.Status, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoCreditEntry
		}
		return nil, wrapDBErr(err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

// ApplyCreditPayment locks the ledger row, rejects overpayment,
// recomputes the status from the two amounts and, once the entry is
// fully settled, flips the parent sale to cash. The flip is one-way.
func (s *Store) ApplyCreditPayment(ctx context.Context, saleID string, amount decimal.Decimal) (*domain.CreditEntry, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidPayment
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	var entry domain.CreditEntry
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, customer_id, sale_id, amount_owed, amount_paid, created_at
		FROM credits
		WHERE sale_id = $1
		FOR UPDATE
	`, saleID).Scan(&entry.ID, &entry.CustomerID, &entry.SaleID, &entry.AmountOwed, &entry.AmountPaid, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoCreditEntry
		}
		return nil, wrapDBErr(err)
	}

	if amount.GreaterThan(entry.Outstanding()) {
		return nil, store.ErrOverpayment
	}

	entry.AmountPaid = entry.AmountPaid.Add(amount)
	entry.Status = domain.DeriveCreditStatus(entry.AmountOwed, entry.AmountPaid)
	entry.CreatedAt = entry.CreatedAt.UTC()

	_, err = pgTx.ExecContext(ctx, `
		UPDATE credits
		SET amount_paid = $2, status = $3
		WHERE id = $1
	`, entry.ID, entry.AmountPaid, entry.Status)
	if err != nil {
		return nil, wrapDBErr(err)
	}

	if entry.Status == domain.CreditPaid {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE sales
			SET payment_type = $2
			WHERE id = $1
		`, saleID, domain.PaymentCash)
		if err != nil {
			return nil, wrapDBErr(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, wrapDBErr(err)
	}

	return &entry, nil
}

func (s *Store) SalesReport(ctx context.Context, period string) ([]domain.ReportRow, error) {
	var bucket string
	switch period {
	case domain.ReportDaily:
		bucket = `to_char(created_at, 'YYYY-MM-DD')`
	case domain.ReportWeekly:
		bucket = `to_char(created_at, 'IYYY-"W"IW')`
	case domain.ReportMonthly:
		bucket = `to_char(created_at, 'YYYY-MM')`
	default:
		return nil, store.ErrInvalidSale
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s AS period, COALESCE(SUM(total_amount),0), COUNT(*)::bigint
		FROM sales
		GROUP BY period
		ORDER BY period DESC
	`, bucket))
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	result := make([]domain.ReportRow, 0, 32)
	for rows.Next() {
		var row domain.ReportRow
		if err := rows.Scan(&row.Period, &row.Total, &row.Count); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}
	return result, nil
}

func (s *Store) CreateLog(ctx context.Context, entry domain.LogEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (id, event, timestamp)
		VALUES ($1,$2,$3)
	`, entry.ID, entry.Event, entry.Timestamp)
	return wrapDBErr(err)
}

func (s *Store) ListLogs(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, timestamp
		FROM logs
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	logs := make([]domain.LogEntry, 0, limit)
	for rows.Next() {
		var entry domain.LogEntry
		if err := rows.Scan(&entry.ID, &entry.Event, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Timestamp = entry.Timestamp.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleOwner
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, role, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.ID, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return wrapDBErr(err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, wrapDBErr(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, wrapDBErr(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return wrapDBErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapDBErr folds retryable database failures into store.ErrTransient
// so callers can surface a retry response. Serialization and deadlock
// aborts land here when concurrent sales collide on the same rows.
func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "08000", "08003", "08006":
			return fmt.Errorf("%w: %v", store.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	if len(items) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		set[item.ProductID] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
