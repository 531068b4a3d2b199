package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tindapos/internal/domain"
	"tindapos/internal/store"
)

func seedProduct(t *testing.T, s *Store, id string, price int64, stock int64) domain.Product {
	t.Helper()
	product, err := s.CreateProduct(context.Background(), domain.Product{
		ID:    id,
		Name:  "Test " + id,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
	return *product
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := New()
	product := seedProduct(t, s, "prd-race", 10, 10)

	const attempts = 25
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := s.RecordSale(context.Background(), domain.Sale{
				PaymentType: domain.PaymentCash,
				Items: []domain.SaleItem{
					{ProductID: product.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(10)},
				},
			})
			errs[slot] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 sales to succeed, got %d", succeeded)
	}

	after, err := s.GetProductByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 0 {
		t.Fatalf("expected stock 0 after concurrent sales, got %d", after.Stock)
	}
}

func TestRecordSaleCombinesRepeatedProductLines(t *testing.T) {
	s := New()
	product := seedProduct(t, s, "prd-repeat", 10, 5)

	// Two lines of 3 against stock 5: each line alone fits, the
	// combined quantity does not.
	_, err := s.RecordSale(context.Background(), domain.Sale{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: product.ID, Quantity: 3, PriceAtSale: decimal.NewFromInt(10)},
			{ProductID: product.ID, Quantity: 3, PriceAtSale: decimal.NewFromInt(10)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %T", err)
	}
	if stockErr.Requested != 6 || stockErr.Available != 5 {
		t.Fatalf("expected requested 6 available 5, got %d/%d", stockErr.Requested, stockErr.Available)
	}

	after, err := s.GetProductByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", after.Stock)
	}

	// With stock for the combined quantity the sale goes through.
	sale, err := s.RecordSale(context.Background(), domain.Sale{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: product.ID, Quantity: 3, PriceAtSale: decimal.NewFromInt(10)},
			{ProductID: product.ID, Quantity: 2, PriceAtSale: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if !sale.TotalAmount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected total 50, got %s", sale.TotalAmount)
	}

	after, err = s.GetProductByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", after.Stock)
	}
}

func TestRecordSaleSnapshotsPriceAndName(t *testing.T) {
	s := New()
	product := seedProduct(t, s, "prd-snap", 10, 5)

	sale, err := s.RecordSale(context.Background(), domain.Sale{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: product.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	// A later catalog price change must not rewrite the recorded sale.
	product.Price = decimal.NewFromInt(99)
	if _, err := s.UpdateProduct(context.Background(), product); err != nil {
		t.Fatalf("update product: %v", err)
	}

	stored, err := s.GetSaleByID(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if !stored.Items[0].PriceAtSale.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("price at sale must be the captured price, got %s", stored.Items[0].PriceAtSale)
	}
	if stored.Items[0].ProductName != product.Name {
		t.Fatalf("expected product name snapshot, got %q", stored.Items[0].ProductName)
	}
}

func TestLowStockIsDerivedNotLatched(t *testing.T) {
	s := New()
	product := seedProduct(t, s, "prd-low", 5, 5)

	ctx := context.Background()
	check := func(wantLow bool) {
		t.Helper()
		p, err := s.GetProductByID(ctx, product.ID)
		if err != nil {
			t.Fatalf("get product: %v", err)
		}
		if p.LowStock() != wantLow {
			t.Fatalf("stock %d: expected low=%t", p.Stock, wantLow)
		}
	}

	check(false)

	if _, err := s.RecordSale(ctx, domain.Sale{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: product.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(5)},
		},
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	// Repeated reads report the same state without side effects.
	check(true)
	check(true)

	restocked, err := s.GetProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	restocked.Stock = 12
	if _, err := s.UpdateProduct(ctx, *restocked); err != nil {
		t.Fatalf("restock: %v", err)
	}
	check(false)
}

func TestSalesReportBuckets(t *testing.T) {
	s := New()
	product := seedProduct(t, s, "prd-report", 10, 50)

	ctx := context.Background()
	createdAt := time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := s.RecordSale(ctx, domain.Sale{
			PaymentType: domain.PaymentCash,
			CreatedAt:   createdAt,
			Items: []domain.SaleItem{
				{ProductID: product.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(10)},
			},
		}); err != nil {
			t.Fatalf("record sale: %v", err)
		}
	}

	cases := []struct {
		period string
		label  string
	}{
		{domain.ReportDaily, "2026-03-04"},
		{domain.ReportWeekly, "2026-W10"},
		{domain.ReportMonthly, "2026-03"},
	}
	for _, tc := range cases {
		rows, err := s.SalesReport(ctx, tc.period)
		if err != nil {
			t.Fatalf("%s report: %v", tc.period, err)
		}
		if len(rows) != 1 {
			t.Fatalf("%s report: expected one bucket, got %d", tc.period, len(rows))
		}
		if rows[0].Period != tc.label {
			t.Fatalf("%s report: expected label %s, got %s", tc.period, tc.label, rows[0].Period)
		}
		if rows[0].Count != 2 || !rows[0].Total.Equal(decimal.NewFromInt(20)) {
			t.Fatalf("%s report: unexpected bucket %+v", tc.period, rows[0])
		}
	}

	if _, err := s.SalesReport(ctx, "forever"); err == nil {
		t.Fatalf("expected error for unknown period")
	}
}

func TestSeededStoreHasUsersAndProducts(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("seeded store must carry a starter catalog")
	}

	for _, username := range []string{"owner", "admin"} {
		account, err := s.GetUserByUsername(ctx, username)
		if err != nil {
			t.Fatalf("seed user %s missing: %v", username, err)
		}
		if account.Password == "" {
			t.Fatalf("seed user %s has empty password hash", username)
		}
	}
}

func TestDeleteProductNotFound(t *testing.T) {
	s := New()
	if err := s.DeleteProduct(context.Background(), "prd-ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
