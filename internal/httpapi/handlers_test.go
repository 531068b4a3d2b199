package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tindapos/internal/cache"
	"tindapos/internal/domain"
	"tindapos/internal/service"
	"tindapos/internal/store/memory"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	handler    http.Handler
	svc        *service.Service
	ownerToken string
	adminToken string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	svc := service.New(memory.New())
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "seed", Role: domain.RoleAdmin})
	for _, u := range []domain.UserCreateRequest{
		{Username: "owner", Password: "owner-secret", Role: domain.RoleOwner},
		{Username: "admin", Password: "admin-secret", Role: domain.RoleAdmin},
	} {
		if _, err := svc.CreateUser(ctx, u); err != nil {
			t.Fatalf("create %s: %v", u.Username, err)
		}
	}

	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, svc, cache.NewMemoryTokenStore())
	api := New(svc, auth, "http://127.0.0.1:3000")
	ta := &testAPI{handler: api.Handler(), svc: svc}
	ta.ownerToken = ta.login(t, "owner", "owner-secret")
	ta.adminToken = ta.login(t, "admin", "admin-secret")
	return ta
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func (ta *testAPI) login(t *testing.T, username, password string) string {
	t.Helper()
	rec, env := ta.do(t, http.MethodPost, "/api/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body)
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func (ta *testAPI) createProduct(t *testing.T, name string, price int64, stock int64) domain.Product {
	t.Helper()
	rec, env := ta.do(t, http.MethodPost, "/api/products", ta.ownerToken, domain.ProductCreateRequest{
		Name:  name,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: status %d body %s", rec.Code, rec.Body)
	}
	var out struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	return out.Product
}

func (ta *testAPI) createCustomer(t *testing.T, name string) domain.Customer {
	t.Helper()
	rec, env := ta.do(t, http.MethodPost, "/api/customers", ta.ownerToken, domain.CustomerCreateRequest{Name: name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: status %d body %s", rec.Code, rec.Body)
	}
	var out struct {
		Customer domain.Customer `json:"customer"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode customer: %v", err)
	}
	return out.Customer
}

func TestHealthEndpointIsOpen(t *testing.T) {
	ta := newTestAPI(t)
	rec, env := ta.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.Status != "success" {
		t.Fatalf("expected success envelope, got %s", rec.Body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ta := newTestAPI(t)
	rec, env := ta.do(t, http.MethodPost, "/api/login", "", domain.LoginRequest{
		Username: "owner",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.Status != "error" {
		t.Fatalf("expected error envelope, got %s", rec.Body)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	ta := newTestAPI(t)
	rec, _ := ta.do(t, http.MethodGet, "/api/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec, _ = ta.do(t, http.MethodGet, "/api/products", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestAdminRoutesRejectOwners(t *testing.T) {
	ta := newTestAPI(t)

	rec, _ := ta.do(t, http.MethodGet, "/api/users", ta.ownerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for owner on /api/users, got %d", rec.Code)
	}

	rec, _ = ta.do(t, http.MethodGet, "/api/users", ta.adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin on /api/users, got %d", rec.Code)
	}

	// Admins can also work the register in a pinch.
	rec, _ = ta.do(t, http.MethodGet, "/api/products", ta.adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin on /api/products, got %d", rec.Code)
	}
}

func TestRecordSaleEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	rice := ta.createProduct(t, "Rice 5kg", 10, 20)
	oil := ta.createProduct(t, "Cooking Oil", 5, 20)

	rec, env := ta.do(t, http.MethodPost, "/api/sales", ta.ownerToken, domain.SaleCreateRequest{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItemRequest{
			{ProductID: rice.ID, Quantity: 2, PriceAtSale: decimal.NewFromInt(10)},
			{ProductID: oil.ID, Quantity: 3, PriceAtSale: decimal.NewFromInt(5)},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body %s", rec.Code, rec.Body)
	}
	var out struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if !out.Sale.TotalAmount.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected total 35, got %s", out.Sale.TotalAmount)
	}
}

func TestSaleEndpointErrorStatuses(t *testing.T) {
	ta := newTestAPI(t)
	crackers := ta.createProduct(t, "Crackers", 3, 3)

	// Insufficient stock maps to 409.
	rec, env := ta.do(t, http.MethodPost, "/api/sales", ta.ownerToken, domain.SaleCreateRequest{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItemRequest{
			{ProductID: crackers.ID, Quantity: 5, PriceAtSale: decimal.NewFromInt(3)},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for oversell, got %d body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(env.Message, "Crackers") {
		t.Fatalf("conflict message should name the product, got %q", env.Message)
	}

	// Credit sale without a customer maps to 400.
	rec, _ = ta.do(t, http.MethodPost, "/api/sales", ta.ownerToken, domain.SaleCreateRequest{
		PaymentType: domain.PaymentCredit,
		Items: []domain.SaleItemRequest{
			{ProductID: crackers.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(3)},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for credit sale without customer, got %d", rec.Code)
	}

	// Unknown product maps to 404.
	rec, _ = ta.do(t, http.MethodPost, "/api/sales", ta.ownerToken, domain.SaleCreateRequest{
		PaymentType: domain.PaymentCash,
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-ghost", Quantity: 1, PriceAtSale: decimal.NewFromInt(3)},
		},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rec.Code)
	}
}

func TestCreditPaymentEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	rice := ta.createProduct(t, "Rice 5kg", 100, 20)
	customer := ta.createCustomer(t, "Aling Nena")

	rec, env := ta.do(t, http.MethodPost, "/api/sales", ta.ownerToken, domain.SaleCreateRequest{
		CustomerID:  customer.ID,
		PaymentType: domain.PaymentCredit,
		Items: []domain.SaleItemRequest{
			{ProductID: rice.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(100)},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("credit sale: status %d body %s", rec.Code, rec.Body)
	}
	var saleOut struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.Unmarshal(env.Data, &saleOut); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	rec, env = ta.do(t, http.MethodPost, "/api/credits/pay", ta.ownerToken, domain.PaymentRequest{
		SaleID: saleOut.Sale.ID,
		Amount: decimal.NewFromInt(40),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("apply payment: status %d body %s", rec.Code, rec.Body)
	}
	var creditOut struct {
		Credit domain.CreditEntry `json:"credit"`
	}
	if err := json.Unmarshal(env.Data, &creditOut); err != nil {
		t.Fatalf("decode credit: %v", err)
	}
	if creditOut.Credit.Status != domain.CreditPartiallyPaid {
		t.Fatalf("expected partially_paid, got %s", creditOut.Credit.Status)
	}

	// Overpayment maps to 409.
	rec, _ = ta.do(t, http.MethodPost, "/api/credits/pay", ta.ownerToken, domain.PaymentRequest{
		SaleID: saleOut.Sale.ID,
		Amount: decimal.NewFromInt(600),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for overpayment, got %d", rec.Code)
	}

	// Unknown sale maps to 404.
	rec, _ = ta.do(t, http.MethodPost, "/api/credits/pay", ta.ownerToken, domain.PaymentRequest{
		SaleID: "sale-ghost",
		Amount: decimal.NewFromInt(5),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sale, got %d", rec.Code)
	}

	// Zero amount maps to 400.
	rec, _ = ta.do(t, http.MethodPost, "/api/credits/pay", ta.ownerToken, domain.PaymentRequest{
		SaleID: saleOut.Sale.ID,
		Amount: decimal.Zero,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", rec.Code)
	}
}

func TestLowStockHeaderOnProductListing(t *testing.T) {
	ta := newTestAPI(t)
	ta.createProduct(t, "Rice 5kg", 10, 20)
	ta.createProduct(t, "Crackers", 3, 2)

	rec, _ := ta.do(t, http.MethodGet, "/api/products", ta.ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products: status %d", rec.Code)
	}

	header := rec.Header().Get("X-Low-Stock")
	if header == "" {
		t.Fatalf("expected X-Low-Stock header")
	}
	var names []string
	if err := json.Unmarshal([]byte(header), &names); err != nil {
		t.Fatalf("header must be a JSON array: %v", err)
	}
	if len(names) != 1 || names[0] != "Crackers" {
		t.Fatalf("expected [Crackers], got %v", names)
	}

	// No low stock, no header.
	ta2 := newTestAPI(t)
	ta2.createProduct(t, "Rice 5kg", 10, 20)
	rec, _ = ta2.do(t, http.MethodGet, "/api/products", ta2.ownerToken, nil)
	if rec.Header().Get("X-Low-Stock") != "" {
		t.Fatalf("expected no X-Low-Stock header when nothing is low")
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	ta := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader(`{"surprise":true}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ta.ownerToken)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ta := newTestAPI(t)
	rec, _ := ta.do(t, http.MethodDelete, "/api/sales", ta.ownerToken, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRegisterAndUserAdmin(t *testing.T) {
	ta := newTestAPI(t)

	rec, env := ta.do(t, http.MethodPost, "/api/register", "", domain.RegisterRequest{
		Username: "newowner",
		Password: "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body)
	}
	var out struct {
		User domain.User `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if out.User.Role != domain.RoleOwner {
		t.Fatalf("self-registered accounts must be owners, got %s", out.User.Role)
	}

	// Replaying the registration conflicts.
	rec, _ = ta.do(t, http.MethodPost, "/api/register", "", domain.RegisterRequest{
		Username: "newowner",
		Password: "secret123",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	if ta.login(t, "newowner", "secret123") == "" {
		t.Fatalf("expected fresh account to log in")
	}
}

func TestReportsEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	rice := ta.createProduct(t, "Rice 5kg", 10, 20)
	for i := 0; i < 2; i++ {
		rec, _ := ta.do(t, http.MethodPost, "/api/sales", ta.ownerToken, domain.SaleCreateRequest{
			PaymentType: domain.PaymentCash,
			Items: []domain.SaleItemRequest{
				{ProductID: rice.ID, Quantity: 1, PriceAtSale: decimal.NewFromInt(10)},
			},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("sale %d failed: %d", i, rec.Code)
		}
	}

	rec, env := ta.do(t, http.MethodGet, "/api/reports?period=daily", ta.ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report: status %d body %s", rec.Code, rec.Body)
	}
	var out struct {
		Report []domain.ReportRow `json:"report"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(out.Report) != 1 || out.Report[0].Count != 2 {
		t.Fatalf("unexpected report: %+v", out.Report)
	}

	rec, _ = ta.do(t, http.MethodGet, "/api/reports?period=hourly", ta.ownerToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown period, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	ta := newTestAPI(t)

	status := 0
	for i := 0; i < 8; i++ {
		rec, _ := ta.do(t, http.MethodPost, "/api/login", "", domain.LoginRequest{
			Username: "owner",
			Password: fmt.Sprintf("wrong-%d", i),
		})
		status = rec.Code
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", status)
	}
}
