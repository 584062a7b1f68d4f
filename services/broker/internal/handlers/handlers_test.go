package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/libs/httpmiddleware"
	"github.com/AfshinJalili/brokerage/libs/logging"
	"github.com/AfshinJalili/brokerage/services/broker/internal/ledger"
	"github.com/AfshinJalili/brokerage/services/broker/internal/rate"
	"github.com/AfshinJalili/brokerage/services/broker/internal/reservation"
	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/AfshinJalili/brokerage/services/testutil"
	"github.com/gin-gonic/gin"
)

var secret = []byte("secret")

type fakeOrders struct {
	order      *storage.Order
	orders     []storage.Order
	match      *service.MatchResult
	err        error
	lastCreate *service.CreateOrderInput
	lastCancel *service.CancelOrderInput
	lastList   *service.ListOrdersInput
	lastCaller auth.Identity
}

func (f *fakeOrders) CreateOrder(_ context.Context, caller auth.Identity, input service.CreateOrderInput) (*storage.Order, error) {
	f.lastCaller, f.lastCreate = caller, &input
	return f.order, f.err
}

func (f *fakeOrders) CancelOrder(_ context.Context, caller auth.Identity, input service.CancelOrderInput) (*storage.Order, error) {
	f.lastCaller, f.lastCancel = caller, &input
	return f.order, f.err
}

func (f *fakeOrders) ListOrders(_ context.Context, caller auth.Identity, input service.ListOrdersInput) ([]storage.Order, error) {
	f.lastCaller, f.lastList = caller, &input
	return f.orders, f.err
}

func (f *fakeOrders) GetOrder(_ context.Context, caller auth.Identity, _ int64) (*storage.Order, error) {
	f.lastCaller = caller
	return f.order, f.err
}

func (f *fakeOrders) MatchPendingOrders(_ context.Context, caller auth.Identity) (*service.MatchResult, error) {
	f.lastCaller = caller
	return f.match, f.err
}

type fakeAssets struct {
	assets []storage.Asset
	last   *service.ListAssetsInput
	err    error
}

func (f *fakeAssets) ListAssets(_ context.Context, _ auth.Identity, input service.ListAssetsInput) ([]storage.Asset, error) {
	f.last = &input
	return f.assets, f.err
}

type fakeAuth struct {
	result *service.LoginResult
	err    error
}

func (f *fakeAuth) Login(context.Context, string, string) (*service.LoginResult, error) {
	return f.result, f.err
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	h.Register(router, secret)
	return router
}

func token(t *testing.T, identity auth.Identity) string {
	t.Helper()
	jwt, err := testutil.GenerateJWT(identity.CustomerID, identity.Roles, secret, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return jwt
}

func pendingOrder() *storage.Order {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &storage.Order{
		ID:         7,
		CustomerID: testutil.CustomerID,
		AssetName:  "GOLD",
		Side:       storage.SideBuy,
		Size:       testutil.D("10"),
		Price:      testutil.D("100"),
		Status:     storage.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateOrderUnauthorized(t *testing.T) {
	router := newRouter(New(&fakeOrders{}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/api/orders", map[string]string{"assetName": "GOLD"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestCreateOrderCreated(t *testing.T) {
	orders := &fakeOrders{order: pendingOrder()}
	router := newRouter(New(orders, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	caller := testutil.Customer(testutil.CustomerID)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/api/orders", map[string]string{
		"customerId": testutil.CustomerID.String(),
		"assetName":  "gold",
		"side":       "buy",
		"size":       "10",
		"price":      "100",
	}, token(t, caller))

	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var item orderItem
	testutil.DecodeJSON(resp, &item)
	if item.ID != 7 || item.Status != "PENDING" || item.OrderSide != "BUY" || item.Size != "10.00000000" {
		t.Fatalf("unexpected body %+v", item)
	}
	if orders.lastCreate.AssetName != "GOLD" || orders.lastCreate.Side != storage.SideBuy {
		t.Fatalf("unexpected service input %+v", orders.lastCreate)
	}
	if orders.lastCaller.CustomerID != testutil.CustomerID || orders.lastCreate.CorrelationID == "" {
		t.Fatalf("expected caller identity and correlation id, got %+v / %+v", orders.lastCaller, orders.lastCreate)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	router := newRouter(New(&fakeOrders{}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	jwt := token(t, testutil.Customer(testutil.CustomerID))

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/api/orders", map[string]string{
		"customerId": testutil.CustomerID.String(),
		"assetName":  "GOLD",
		"side":       "HOLD",
		"size":       "-1",
		"price":      "1",
	}, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)

	var body errorResponse
	testutil.DecodeJSON(resp, &body)
	if len(body.Fields) != 2 {
		t.Fatalf("expected side and size field errors, got %+v", body.Fields)
	}
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: missing TRY balance", service.ErrInvalidOrder), testutil.ErrorCodeInvalidOrder},
		{fmt.Errorf("%w: need 100", reservation.ErrInsufficientFunds), testutil.ErrorCodeInsufficientFunds},
		{fmt.Errorf("%w: need 5", reservation.ErrInsufficientBalance), testutil.ErrorCodeInsufficientBalance},
		{fmt.Errorf("%w: caller", service.ErrForbidden), testutil.ErrorCodeForbidden},
		{fmt.Errorf("%w: serialization", storage.ErrUnavailable), testutil.ErrorCodeUnavailable},
		{fmt.Errorf("%w: TRY", ledger.ErrInvariantViolation), testutil.ErrorCodeInvariantViolation},
		{errors.New("boom"), testutil.ErrorCodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := newRouter(New(&fakeOrders{err: tc.err}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
			resp := testutil.MakeAuthRequest(router, http.MethodPost, "/api/orders", map[string]string{
				"customerId": testutil.CustomerID.String(),
				"assetName":  "GOLD",
				"side":       "BUY",
				"size":       "1",
				"price":      "1",
			}, token(t, testutil.Customer(testutil.CustomerID)))
			testutil.AssertErrorCode(t, resp, tc.code)

			if resp.Code >= http.StatusInternalServerError {
				var body errorResponse
				testutil.DecodeJSON(resp, &body)
				if body.Details["request_id"] == "" {
					t.Fatalf("expected request_id in 5xx details, got %+v", body)
				}
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	cancelled := pendingOrder()
	cancelled.Status = storage.StatusCancelled
	orders := &fakeOrders{order: cancelled}
	router := newRouter(New(orders, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))

	path := "/api/orders/" + testutil.CustomerID.String() + "/orders/7"
	resp := testutil.MakeAuthRequest(router, http.MethodDelete, path, nil, token(t, testutil.Customer(testutil.CustomerID)))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var body cancelOrderResponse
	testutil.DecodeJSON(resp, &body)
	if body.Message != "Order successfully canceled and relevant balances updated." || body.Order.Status != "CANCELLED" {
		t.Fatalf("unexpected body %+v", body)
	}
	if orders.lastCancel.OrderID != 7 || orders.lastCancel.CustomerID != testutil.CustomerID {
		t.Fatalf("unexpected service input %+v", orders.lastCancel)
	}
}

func TestCancelOrderErrors(t *testing.T) {
	jwt := token(t, testutil.Customer(testutil.CustomerID))

	router := newRouter(New(&fakeOrders{}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	resp := testutil.MakeAuthRequest(router, http.MethodDelete, "/api/orders/not-a-uuid/orders/7", nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
	resp = testutil.MakeAuthRequest(router, http.MethodDelete, "/api/orders/"+testutil.CustomerID.String()+"/orders/-3", nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)

	path := "/api/orders/" + testutil.CustomerID.String() + "/orders/7"
	router = newRouter(New(&fakeOrders{err: fmt.Errorf("%w: order 7", storage.ErrNotFound)}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	testutil.AssertErrorCode(t, testutil.MakeAuthRequest(router, http.MethodDelete, path, nil, jwt), testutil.ErrorCodeOrderNotFound)

	router = newRouter(New(&fakeOrders{err: fmt.Errorf("%w: only PENDING orders can be canceled", service.ErrInvalidState)}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	resp = testutil.MakeAuthRequest(router, http.MethodDelete, path, nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidState)
	testutil.AssertErrorMessage(t, resp, "Only PENDING orders can be canceled.")

	router = newRouter(New(&fakeOrders{err: fmt.Errorf("%w: not yours", service.ErrForbidden)}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	resp = testutil.MakeAuthRequest(router, http.MethodDelete, path, nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)
	testutil.AssertErrorMessage(t, resp, "Unauthorized: Access Denied.")
}

func TestListOrdersQuery(t *testing.T) {
	orders := &fakeOrders{orders: []storage.Order{*pendingOrder()}}
	router := newRouter(New(orders, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	jwt := token(t, testutil.Customer(testutil.CustomerID))

	resp := testutil.MakeAuthRequest(router, http.MethodGet,
		"/api/orders?customerId="+testutil.CustomerID.String()+"&startDate=2026-03-01T00:00:00&endDate=2026-03-02T00:00:00Z&status=pending", nil, jwt)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var items []orderItem
	testutil.DecodeJSON(resp, &items)
	if len(items) != 1 {
		t.Fatalf("expected one order, got %d", len(items))
	}
	in := orders.lastList
	if in.CustomerID != testutil.CustomerID || in.Status != storage.StatusPending {
		t.Fatalf("unexpected input %+v", in)
	}
	if !in.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) || !in.To.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected range %s..%s", in.From, in.To)
	}

	resp = testutil.MakeAuthRequest(router, http.MethodGet, "/api/orders", nil, jwt)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	if orders.lastList.CustomerID != testutil.CustomerID {
		t.Fatalf("expected customerId to default to caller")
	}

	resp = testutil.MakeAuthRequest(router, http.MethodGet, "/api/orders?startDate=2026-03-02T00:00:00Z&endDate=2026-03-01T00:00:00Z", nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
	testutil.AssertErrorMessage(t, resp, "Start date cannot be after end date")
}

func TestGetOrderNotFound(t *testing.T) {
	router := newRouter(New(&fakeOrders{err: storage.ErrNotFound}, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))
	resp := testutil.MakeAuthRequest(router, http.MethodGet, "/api/orders/99", nil, token(t, testutil.Customer(testutil.CustomerID)))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeOrderNotFound)
}

func TestListAssets(t *testing.T) {
	assets := &fakeAssets{assets: []storage.Asset{{
		CustomerID: testutil.CustomerID,
		Name:       "TRY",
		Size:       testutil.D("1000"),
		Usable:     testutil.D("900.5"),
	}}}
	router := newRouter(New(&fakeOrders{}, assets, &fakeAuth{}, nil, logging.Discard()))
	jwt := token(t, testutil.Customer(testutil.CustomerID))

	resp := testutil.MakeAuthRequest(router, http.MethodGet, "/api/assets?assetName=try&minUsableSize=100", nil, jwt)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var items []assetItem
	testutil.DecodeJSON(resp, &items)
	if len(items) != 1 || items[0].UsableSize != "900.50000000" || items[0].Size != "1000.00000000" {
		t.Fatalf("unexpected body %+v", items)
	}
	if assets.last.AssetName != "try" || assets.last.MinUsable == nil || !assets.last.MinUsable.Equal(testutil.D("100")) {
		t.Fatalf("unexpected filters %+v", assets.last)
	}

	resp = testutil.MakeAuthRequest(router, http.MethodGet, "/api/assets?minUsableSize=-1", nil, jwt)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestMatchOrdersRequiresAdmin(t *testing.T) {
	orders := &fakeOrders{match: &service.MatchResult{}}
	router := newRouter(New(orders, &fakeAssets{}, &fakeAuth{}, nil, logging.Discard()))

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/admin/match-orders", nil, token(t, testutil.Customer(testutil.CustomerID)))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)

	matched := pendingOrder()
	matched.Status = storage.StatusMatched
	orders.match = &service.MatchResult{
		Matched: []storage.Order{*matched},
		Skipped: []service.SkippedOrder{{OrderID: 8, Reason: "not_found"}},
	}
	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/admin/match-orders", nil, token(t, testutil.Admin()))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var body matchResponse
	testutil.DecodeJSON(resp, &body)
	if len(body.Matched) != 1 || body.Matched[0].Status != "MATCHED" || len(body.Skipped) != 1 || body.Skipped[0].OrderID != 8 {
		t.Fatalf("unexpected body %+v", body)
	}
	if !orders.lastCaller.IsAdmin() {
		t.Fatalf("expected admin identity to reach the service")
	}
}

func TestLogin(t *testing.T) {
	authSvc := &fakeAuth{result: &service.LoginResult{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		Customer:    storage.Customer{ID: testutil.CustomerID},
	}}
	router := newRouter(New(&fakeOrders{}, &fakeAssets{}, authSvc, rate.NewMemory(10, time.Minute), logging.Discard()))

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "pw"})
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var body loginResponse
	testutil.DecodeJSON(resp, &body)
	if body.AccessToken != "tok" || body.TokenType != "Bearer" || body.CustomerID != testutil.CustomerID.String() || body.ExpiresIn <= 0 {
		t.Fatalf("unexpected body %+v", body)
	}

	authSvc.result, authSvc.err = nil, service.ErrInvalidCredentials
	resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "bad"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestLoginRateLimited(t *testing.T) {
	authSvc := &fakeAuth{err: service.ErrInvalidCredentials}
	router := newRouter(New(&fakeOrders{}, &fakeAssets{}, authSvc, rate.NewMemory(1, time.Minute), logging.Discard()))
	body := map[string]string{"username": "alice", "password": "bad"}

	testutil.AssertErrorCode(t, testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", body), testutil.ErrorCodeUnauthorized)

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", body)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeRateLimited)
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
