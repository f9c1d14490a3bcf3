package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/api"
	"github.com/warp/lending-engine/engine"
	"github.com/warp/lending-engine/lending"
	memstore "github.com/warp/lending-engine/lending/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	eng := engine.New(memstore.NewMemory(), engine.Options{
		Clock: lending.FixedClock{T: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	})
	h := api.NewHandler(eng, zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createOrderReq(id string) api.CreateOrderRequest {
	return api.CreateOrderRequest{
		OrderID:   id,
		GroupID:   "S01",
		ChannelID: "chan-1",
		Date:      "2026-03-02",
		Class:     "old",
		Amount:    "10000",
		Actor:     "alice",
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/orders", createOrderReq("O1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	action := decode[api.ActionResponse](t, resp)
	assert.True(t, action.OK)
	assert.Equal(t, "order_created", action.Op)
	assert.Empty(t, action.Drift)

	getResp, err := http.Get(srv.URL + "/api/orders/O1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	o := decode[api.OrderDTO](t, getResp)
	assert.Equal(t, "O1", o.OrderID)
	assert.Equal(t, "10000", o.Amount)
	assert.Equal(t, "normal", o.State)
	assert.Equal(t, "mon", o.Weekday)
}

func TestCreateOrder_ValidationAndDuplicateStatuses(t *testing.T) {
	srv := newTestServer(t)

	bad := createOrderReq("O1")
	bad.Amount = "-5"
	resp := post(t, srv, "/api/orders", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "ValidationError", e.Kind)

	resp = post(t, srv, "/api/orders", createOrderReq("O1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/orders", createOrderReq("O1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	e = decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "DuplicateOrder", e.Kind)
}

func TestCompleteUndoFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/orders", createOrderReq("O1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/orders/O1/complete", api.CompleteRequest{Actor: "alice", Channel: "chan-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	action := decode[api.ActionResponse](t, resp)
	assert.NotEmpty(t, action.IncomeID)

	aggResp, err := http.Get(srv.URL + "/api/aggregates/global")
	require.NoError(t, err)
	agg := decode[api.AggregateDTO](t, aggResp)
	assert.EqualValues(t, 1, agg.CompletedOrders)
	assert.Equal(t, "0", agg.LiquidFunds)

	resp = post(t, srv, "/api/undo", api.UndoRequest{Actor: "alice", Channel: "chan-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	aggResp, err = http.Get(srv.URL + "/api/aggregates/global")
	require.NoError(t, err)
	agg = decode[api.AggregateDTO](t, aggResp)
	assert.EqualValues(t, 0, agg.CompletedOrders)
	assert.EqualValues(t, 1, agg.ValidOrders)
}

func TestUndo_EmptyScopeIs404(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/undo", api.UndoRequest{Actor: "nobody", Channel: "chan-9"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	e := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "NothingToUndo", e.Kind)
}

func TestSearchOrdersByDimension(t *testing.T) {
	srv := newTestServer(t)

	for _, id := range []string{"O1", "O2"} {
		resp := post(t, srv, "/api/orders", createOrderReq(id))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/orders?dimension=group&value=S01")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders := decode[[]api.OrderDTO](t, resp)
	assert.Len(t, orders, 2)

	resp, err = http.Get(srv.URL + "/api/orders?dimension=state&value=breach")
	require.NoError(t, err)
	orders = decode[[]api.OrderDTO](t, resp)
	assert.Empty(t, orders)
}

func TestInterestExpenseAndSum(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/interest", api.InterestRequest{
		GroupID: "S01", Amount: "150.50", Actor: "alice", Channel: "chan-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/expenses", api.ExpenseRequest{
		Type: "expense_company", Amount: "400", Note: "rent", Actor: "alice", Channel: "chan-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	sumResp, err := http.Get(srv.URL + "/api/income/sum?type=interest")
	require.NoError(t, err)
	sum := decode[api.IncomeSumResponse](t, sumResp)
	assert.Equal(t, "150.5", sum.Total)
	assert.EqualValues(t, 1, sum.Count)
}

func TestReconcileEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/api/orders", createOrderReq("O1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = post(t, srv, "/api/reconcile", map[string]string{"tier": "global"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[api.ReconcileResponse](t, resp)
	assert.False(t, rep.Repaired)
	assert.EqualValues(t, 1, rep.Derived.ValidOrders)

	resp = post(t, srv, "/api/reconcile", map[string]string{"tier": "daily", "key": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
