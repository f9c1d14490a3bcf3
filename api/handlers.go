/*
handlers.go - HTTP API handlers for the lending consistency core

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates every business rule to the engine.

ENDPOINTS:
  Orders:
    POST   /api/orders                       Create order
    GET    /api/orders                       Search by dimension (?dimension=&value=)
    GET    /api/orders/{id}                  Get order
    POST   /api/orders/{id}/transition       Generic state transition
    POST   /api/orders/{id}/complete         Settle live order (end)
    POST   /api/orders/{id}/complete-breach  Settle breached order (breach_end)
    POST   /api/orders/{id}/reduce           Partial principal repayment
    POST   /api/orders/{id}/amount           Correction: principal
    POST   /api/orders/{id}/date             Correction: order date
    POST   /api/orders/{id}/group            Correction: attribution group
    POST   /api/orders/{id}/channel          Correction: chat channel

  Money:
    POST   /api/interest                     Record interest receipt
    POST   /api/expenses                     Record expense
    GET    /api/income/sum                   Sum income records (?from&to&type&group)

  Undo / audit:
    POST   /api/undo                         Undo last operation in scope
    GET    /api/history/last                 Peek at next undoable entry

  Aggregates:
    GET    /api/aggregates/global            Global counter row
    GET    /api/aggregates/daily/{day}       Daily row (YYYY-MM-DD)
    GET    /api/aggregates/grouped/{group}   Grouped row
    POST   /api/reconcile                    Re-derive and repair a row

ERROR HANDLING:
  Errors return JSON {error, kind} where kind is the stable identifier from
  the domain taxonomy; the HTTP status derives from the kind.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/lending-engine/engine"
	"github.com/warp/lending-engine/lending"
)

// Handler holds the HTTP layer's dependencies.
type Handler struct {
	Engine *engine.Engine
	Log    zerolog.Logger
}

func NewHandler(eng *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{Engine: eng, Log: log}
}

// =============================================================================
// ORDER ENDPOINTS
// =============================================================================

// CreateOrder registers a new loan order.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		date, err = time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
			return
		}
	}

	res, err := h.Engine.CreateOrder(r.Context(), lending.Intent{
		OrderID:    lending.OrderID(req.OrderID),
		GroupID:    lending.GroupID(req.GroupID),
		ChannelID:  lending.ChannelID(req.ChannelID),
		Date:       date,
		Class:      lending.CustomerClass(req.Class),
		Amount:     amount,
		State:      lending.OrderState(req.State),
		Historical: req.Historical,
	}, lending.ActorID(req.Actor))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActionResponse(res))
}

// GetOrder returns one canonical order.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	o, err := h.Engine.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// SearchOrders returns the orders in one classification partition.
// GET /api/orders?dimension=state&value=normal
func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	dim := lending.ReplicaDimension(r.URL.Query().Get("dimension"))
	value := r.URL.Query().Get("value")
	if dim == "" || value == "" {
		writeError(w, http.StatusBadRequest, "dimension and value query parameters required", nil)
		return
	}

	orders, err := h.Engine.SearchOrdersByDimension(r.Context(), dim, value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// TransitionOrder moves an order along the generic transition path.
// POST /api/orders/{id}/transition
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	res, err := h.Engine.TransitionState(r.Context(), id,
		lending.OrderState(req.State), lending.ActorID(req.Actor), lending.ChannelID(req.Channel))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// CompleteOrder settles a live order.
// POST /api/orders/{id}/complete
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, false)
}

// CompleteBreach settles a breached order.
// POST /api/orders/{id}/complete-breach
func (h *Handler) CompleteBreach(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, true)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, breach bool) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	actor, channel := lending.ActorID(req.Actor), lending.ChannelID(req.Channel)
	var (
		res engine.Result
		err error
	)
	if breach {
		res, err = h.Engine.CompleteBreach(r.Context(), id, actor, channel)
	} else {
		res, err = h.Engine.CompleteOrder(r.Context(), id, actor, channel)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// ReducePrincipal books a partial repayment.
// POST /api/orders/{id}/reduce
func (h *Handler) ReducePrincipal(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req ReduceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Engine.ReducePrincipal(r.Context(), id, amount,
		lending.ActorID(req.Actor), lending.ChannelID(req.Channel))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// CorrectAmount / CorrectDate / CorrectGroup / CorrectChannel apply the four
// field corrections. Corrections are not recorded in the undo history.

// POST /api/orders/{id}/amount
func (h *Handler) CorrectAmount(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := h.Engine.ChangeAmount(r.Context(), id, amount, lending.ActorID(req.Actor))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// POST /api/orders/{id}/date
func (h *Handler) CorrectDate(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
		return
	}
	res, err := h.Engine.ChangeDate(r.Context(), id, date, lending.ActorID(req.Actor))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// POST /api/orders/{id}/group
func (h *Handler) CorrectGroup(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	res, err := h.Engine.ChangeGroup(r.Context(), id, lending.GroupID(req.GroupID), lending.ActorID(req.Actor))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// POST /api/orders/{id}/channel
func (h *Handler) CorrectChannel(w http.ResponseWriter, r *http.Request) {
	id := lending.OrderID(chi.URLParam(r, "id"))
	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	res, err := h.Engine.ReassignChannel(r.Context(), id, lending.ChannelID(req.Channel), lending.ActorID(req.Actor))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// =============================================================================
// MONEY ENDPOINTS
// =============================================================================

// RecordInterest books received interest.
// POST /api/interest
func (h *Handler) RecordInterest(w http.ResponseWriter, r *http.Request) {
	var req InterestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Engine.RecordInterest(r.Context(), engine.InterestArgs{
		OrderID: lending.OrderID(req.OrderID),
		GroupID: lending.GroupID(req.GroupID),
		Class:   lending.CustomerClass(req.Class),
		Amount:  amount,
		Note:    req.Note,
	}, lending.ActorID(req.Actor), lending.ChannelID(req.Channel))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActionResponse(res))
}

// RecordExpense books an outgoing payment.
// POST /api/expenses
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.Engine.RecordExpense(r.Context(), lending.IncomeType(req.Type), amount, req.Note,
		lending.ActorID(req.Actor), lending.ChannelID(req.Channel))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActionResponse(res))
}

// SumIncome sums income records under a filter.
// GET /api/income/sum?from=YYYY-MM-DD&to=YYYY-MM-DD&type=interest&group=G1
func (h *Handler) SumIncome(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f lending.IncomeFilter
	var err error

	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(dateLayout, v); err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD", nil)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(dateLayout, v); err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD", nil)
			return
		}
	}
	if v := q.Get("type"); v != "" {
		t := lending.IncomeType(v)
		if !t.Known() {
			writeError(w, http.StatusBadRequest, "unknown income type", nil)
			return
		}
		f.Type = &t
	}
	if v := q.Get("group"); v != "" {
		g := lending.GroupID(v)
		f.GroupID = &g
	}

	total, count, err := h.Engine.SumIncome(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IncomeSumResponse{Total: total.String(), Count: count})
}

// =============================================================================
// UNDO / AUDIT ENDPOINTS
// =============================================================================

// Undo inverts the caller's most recent operation.
// POST /api/undo
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	var req UndoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.Actor == "" || req.Channel == "" {
		writeError(w, http.StatusBadRequest, "actor and channel required", nil)
		return
	}

	res, err := h.Engine.Undo(r.Context(), lending.ActorID(req.Actor), lending.ChannelID(req.Channel))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionResponse(res))
}

// LastOperation peeks at the entry the next undo would invert.
// GET /api/history/last?actor=A&channel=C
func (h *Handler) LastOperation(w http.ResponseWriter, r *http.Request) {
	actor := lending.ActorID(r.URL.Query().Get("actor"))
	channel := lending.ChannelID(r.URL.Query().Get("channel"))
	if actor == "" || channel == "" {
		writeError(w, http.StatusBadRequest, "actor and channel query parameters required", nil)
		return
	}

	op, err := h.Engine.GetLastUndoable(r.Context(), actor, channel)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationDTO(op))
}

// =============================================================================
// AGGREGATE ENDPOINTS
// =============================================================================

// GetGlobalAggregate returns the singleton global counter row.
// GET /api/aggregates/global
func (h *Handler) GetGlobalAggregate(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, lending.TierGlobal, lending.GlobalKey)
}

// GetDailyAggregate returns one business day's counter row.
// GET /api/aggregates/daily/{day}
func (h *Handler) GetDailyAggregate(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, lending.TierDaily, chi.URLParam(r, "day"))
}

// GetGroupedAggregate returns one attribution group's counter row.
// GET /api/aggregates/grouped/{group}
func (h *Handler) GetGroupedAggregate(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, lending.TierGrouped, chi.URLParam(r, "group"))
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request, tier lending.Tier, key string) {
	set, err := h.Engine.GetAggregate(r.Context(), tier, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateDTO(tier, key, set))
}

// Reconcile re-derives one aggregate row and repairs it if it drifted.
// POST /api/reconcile {"tier": "daily", "key": "2026-09-01"}
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier string `json:"tier"`
		Key  string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	rep, err := h.Engine.Reconcile(r.Context(), lending.Tier(req.Tier), req.Key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileResponse{
		Tier:     string(rep.Tier),
		Key:      rep.Key,
		Repaired: rep.Repaired,
		Stored:   toAggregateDTO(rep.Tier, rep.Key, rep.Stored),
		Derived:  toAggregateDTO(rep.Tier, rep.Key, rep.Derived),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Kind = lending.ErrorKind(err)
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error kind onto an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := lending.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "ValidationError":
		status = http.StatusBadRequest
	case "OrderNotFound", "NothingToUndo":
		status = http.StatusNotFound
	case "DuplicateOrder", "IllegalTransition", "OrderArchived", "ScopeMismatch":
		status = http.StatusConflict
	case "UndoLimitExceeded":
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
