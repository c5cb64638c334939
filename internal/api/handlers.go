package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tablestakes/game-session/pkg/balance"
	"github.com/tablestakes/game-session/pkg/connection"
	"github.com/tablestakes/game-session/pkg/interfaces"
	"github.com/tablestakes/game-session/pkg/metrics"
	"github.com/tablestakes/game-session/pkg/protocol"
	"github.com/tablestakes/game-session/pkg/session"
)

const (
	defaultStatsWindow = 50
	maxBodyBytes       = 64 << 10
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	session SessionService
	stats   BetStatsProvider
	alerts  AlertProvider
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc SessionService, stats BetStatsProvider, alerts AlertProvider, logger *zap.Logger) *Handlers {
	return &Handlers{
		session: svc,
		stats:   stats,
		alerts:  alerts,
		logger:  logger,
	}
}

// BetRequest is the body of POST /api/v1/bets
type BetRequest struct {
	Type   string                 `json:"type"`
	Amount uint64                 `json:"amount"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// BetResponse acknowledges a submitted bet
type BetResponse struct {
	RequestID string `json:"request_id"`
}

// BalanceResponse is the body of GET /api/v1/balance
type BalanceResponse struct {
	Value  uint64 `json:"value"`
	Seq    uint64 `json:"seq"`
	Locked bool   `json:"locked"`
}

// StatusResponse mirrors connection.Status for API clients
type StatusResponse = connection.Status

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

// GetStatus returns the session snapshot
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// GetBalance returns the synchronized balance
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	h.writeJSON(w, http.StatusOK, BalanceResponse{
		Value:  snap.Balance.Value,
		Seq:    snap.Balance.Seq,
		Locked: snap.BetLocked,
	})
}

// Reconnect restarts the connection with a fresh retry budget
func (h *Handlers) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.session.Reconnect()
	h.writeJSON(w, http.StatusAccepted, h.session.Snapshot().Connection)
}

// Send forwards a raw JSON frame; it is written now or queued until reconnect
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))
		return
	}
	if _, err := protocol.DecodeEnvelope(body, time.Now()); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if !h.session.Send(json.RawMessage(body)) {
		state := h.session.ConnectionState()
		h.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("frame not accepted while %s", state))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SubmitBet validates, locks and sends a bet
func (h *Handlers) SubmitBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	requestID, err := h.session.SubmitBet(protocol.Bet{
		Type:   req.Type,
		Amount: req.Amount,
		Params: req.Params,
	})
	if err != nil {
		h.writeError(w, betErrorStatus(err), err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, BetResponse{RequestID: requestID})
}

// UnlockBet abandons the in-flight bet and releases the validation lock
func (h *Handlers) UnlockBet(w http.ResponseWriter, r *http.Request) {
	h.session.UnlockBetValidation()
	h.GetBalance(w, r)
}

// GetBetStats returns rolling bet statistics for ?window_size=N
func (h *Handlers) GetBetStats(w http.ResponseWriter, r *http.Request) {
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid window_size %q", raw))
			return
		}
		window = n
	}

	stats, err := h.stats.GetBetStats(window)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to get bet stats: %w", err))
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// GetAlerts lists unresolved alerts
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		h.writeJSON(w, http.StatusOK, []interfaces.Alert{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.alerts.GetActiveAlerts())
}

// AcknowledgeAlert marks an alert as seen
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.alerts == nil {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", metrics.ErrAlertNotFound, id))
		return
	}
	if err := h.alerts.AcknowledgeAlert(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, metrics.ErrAlertNotFound) {
			status = http.StatusNotFound
		}
		h.writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func betErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidBet):
		return http.StatusBadRequest
	case errors.Is(err, balance.ErrBetLocked):
		return http.StatusConflict
	case errors.Is(err, balance.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrSendFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
