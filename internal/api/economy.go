package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aibarena/aibarena/internal/app/economy"
	"github.com/aibarena/aibarena/internal/domain"
)

// EconomyAPI exposes the economy engine over HTTP.
type EconomyAPI struct {
	engine *economy.Engine
}

// mutationRequest is the wire shape for credit/debit calls. Amount comes in
// as a float because batch reward callers compute fractional shares; it is
// truncated to an integer before the engine sees it.
type mutationRequest struct {
	TelegramID string            `json:"telegram_id"`
	Currency   string            `json:"currency"`
	Amount     float64           `json:"amount"`
	Reason     string            `json:"reason"`
	Arena      string            `json:"arena"`
	League     string            `json:"league"`
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	IdemToken  string            `json:"idem_token"`
	Meta       map[string]string `json:"meta"`
}

func (m *mutationRequest) toEngine() economy.MutationRequest {
	return economy.MutationRequest{
		TelegramID: m.TelegramID,
		Currency:   domain.ParseCurrency(m.Currency),
		Amount:     int64(m.Amount),
		Reason:     m.Reason,
		Arena:      m.Arena,
		League:     m.League,
		SourceType: m.SourceType,
		SourceID:   m.SourceID,
		IdemToken:  m.IdemToken,
		Meta:       m.Meta,
	}
}

// HandleCredit handles POST /api/economy/credit.
func (a *EconomyAPI) HandleCredit(w http.ResponseWriter, r *http.Request) {
	a.handleMutation(w, r, a.engine.Credit)
}

// HandleDebit handles POST /api/economy/debit.
func (a *EconomyAPI) HandleDebit(w http.ResponseWriter, r *http.Request) {
	a.handleMutation(w, r, a.engine.Debit)
}

func (a *EconomyAPI) handleMutation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, req economy.MutationRequest) (domain.MutationResult, error)) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := op(r.Context(), req.toEngine())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusForMutation(res), res)
}

// statusForMutation maps structured mutation outcomes to HTTP statuses:
// insufficient funds is client-correctable, validation is a bad request,
// everything OK (including duplicate replays) is 200.
func statusForMutation(res domain.MutationResult) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Failure {
	case domain.FailTelegramIDRequired:
		return http.StatusBadRequest
	case domain.FailInsufficient:
		return http.StatusPaymentRequired
	default:
		return http.StatusConflict
	}
}

// emitRequest is the wire shape for emission capacity checks.
type emitRequest struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
	Arena    string  `json:"arena"`
	League   string  `json:"league"`
}

// HandleEmit handles POST /api/economy/emit. Cap and window rejections map
// to 429 — "try again later" from the caller's point of view.
func (a *EconomyAPI) HandleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := a.engine.TryEmit(r.Context(), domain.ParseCurrency(req.Currency), int64(req.Amount), req.Arena, req.League)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, res)
}

// repairRequest tunes the orphan sweep.
type repairRequest struct {
	OlderThan string `json:"older_than"` // Go duration, default "10m"
	Limit     int    `json:"limit"`      // default 100
}

// HandleRepair handles POST /api/economy/repair: completes ledger rows left
// applied=false by a crash whose caller never retried.
func (a *EconomyAPI) HandleRepair(w http.ResponseWriter, r *http.Request) {
	req := repairRequest{OlderThan: "10m", Limit: 100}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	age, err := time.ParseDuration(req.OlderThan)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid older_than duration")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	repaired, err := a.engine.RepairOrphans(r.Context(), age, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"repaired": repaired})
}

// HandleBalance handles GET /api/economy/balance/{telegramID}.
func (a *EconomyAPI) HandleBalance(w http.ResponseWriter, r *http.Request) {
	telegramID := chi.URLParam(r, "telegramID")
	if telegramID == "" {
		writeError(w, http.StatusBadRequest, "telegram id required")
		return
	}
	balances, err := a.engine.Store().GetBalances(r.Context(), telegramID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"telegram_id": telegramID,
		"balances":    balances,
	})
}

// HandleLedger handles GET /api/economy/ledger/{telegramID}?limit=N.
func (a *EconomyAPI) HandleLedger(w http.ResponseWriter, r *http.Request) {
	telegramID := chi.URLParam(r, "telegramID")
	if telegramID == "" {
		writeError(w, http.StatusBadRequest, "telegram id required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := a.engine.Store().ListLedgerEntries(r.Context(), telegramID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"telegram_id": telegramID,
		"entries":     entries,
	})
}

// HandleCounters handles GET /api/economy/counters/{day} where day is a
// UTC "YYYY-MM-DD" or the literal "today".
func (a *EconomyAPI) HandleCounters(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if day == "today" {
		day = domain.DayKey(time.Now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	totals, err := a.engine.Store().DayTotals(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// HandleConfigGet handles GET /api/economy/config.
func (a *EconomyAPI) HandleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.engine.Store().EconomyConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleConfigPut handles PUT /api/economy/config — the operator-only path
// that replaces caps and emission windows.
func (a *EconomyAPI) HandleConfigPut(w http.ResponseWriter, r *http.Request) {
	var cfg domain.EconomyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.engine.Store().SaveEconomyConfig(r.Context(), &cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, &cfg)
}
