package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lpvault/core/events"
	"lpvault/core/types"
	"lpvault/crypto"
	"lpvault/native/vault"
	"lpvault/observability"
	"lpvault/state"
)

// Server exposes the ledger over HTTP: a read-only query surface plus the
// three mutating operations. Mutations are strictly serialized by a single
// mutex and committed to the backing store only on success, matching the
// ledger's atomic-per-operation model.
type Server struct {
	mu       sync.Mutex
	ledger   *vault.Ledger
	manager  *state.Manager
	recorder *events.Recorder
	metrics  *observability.VaultMetrics
}

// NewServer wires a server around the ledger, its state manager and the event
// recorder feeding the events endpoint. A nil recorder leaves the endpoint
// serving an empty list.
func NewServer(ledger *vault.Ledger, manager *state.Manager, recorder *events.Recorder) *Server {
	return &Server{ledger: ledger, manager: manager, recorder: recorder, metrics: observability.Vault()}
}

// Router builds the HTTP route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1/ledger", func(r chi.Router) {
		r.Get("/global", s.handleGlobal)
		r.Get("/sources", s.handleSources)
		r.Get("/sources/{source}", s.handleSource)
		r.Get("/sources/{source}/positions/{position}/valuation", s.handleValuation)
		r.Get("/sources/{source}/positions/{position}/liquidatable", s.handleLiquidatable)
		r.Get("/sources/{source}/owners/{owner}/receipts", s.handleReceipts)
		r.Get("/deposits/{id}", s.handleDepositInfo)
		r.Get("/events", s.handleEvents)

		r.Post("/deposits", s.handleDeposit)
		r.Post("/withdrawals", s.handleWithdraw)
		r.Post("/liquidations", s.handleLiquidate)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type sourceResponse struct {
	Address     string `json:"address"`
	DebtCeiling string `json:"debtCeiling"`
	Debt        string `json:"debt"`
	Paused      bool   `json:"paused"`
}

type globalResponse struct {
	TotalDebt        string `json:"totalDebt"`
	TotalDebtCeiling string `json:"totalDebtCeiling"`
}

type depositResponse struct {
	DepositID string `json:"depositId"`
	Source    string `json:"source"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
}

type valuationResponse struct {
	Amount       string `json:"amount"`
	PrimaryUSD   string `json:"primaryUsd"`
	SecondaryUSD string `json:"secondaryUsd"`
}

type mutationRequest struct {
	Source     string `json:"source"`
	PositionID string `json:"positionId"`
	Depositor  string `json:"depositor,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Liquidator string `json:"liquidator,omitempty"`
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	global, err := s.ledger.Global()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, globalResponse{
		TotalDebt:        global.TotalDebt.String(),
		TotalDebtCeiling: global.TotalDebtCeiling.String(),
	})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.ledger.Sources()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceResponse{
			Address:     src.Address.String(),
			DebtCeiling: src.DebtCeiling.String(),
			Debt:        src.Debt.String(),
			Paused:      src.Paused,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	source, ok := parseAddress(w, chi.URLParam(r, "source"))
	if !ok {
		return
	}
	src, found, err := s.ledger.Source(source)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, vault.ErrSourceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sourceResponse{
		Address:     src.Address.String(),
		DebtCeiling: src.DebtCeiling.String(),
		Debt:        src.Debt.String(),
		Paused:      src.Paused,
	})
}

func (s *Server) handleDepositInfo(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(chi.URLParam(r, "id"))
	if err != nil || len(raw) != 32 {
		http.Error(w, "deposit id must be 32 hex-encoded bytes", http.StatusBadRequest)
		return
	}
	var id [32]byte
	copy(id[:], raw)
	record, found, err := s.ledger.DepositInfo(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "deposit not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		DepositID: hex.EncodeToString(record.ID[:]),
		Source:    record.Source.String(),
		Depositor: record.Depositor.String(),
		Amount:    record.Amount.String(),
	})
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	source, ok := parseAddress(w, chi.URLParam(r, "source"))
	if !ok {
		return
	}
	positionID, ok := parsePosition(w, chi.URLParam(r, "position"))
	if !ok {
		return
	}
	valuation, err := s.ledger.ValuationOf(source, positionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuationResponse{
		Amount:       valuation.Amount.String(),
		PrimaryUSD:   valuation.PrimaryUSD.String(),
		SecondaryUSD: valuation.SecondaryUSD.String(),
	})
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	source, ok := parseAddress(w, chi.URLParam(r, "source"))
	if !ok {
		return
	}
	positionID, ok := parsePosition(w, chi.URLParam(r, "position"))
	if !ok {
		return
	}
	owner, ok := parseAddress(w, r.URL.Query().Get("owner"))
	if !ok {
		return
	}
	liquidatable, err := s.ledger.Liquidatable(source, positionID, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liquidatable": liquidatable})
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	source, ok := parseAddress(w, chi.URLParam(r, "source"))
	if !ok {
		return
	}
	owner, ok := parseAddress(w, chi.URLParam(r, "owner"))
	if !ok {
		return
	}
	count, err := s.ledger.ReceiptCount(source, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	receipts := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := s.ledger.ReceiptAt(source, owner, i)
		if err != nil {
			writeError(w, err)
			return
		}
		receipts = append(receipts, id.String())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    count,
		"receipts": receipts,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	recent := s.recorder.Recent()
	if recent == nil {
		recent = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	source, ok := parseAddress(w, req.Source)
	if !ok {
		return
	}
	depositor, ok := parseAddress(w, req.Depositor)
	if !ok {
		return
	}
	positionID, ok := parsePosition(w, req.PositionID)
	if !ok {
		return
	}

	start := time.Now()
	s.mu.Lock()
	id, amount, err := s.ledger.Deposit(source, positionID, depositor)
	if err == nil {
		err = s.commit()
	}
	s.mu.Unlock()
	s.metrics.ObserveOperation("deposit", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishTotalDebt()
	writeJSON(w, http.StatusOK, depositResponse{
		DepositID: hex.EncodeToString(id[:]),
		Source:    source.String(),
		Depositor: depositor.String(),
		Amount:    amount.String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	source, ok := parseAddress(w, req.Source)
	if !ok {
		return
	}
	depositor, ok := parseAddress(w, req.Depositor)
	if !ok {
		return
	}
	positionID, ok := parsePosition(w, req.PositionID)
	if !ok {
		return
	}

	start := time.Now()
	s.mu.Lock()
	id, err := s.ledger.Withdraw(source, positionID, depositor)
	if err == nil {
		err = s.commit()
	}
	s.mu.Unlock()
	s.metrics.ObserveOperation("withdraw", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishTotalDebt()
	writeJSON(w, http.StatusOK, map[string]string{"depositId": hex.EncodeToString(id[:])})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	source, ok := parseAddress(w, req.Source)
	if !ok {
		return
	}
	owner, ok := parseAddress(w, req.Owner)
	if !ok {
		return
	}
	liquidator, ok := parseAddress(w, req.Liquidator)
	if !ok {
		return
	}
	positionID, ok := parsePosition(w, req.PositionID)
	if !ok {
		return
	}

	start := time.Now()
	s.mu.Lock()
	id, amount, err := s.ledger.Liquidate(source, positionID, owner, liquidator)
	if err == nil {
		err = s.commit()
	}
	s.mu.Unlock()
	s.metrics.ObserveOperation("liquidate", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishTotalDebt()
	writeJSON(w, http.StatusOK, map[string]string{
		"depositId": hex.EncodeToString(id[:]),
		"amount":    amount.String(),
	})
}

func (s *Server) commit() error {
	if s.manager == nil {
		return nil
	}
	return s.manager.Commit()
}

func (s *Server) publishTotalDebt() {
	global, err := s.ledger.Global()
	if err != nil {
		log.Printf("rpc: read global totals: %v", err)
		return
	}
	s.metrics.SetTotalDebt(global.TotalDebt)
}

func decodeMutation(w http.ResponseWriter, r *http.Request) (*mutationRequest, bool) {
	req := &mutationRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return req, true
}

func parseAddress(w http.ResponseWriter, raw string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return crypto.Address{}, false
	}
	return addr, true
}

func parsePosition(w http.ResponseWriter, raw string) (*big.Int, bool) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() <= 0 {
		http.Error(w, "invalid position id", http.StatusBadRequest)
		return nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("rpc: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrSourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vault.ErrFailedOracle):
		status = http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrDebtCeilingExceeded),
		errors.Is(err, vault.ErrSourcePaused),
		errors.Is(err, vault.ErrNotLiquidatable),
		errors.Is(err, vault.ErrInvalidDeposit),
		errors.Is(err, vault.ErrInvalidWithdraw),
		errors.Is(err, vault.ErrInvalidLiquidation),
		errors.Is(err, vault.ErrInvalidPositionTransfer),
		errors.Is(err, vault.ErrInvalidLiquidityPool),
		errors.Is(err, vault.ErrInvalidPosition),
		errors.Is(err, vault.ErrSourceExists),
		errors.Is(err, vault.ErrSourceNotEmpty):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}
