package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/raffle-ledger/engine/corrections"
	"github.com/WessleyAI/raffle-ledger/engine/domain"
	"github.com/WessleyAI/raffle-ledger/engine/parse"
	"github.com/WessleyAI/raffle-ledger/engine/reddit"
	"github.com/WessleyAI/raffle-ledger/engine/service"
	"github.com/WessleyAI/raffle-ledger/engine/store"
)

type scanner interface {
	Scan(ctx context.Context, req parse.Request) (*parse.Result, error)
}

type syncer interface {
	Sync(ctx context.Context, r store.Raffle) (*service.Update, error)
}

type raffleStore interface {
	UpsertRaffle(ctx context.Context, r store.Raffle) error
	Deactivate(ctx context.Context, raffleID string) error
	Entries(ctx context.Context, raffleID string) ([]domain.Participant, error)
	ActiveRaffles(ctx context.Context) ([]store.Raffle, error)
}

// api holds the handler dependencies. sync, raffles and corrections are nil
// when their backends are not configured.
type api struct {
	scan        scanner
	sync        syncer
	raffles     raffleStore
	corrections corrections.Store
	log         *slog.Logger
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/raffle/scan", a.handleScan)
	mux.HandleFunc("POST /api/parser/record-correction", a.handleCorrection)
	mux.HandleFunc("GET /api/raffles", a.handleListRaffles)
	mux.HandleFunc("POST /api/raffles", a.handleRegister)
	mux.HandleFunc("POST /api/raffles/{id}/sync", a.handleSync)
	mux.HandleFunc("POST /api/raffles/{id}/deactivate", a.handleDeactivate)
	mux.HandleFunc("GET /api/raffles/{id}/entries", a.handleEntries)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok"})
}

// ScanResponse is the JSON response for POST /api/raffle/scan.
type ScanResponse struct {
	OK bool `json:"ok"`
	*parse.Result
}

func (a *api) handleScan(w http.ResponseWriter, r *http.Request) {
	var req parse.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.scan.Scan(r.Context(), req)
	if err != nil {
		a.fail(w, r, "scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{OK: true, Result: res})
}

// CorrectionRequest is the JSON body for POST /api/parser/record-correction.
type CorrectionRequest struct {
	Comment      string `json:"comment"`
	WrongParse   int    `json:"wrongParse"`
	CorrectParse int    `json:"correctParse"`
}

func (a *api) handleCorrection(w http.ResponseWriter, r *http.Request) {
	if a.corrections == nil {
		writeError(w, http.StatusServiceUnavailable, "corrections are not enabled")
		return
	}
	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := corrections.Correction{Comment: req.Comment, Wrong: req.WrongParse, Correct: req.CorrectParse}
	if err := a.corrections.Record(r.Context(), c); err != nil {
		a.fail(w, r, "record correction failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "correction recorded"})
}

func (a *api) handleListRaffles(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	rs, err := a.raffles.ActiveRaffles(r.Context())
	if err != nil {
		a.fail(w, r, "list raffles failed", err)
		return
	}
	if rs == nil {
		rs = []store.Raffle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "raffles": rs})
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	var rf store.Raffle
	if err := json.NewDecoder(r.Body).Decode(&rf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rf.ID == "" && rf.PostURL != "" {
		if ref, err := reddit.ParsePostURL(rf.PostURL); err == nil {
			rf.ID = ref.ID
		}
	}
	rf.Active = true
	if err := a.raffles.UpsertRaffle(r.Context(), rf); err != nil {
		a.fail(w, r, "register raffle failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "raffle": rf})
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	id := r.PathValue("id")
	rs, err := a.raffles.ActiveRaffles(r.Context())
	if err != nil {
		a.fail(w, r, "sync failed", err)
		return
	}
	for _, rf := range rs {
		if rf.ID != id {
			continue
		}
		up, err := a.sync.Sync(r.Context(), rf)
		if err != nil {
			a.fail(w, r, "sync failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "update": up})
		return
	}
	writeError(w, http.StatusNotFound, "raffle not found or inactive")
}

func (a *api) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	if err := a.raffles.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, r, "deactivate failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) handleEntries(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	ps, err := a.raffles.Entries(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, "entries failed", err)
		return
	}
	if ps == nil {
		ps = []domain.Participant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "participants": ps})
}

func (a *api) hasLedger(w http.ResponseWriter) bool {
	if a.raffles == nil || a.sync == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger is not configured")
		return false
	}
	return true
}

// fail maps err to a status: bad input 400, unknown raffle 404, Reddit
// failures 502, anything else 500 with a generic message.
func (a *api) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var (
		fe *domain.FetchError
		ve *domain.ValidationError
	)
	switch {
	case errors.As(err, &ve), errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidPostURL), errors.Is(err, corrections.ErrInvalidCorrection):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrRaffleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &fe):
		a.log.Warn(msg, "err", err, "path", r.URL.Path)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		a.log.Error(msg, "err", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error: "+msg)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
