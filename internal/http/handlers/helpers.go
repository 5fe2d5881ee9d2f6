package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/septivank/conservation-rewards-worker/internal/ledger"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeLedgerError maps a ledger error kind to its status. Anything else is a 500.
func writeLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.Kind(err)
	if kind == "" {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, statusForKind(err), map[string]string{"error": err.Error(), "kind": kind})
}

func statusForKind(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidPropertyAccount), errors.Is(err, ledger.ErrInvalidState):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrTimestampsOutOfOrder):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
