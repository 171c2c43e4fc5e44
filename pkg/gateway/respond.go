package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/swarmhq/swarmd/pkg/completer"
	"github.com/swarmhq/swarmd/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, Code: code})
}

// writeStoreError translates kernel errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrRetryBudgetExceeded),
		errors.Is(err, store.ErrIntegrity):
		writeError(w, http.StatusConflict, err.Error())
	default:
		var pe *completer.ProviderError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
