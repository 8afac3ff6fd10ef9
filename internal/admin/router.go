// Package admin exposes the operational HTTP surface: liveness and a
// read-only view of the ledger position. It serves on a separate listener
// from the money-transfer protocol and never touches the catalogs.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fastprodman/moneyexchange/internal/ledger"
)

type ledgerStatus struct {
	CurrentBlock     uint64 `json:"currentBlock"`
	OpenTransactions uint64 `json:"openTransactions"`
	SealedBlocks     uint64 `json:"sealedBlocks"`
}

// NewRouter constructs the admin router.
func NewRouter(led *ledger.Ledger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/ledger/status", func(w http.ResponseWriter, _ *http.Request) {
		num, count := led.Status()

		writeJSON(w, ledgerStatus{
			CurrentBlock:     num,
			OpenTransactions: count,
			SealedBlocks:     num - 1,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, `{"error":"internal json encode failure"}`, http.StatusInternalServerError)
	}
}
