package handler

import (
	"net/http"

	"ubi/internal/treasury"
	"ubi/pkg/logger"
)

type TreasuryHandler struct {
	reconciler *treasury.Reconciler
	logger     logger.Logger
}

func NewTreasuryHandler(reconciler *treasury.Reconciler, log logger.Logger) *TreasuryHandler {
	return &TreasuryHandler{reconciler: reconciler, logger: log}
}

// Reconcile checks the pools, claims and treasury returns of a cycle. A
// report with discrepancies is still a 200; balanced tells the caller.
func (h *TreasuryHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	cyc, ok := cycleParam(w, r)
	if !ok {
		return
	}
	report, err := h.reconciler.Reconcile(r.Context(), cyc)
	if err != nil {
		serviceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"balanced": report.Balanced(),
		"report":   report,
	})
}
