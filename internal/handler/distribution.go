// Package handler provides the HTTP surface of the distribution service.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ubi/internal/distribution"
	"ubi/internal/middleware"
	pkgerrors "ubi/pkg/errors"
	"ubi/pkg/logger"
	"ubi/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// FundPoolRequest is the body of POST /api/v1/pools.
type FundPoolRequest struct {
	Cycle  int             `json:"cycle" validate:"required,gte=1"`
	Region string          `json:"region" validate:"required,region"`
	Amount decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

// ClaimRequest is the body of POST /api/v1/cycles/{cycle}/claims. An empty
// participant means the authenticated caller.
type ClaimRequest struct {
	Participant string `json:"participant" validate:"max=128"`
}

type DistributionHandler struct {
	service   *distribution.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewDistributionHandler(service *distribution.Service, val *validator.Validator, log logger.Logger) *DistributionHandler {
	return &DistributionHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// CurrentCycle reports the current cycle and its claim window.
func (h *DistributionHandler) CurrentCycle(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.CurrentCycleInfo())
}

// FundPool creates the pool for a (cycle, region).
func (h *DistributionHandler) FundPool(w http.ResponseWriter, r *http.Request) {
	var req FundPoolRequest
	if !h.decode(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	summary, err := h.service.FundPool(r.Context(), req.Cycle, req.Region, req.Amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, summary)
}

// ListPools shows the pools of a cycle, optionally filtered by ?region=.
func (h *DistributionHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	cyc, ok := cycleParam(w, r)
	if !ok {
		return
	}

	pools, err := h.service.ShowPools(r.Context(), cyc, r.URL.Query().Get("region"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cycle": cyc,
		"pools": pools,
	})
}

// Claim commits the caller's entitlement for the cycle.
func (h *DistributionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	cyc, ok := cycleParam(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, string(pkgerrors.InvalidArgument), err.Error())
		return
	}

	participant, ok := h.participantFor(w, r, req.Participant)
	if !ok {
		return
	}

	receipt, err := h.service.Claim(r.Context(), participant, cyc)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// Quote estimates the caller's claim without committing it.
func (h *DistributionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	cyc, ok := cycleParam(w, r)
	if !ok {
		return
	}

	participant, ok := h.participantFor(w, r, r.URL.Query().Get("participant"))
	if !ok {
		return
	}

	quote, err := h.service.Quote(r.Context(), participant, cyc)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// CloseCycle closes every active pool of an ended cycle.
func (h *DistributionHandler) CloseCycle(w http.ResponseWriter, r *http.Request) {
	cyc, ok := cycleParam(w, r)
	if !ok {
		return
	}

	summary, err := h.service.CloseCycle(r.Context(), cyc)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// participantFor resolves whom a request acts for. Non-admin callers may
// only act for their own token subject.
func (h *DistributionHandler) participantFor(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	subject, _ := middleware.SubjectFromContext(r.Context())
	role, _ := middleware.RoleFromContext(r.Context())

	requested = strings.TrimSpace(requested)
	if requested == "" {
		return subject, true
	}
	if requested != subject && role != middleware.RoleAdmin {
		respondError(w, http.StatusForbidden, "forbidden", "Cannot act for another participant")
		return "", false
	}
	return requested, true
}

func (h *DistributionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, string(pkgerrors.InvalidArgument), "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, string(pkgerrors.InvalidArgument), "Invalid request body")
		return false
	}
	return true
}

func (h *DistributionHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	serviceError(w, r, h.logger, err)
}

// serviceError maps an engine error kind to its status and stable message.
func serviceError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	kind := pkgerrors.KindOf(err)
	status := statusFor(kind)
	message := kind.Message()

	var e *pkgerrors.Error
	if kind == pkgerrors.InvalidArgument && errors.As(err, &e) && e.Err != nil {
		message = message + ": " + e.Err.Error()
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", map[string]interface{}{
			"path":       r.URL.Path,
			"error":      err.Error(),
			"request_id": middleware.RequestIDFromContext(r.Context()),
		})
	}
	respondError(w, status, string(kind), message)
}

func statusFor(kind pkgerrors.Kind) int {
	switch kind {
	case pkgerrors.InvalidArgument:
		return http.StatusBadRequest
	case pkgerrors.NotEligible:
		return http.StatusForbidden
	case pkgerrors.NotFound, pkgerrors.NoActivePool:
		return http.StatusNotFound
	case pkgerrors.AlreadyClaimed, pkgerrors.AlreadyFunded:
		return http.StatusConflict
	case pkgerrors.WindowClosed, pkgerrors.WindowNotYetClosed, pkgerrors.InsufficientPoolFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func cycleParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	cyc, err := strconv.Atoi(mux.Vars(r)["cycle"])
	if err != nil || cyc < 1 {
		respondError(w, http.StatusBadRequest, string(pkgerrors.InvalidArgument), "Invalid cycle")
		return 0, false
	}
	return cyc, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             string(pkgerrors.InvalidArgument),
		"message":           "Validation failed",
		"validation_errors": errs,
	})
}
