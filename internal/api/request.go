package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ferry/internal/services"
	"ferry/internal/transfer"
)

// StartRequest validates the body and converts it to a transfer request.
func (r StartTransferRequest) StartRequest() (transfer.StartRequest, error) {
	tenant := strings.TrimSpace(r.TenantID)
	if tenant == "" {
		return transfer.StartRequest{}, validationError("tenantId is required")
	}
	from, err := parseDay("from", r.From)
	if err != nil {
		return transfer.StartRequest{}, err
	}
	to, err := parseDay("to", r.To)
	if err != nil {
		return transfer.StartRequest{}, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return transfer.StartRequest{}, validationError("to must not be before from")
	}
	for _, id := range r.RecordIDs {
		if id <= 0 {
			return transfer.StartRequest{}, validationError("recordIds must be positive")
		}
	}
	return transfer.StartRequest{
		BatchID: strings.TrimSpace(r.BatchID),
		Filters: transfer.Filters{
			TenantID:           tenant,
			RecordIDs:          append([]int64(nil), r.RecordIDs...),
			OnlyNotTransferred: !r.IncludeTransferred,
			From:               from,
			To:                 to,
		},
	}, nil
}

func parseDay(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateFormat, value)
	if err != nil {
		return time.Time{}, validationError(field + " must be YYYY-MM-DD")
	}
	return t, nil
}

func validationError(message string) error {
	return services.Wrap(services.ErrValidation, "api", "start transfer", message, nil)
}

// HTTPStatus maps a domain error to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, transfer.ErrNoRecords):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transfer.ErrDuplicateBatch):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrAtCapacity), errors.Is(err, transfer.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, transfer.ErrBatchNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
