package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hutom-io/creditledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	dateOnlyLayout = "2006-01-02"

	errorCodeInvalidPayload     = "invalid_payload"
	errorCodeInvalidQuantity    = "invalid_quantity"
	errorCodeInvalidFilter      = "invalid_filter"
	errorCodeInsufficientCredit = "insufficient_credit"
	errorCodeLimitExceeded      = "limit_exceeded"
	errorCodeUnknownUser        = "unknown_user"
	errorCodeNoAdministrator    = "no_administrator"
	errorCodeInternal           = "internal_error"
)

type creditHandler struct {
	service *ledger.Service
	logger  *zap.Logger
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type useRequest struct {
	UserID int64  `json:"userId"`
	HuID   string `json:"huId"`
}

type cancelRequest struct {
	UserID *int64 `json:"userId"`
	HuID   string `json:"huId"`
}

type historyPayload struct {
	ID            int64     `json:"id"`
	Category      string    `json:"category"`
	Quantity      int64     `json:"quantity"`
	Balance       int64     `json:"balance"`
	EmployeeID    string    `json:"employeeId"`
	Name          string    `json:"name"`
	UserID        *int64    `json:"userId"`
	IsUserRequest bool      `json:"isUserRequest"`
	HuID          string    `json:"huId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (handler *creditHandler) handleTotalCredit(ctx *gin.Context) {
	total, err := handler.service.TotalCredit(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"totalCredit": total})
}

func (handler *creditHandler) handleAllocate(ctx *gin.Context) {
	quantity, ok := handler.bindQuantity(ctx)
	if !ok {
		return
	}
	receipt, err := handler.service.Allocate(ctx.Request.Context(), quantity)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"id": receipt.ID, "totalCredit": receipt.Total})
}

func (handler *creditHandler) handleRevoke(ctx *gin.Context) {
	quantity, ok := handler.bindQuantity(ctx)
	if !ok {
		return
	}
	receipt, err := handler.service.Revoke(ctx.Request.Context(), quantity)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"id": receipt.ID, "totalCredit": receipt.Total})
}

func (handler *creditHandler) handleRecordUse(ctx *gin.Context) {
	var request useRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	if request.HuID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "huId is required"))
		return
	}
	receipt, err := handler.service.RecordUse(ctx.Request.Context(), request.UserID, request.HuID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"id": receipt.ID})
}

func (handler *creditHandler) handleRecordCancel(ctx *gin.Context) {
	var request cancelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	if request.HuID == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "huId is required"))
		return
	}
	receipt, err := handler.service.RecordCancel(ctx.Request.Context(), request.HuID, request.UserID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"id": receipt.ID})
}

func (handler *creditHandler) handleHistories(ctx *gin.Context) {
	filter, err := parseHistoryFilter(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidFilter, err.Error()))
		return
	}
	rows, count, err := handler.service.History(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	histories := make([]historyPayload, 0, len(rows))
	for _, row := range rows {
		histories = append(histories, historyPayload{
			ID:            row.Entry.ID,
			Category:      row.Entry.Category.String(),
			Quantity:      row.Entry.Quantity,
			Balance:       row.Balance,
			EmployeeID:    row.Entry.EmployeeID,
			Name:          row.Entry.DisplayName,
			UserID:        row.Entry.UserID,
			IsUserRequest: row.Entry.IsUserRequest,
			HuID:          row.Entry.HuID,
			CreatedAt:     row.Entry.CreatedAt,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"count": count, "histories": histories})
}

func (handler *creditHandler) bindQuantity(ctx *gin.Context) (ledger.PositiveQuantity, bool) {
	var request quantityRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return 0, false
	}
	quantity, err := ledger.NewPositiveQuantity(request.Quantity)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidQuantity, "quantity must be greater than zero"))
		return 0, false
	}
	return quantity, true
}

func (handler *creditHandler) respondError(ctx *gin.Context, err error) {
	status, code := mapErrorStatus(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("credit operation failed",
			zap.String("path", ctx.Request.URL.Path),
			zap.Error(err),
		)
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func mapErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidCategory),
		errors.Is(err, ledger.ErrInvalidHistoryFilter):
		return http.StatusBadRequest, errorCodeInvalidPayload
	case errors.Is(err, ledger.ErrUnknownUser):
		return http.StatusNotFound, errorCodeUnknownUser
	case errors.Is(err, ledger.ErrNoAdministrator):
		return http.StatusPreconditionFailed, errorCodeNoAdministrator
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return http.StatusConflict, errorCodeInsufficientCredit
	case errors.Is(err, ledger.ErrLimitExceeded):
		return http.StatusConflict, errorCodeLimitExceeded
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func parseHistoryFilter(ctx *gin.Context) (ledger.HistoryFilter, error) {
	filter := ledger.HistoryFilter{
		EmployeeID:  ctx.Query("employeeId"),
		DisplayName: ctx.Query("name"),
	}

	if raw := ctx.Query("categories"); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			category, err := ledger.ParseCategory(value)
			if err != nil {
				return ledger.HistoryFilter{}, err
			}
			filter.Categories = append(filter.Categories, category)
		}
	}

	if raw := ctx.Query("startDate"); raw != "" {
		startDate, _, err := parseDate(raw)
		if err != nil {
			return ledger.HistoryFilter{}, err
		}
		filter.StartDate = startDate
	}
	if raw := ctx.Query("endDate"); raw != "" {
		endDate, dateOnly, err := parseDate(raw)
		if err != nil {
			return ledger.HistoryFilter{}, err
		}
		// A date-only upper bound includes the whole named day.
		if dateOnly {
			endDate = endDate.AddDate(0, 0, 1)
		}
		filter.EndDate = endDate
	}

	if raw := ctx.Query("sort"); raw != "" {
		filter.Sort = ledger.SortOrder(raw)
	}
	if raw := ctx.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return ledger.HistoryFilter{}, err
		}
		filter.Page = page
	}
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return ledger.HistoryFilter{}, err
		}
		filter.Limit = limit
	}

	return filter.Normalize()
}

func parseDate(raw string) (time.Time, bool, error) {
	if parsed, err := time.Parse(dateOnlyLayout, raw); err == nil {
		return parsed, true, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, false, nil
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
