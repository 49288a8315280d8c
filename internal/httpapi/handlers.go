package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blogsmith/blogsmith/internal/checkout"
	"github.com/blogsmith/blogsmith/internal/content"
	"github.com/blogsmith/blogsmith/internal/gateway/toss"
	"github.com/blogsmith/blogsmith/pkg/ledger"
)

type httpHandler struct {
	logger   *zap.Logger
	services Services
	timeout  time.Duration
}

type prepareRequest struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Amount      int64  `json:"amount"`
	Credits     int64  `json:"credits"`
}

type completeRequest struct {
	OrderID    string `json:"orderId"`
	PaymentKey string `json:"paymentKey"`
	Amount     int64  `json:"amount"`
}

type cancelRequest struct {
	PaymentKey   string `json:"paymentKey"`
	CancelReason string `json:"cancelReason"`
}

type generateRequest struct {
	Topic string `json:"topic"`
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	credits, err := handler.services.Ledger.Balance(requestCtx, userID)
	if err != nil {
		handler.logger.Error("balance lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "balance unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"credits": credits})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	limit := parseLimit(ctx.Query("limit"))
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	transactions, err := handler.services.Ledger.Transactions(requestCtx, userID, limit)
	if err != nil {
		handler.logger.Error("transaction list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "transactions unavailable"))
		return
	}
	payload := make([]gin.H, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, gin.H{
			"id":                transaction.TransactionID,
			"type":              transaction.Type.String(),
			"amount":            transaction.Amount,
			"description":       transaction.Description,
			"externalReference": transaction.ExternalReference,
			"createdAt":         transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) handlePaymentPrepare(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request prepareRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	session, err := handler.services.Checkout.Prepare(requestCtx, checkout.PrepareRequest{
		UserID:      claims.GetUserID(),
		Email:       claims.GetUserEmail(),
		ProductID:   request.ProductID,
		ProductName: request.ProductName,
		Amount:      request.Amount,
		Credits:     request.Credits,
	})
	if err != nil {
		if errors.Is(err, checkout.ErrInvalidRequest) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
			return
		}
		handler.logger.Error("payment prepare failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("prepare_failed", "could not start checkout"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"orderId":       session.OrderID,
		"amount":        session.Amount,
		"productName":   session.ProductName,
		"clientKey":     session.ClientKey,
		"customerEmail": session.CustomerEmail,
	})
}

func (handler *httpHandler) handlePaymentComplete(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request completeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	receipt, err := handler.services.Checkout.Complete(requestCtx, request.OrderID, request.PaymentKey, request.Amount)
	if err != nil {
		handler.respondCompleteError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"orderName": receipt.OrderName,
		"credits":   receipt.Credits,
		"duplicate": receipt.Duplicate,
	})
}

// respondCompleteError maps completion failures onto the wire. Gateway
// rejections keep the gateway's own HTTP status so clients see what the
// payment provider said; reconciliation failures are the one case that must
// never look like an ordinary decline.
func (handler *httpHandler) respondCompleteError(ctx *gin.Context, err error) {
	var reconciliationError *checkout.ReconciliationError
	if errors.As(err, &reconciliationError) {
		handler.logger.Error("payment reconciliation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(
			"reconciliation_failed",
			"payment captured but credits not applied; contact support"))
		return
	}
	switch {
	case errors.Is(err, checkout.ErrAmountMismatch):
		ctx.JSON(http.StatusBadRequest, errorResponse("amount_mismatch", "payment amount does not match the order"))
		return
	case errors.Is(err, checkout.ErrIntentNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("order_not_found", "no payment was prepared for this order"))
		return
	case errors.Is(err, checkout.ErrIntentClosed):
		ctx.JSON(http.StatusConflict, errorResponse("order_closed", "this order was cancelled"))
		return
	}
	var gatewayError *toss.Error
	if errors.As(err, &gatewayError) {
		ctx.JSON(gatewayError.HTTPStatus, errorResponse(gatewayError.Code, gatewayError.Message))
		return
	}
	handler.logger.Error("payment complete failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("payment_failed", "payment could not be completed"))
}

func (handler *httpHandler) handlePaymentCancel(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request cancelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	if err := handler.services.Checkout.Cancel(requestCtx, request.PaymentKey, request.CancelReason); err != nil {
		if errors.Is(err, checkout.ErrInvalidRequest) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "paymentKey is required"))
			return
		}
		var gatewayError *toss.Error
		if errors.As(err, &gatewayError) {
			ctx.JSON(gatewayError.HTTPStatus, errorResponse(gatewayError.Code, gatewayError.Message))
			return
		}
		handler.logger.Error("payment cancel failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("cancel_failed", "payment could not be cancelled"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (handler *httpHandler) handleContentGenerate(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	var request generateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.services.Content.Generate(requestCtx, userID, request.Topic)
	if err != nil {
		switch {
		case errors.Is(err, content.ErrEmptyTopic):
			ctx.JSON(http.StatusBadRequest, errorResponse("empty_topic", "topic is required"))
		case errors.Is(err, ledger.ErrInsufficientCredits):
			ctx.JSON(http.StatusBadRequest, errorResponse("insufficient_credits", "not enough credits"))
		default:
			handler.logger.Error("content generation failed", zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("generation_failed", "content could not be generated"))
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"content": gin.H{
			"id":      result.GenerationID,
			"topic":   result.Topic,
			"title":   result.Title,
			"content": result.Content,
			"seoTips": result.SEOTips,
		},
		"remainingCredits": result.RemainingCredits,
		"fallback":         result.Fallback,
	})
}

func (handler *httpHandler) handleContentHistory(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	limit := parseLimit(ctx.Query("limit"))
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	generations, err := handler.services.Content.History(requestCtx, userID, limit)
	if err != nil {
		handler.logger.Error("content history failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "history unavailable"))
		return
	}
	payload := make([]gin.H, 0, len(generations))
	for _, generation := range generations {
		payload = append(payload, gin.H{
			"id":        generation.GenerationID,
			"topic":     generation.Topic,
			"title":     generation.Title,
			"content":   generation.Content,
			"seoTips":   generation.SEOTips,
			"createdAt": generation.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"contents": payload})
}

func (handler *httpHandler) requireUser(ctx *gin.Context) (ledger.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > defaultHistoryLimit {
		return defaultHistoryLimit
	}
	return limit
}
