package api

import (
	"net/http"

	"parking-service/internal/models"

	"github.com/gin-gonic/gin"
)

type createIntentRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

type confirmPaymentRequest struct {
	SessionID       string `json:"session_id" binding:"required"`
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

type refundRequest struct {
	Amount float64 `json:"amount" binding:"omitempty,gt=0"`
	Reason string  `json:"reason"`
}

type listPaymentsQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// createIntent handles payment intent creation
func (h *Handler) createIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	record, err := h.payments.CreateIntent(c.Request.Context(), callerID(c), req.SessionID, req.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// confirmPayment handles payment confirmation. A declined payment answers
// 402 with the failed record.
func (h *Handler) confirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	record, err := h.payments.Confirm(c.Request.Context(), callerID(c), req.SessionID, req.PaymentIntentID)
	if err != nil {
		respondError(c, err)
		return
	}

	switch record.Status {
	case models.PaymentStatusFailed:
		c.JSON(http.StatusPaymentRequired, record)
	case models.PaymentStatusPending:
		c.JSON(http.StatusAccepted, record)
	default:
		c.JSON(http.StatusOK, record)
	}
}

func (h *Handler) listPayments(c *gin.Context) {
	var q listPaymentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	payments, err := h.payments.List(c.Request.Context(), callerID(c), q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

func (h *Handler) getPayment(c *gin.Context) {
	record, err := h.payments.Get(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// refundPayment handles refunds; an omitted amount refunds in full
func (h *Handler) refundPayment(c *gin.Context) {
	var req refundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	refund, err := h.payments.Refund(c.Request.Context(), callerID(c), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}
