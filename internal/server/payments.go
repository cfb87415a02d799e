package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	paymentdomain "github.com/smallbiznis/paysettle/internal/payment/domain"
	"github.com/smallbiznis/paysettle/pkg/db/pagination"
)

type createPaymentRequest struct {
	PayableType string         `json:"payable_type"`
	PayableID   int64          `json:"payable_id"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Channel     string         `json:"channel"`
	Customer    customerInput  `json:"customer"`
	Metadata    map[string]any `json:"metadata"`
}

type customerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type initiatePaymentRequest struct {
	SessionID string `json:"session_id"`
	ReturnURL string `json:"return_url"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payableType := strings.ToLower(strings.TrimSpace(req.PayableType))
	if payableType == "" {
		AbortWithError(c, newValidationError("payable_type", "required", "payable_type is required"))
		return
	}
	if req.PayableID <= 0 {
		AbortWithError(c, newValidationError("payable_id", "required", "payable_id is required"))
		return
	}

	ctx := c.Request.Context()
	target, err := s.payables.Resolve(ctx, payableType, req.PayableID)
	if err != nil {
		if errors.Is(err, payabledomain.ErrUnregisteredPayable) {
			AbortWithError(c, paymentdomain.ErrUnknownPayable)
			return
		}
		AbortWithError(c, err)
		return
	}

	if target.Paid() && !target.Renewable() {
		AbortWithError(c, paymentdomain.ErrAlreadyPaid)
		return
	}
	// The payable prices the checkout; a client amount may only restate it.
	amount := target.AmountDue()
	if req.Amount != 0 && req.Amount != amount {
		AbortWithError(c, fmt.Errorf("%w: amount must equal the amount due", paymentdomain.ErrInvalidAmount))
		return
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, ok := metadata["label"]; !ok {
		metadata["label"] = target.Label()
	}

	record, err := s.ledger.Create(ctx, paymentdomain.CreatePaymentRequest{
		PayableType: payableType,
		PayableID:   req.PayableID,
		Amount:      amount,
		Currency:    req.Currency,
		Channel:     req.Channel,
		Customer: paymentdomain.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Metadata: metadata,
		OriginIP: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": record})
}

func (s *Server) GetPayment(c *gin.Context) {
	record, err := s.ledger.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

// InitiatePayment binds the gateway session and returns the signed fields
// the client forwards to the gateway.
func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.ledger.MarkInitiated(c.Request.Context(), c.Param("reference"), req.SessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	fields := map[string]any{
		"reference":  record.Reference,
		"session_id": req.SessionID,
		"amount":     record.Amount,
		"currency":   record.Currency,
	}
	if record.CustomerEmail != "" {
		fields["customer_email"] = record.CustomerEmail
	}
	if returnURL := strings.TrimSpace(req.ReturnURL); returnURL != "" {
		fields["return_url"] = returnURL
	}
	signed, err := s.redirect.Sign(fields)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     record,
		"redirect": signed,
	})
}

func (s *Server) ListPaymentEvents(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	events, pageInfo, err := s.ledger.Events(c.Request.Context(), c.Param("reference"), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      events,
		"page_info": pageInfo,
	})
}

func (s *Server) ListPayableTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.payables.Types()})
}
