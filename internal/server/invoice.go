package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/paysettle/internal/invoice/domain"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	"go.uber.org/zap"
)

// GetInvoice returns the invoice view model, or the rendered page with ?format=html.
// An unresolved payable still produces a generic invoice.
func (s *Server) GetInvoice(c *gin.Context) {
	ctx := c.Request.Context()
	reference := c.Param("reference")

	if strings.EqualFold(strings.TrimSpace(c.Query("format")), "html") {
		html, err := s.invoices.RenderHTML(ctx, reference)
		if !s.acceptInvoiceResult(ctx, c, reference, html != "", err) {
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
		return
	}

	vm, err := s.invoices.Build(ctx, reference)
	if !s.acceptInvoiceResult(ctx, c, reference, vm != nil, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": vm})
}

func (s *Server) GetInvoicePDF(c *gin.Context) {
	ctx := c.Request.Context()
	reference := c.Param("reference")

	doc, err := s.invoices.RenderPDF(ctx, reference)
	if !s.acceptInvoiceResult(ctx, c, reference, doc != nil, err) {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

func (s *Server) acceptInvoiceResult(ctx context.Context, c *gin.Context, reference string, produced bool, err error) bool {
	if err == nil {
		return true
	}
	if produced && errors.Is(err, invoicedomain.ErrUnresolvedPayable) {
		obslogger.WithPayment(obslogger.WithContext(ctx, s.log), reference).
			Warn("invoice rendered with generic product block", zap.Error(err))
		return true
	}
	AbortWithError(c, err)
	return false
}
