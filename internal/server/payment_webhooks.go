package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/paysettle/internal/observability/logger"
	payabledomain "github.com/smallbiznis/paysettle/internal/payable/domain"
	"github.com/smallbiznis/paysettle/internal/payment/webhook"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// HandlePaymentCallback always answers with the ingestor's ack. Gateways
// retry on anything but 2xx, so internal failures only reach the logs.
func (s *Server) HandlePaymentCallback(c *gin.Context) {
	fields, err := callbackFields(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "unreadable_body"})
		return
	}

	ctx := c.Request.Context()
	ack, err := s.ingestor.Handle(ctx, webhook.InboundCallback{
		Fields:   fields,
		OriginIP: c.ClientIP(),
	})
	if err != nil {
		log := obslogger.WithContext(ctx, s.log)
		if errors.Is(err, payabledomain.ErrUnregisteredPayable) {
			log.Error("callback settled an unregistered payable", zap.Error(err))
		} else {
			log.Warn("callback handled with errors", zap.Error(err))
		}
	}

	c.JSON(ack.HTTPStatus, ack.Body)
}

// callbackFields flattens query, form and JSON bodies into one map.
// Body values win over query values with the same key.
func callbackFields(c *gin.Context) (map[string]string, error) {
	fields := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	if c.Request.Method != http.MethodPost {
		return fields, nil
	}

	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, err
		}
		for key, value := range body {
			str, err := cast.ToStringE(value)
			if err != nil {
				continue
			}
			fields[key] = str
		}
		return fields, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		if err := c.Request.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}
		for key, values := range c.Request.MultipartForm.Value {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
	}
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	return fields, nil
}
