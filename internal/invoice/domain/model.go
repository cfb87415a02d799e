package domain

import (
	"errors"
	"time"
)

var (
	ErrPaymentNotSucceeded   = errors.New("payment_not_succeeded")
	ErrUnresolvedPayable     = errors.New("unresolved_payable")
	ErrRendererNotConfigured = errors.New("renderer_not_configured")
)

// InvoiceViewModel is everything an invoice shows. Amounts are minor units.
type InvoiceViewModel struct {
	Reference string       `json:"reference"`
	Number    string       `json:"number"`
	Date      time.Time    `json:"date"`
	Status    string       `json:"status"`
	Currency  string       `json:"currency"`
	Amount    int64        `json:"amount"`
	Subtotal  int64        `json:"subtotal"`
	Tax       int64        `json:"tax"`
	Total     int64        `json:"total"`
	Customer  Customer     `json:"customer"`
	Company   Company      `json:"company"`
	Product   ProductBlock `json:"product"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Company struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	Website string `json:"website,omitempty"`
}

// ProductBlock describes what was paid for. Details keep display order.
type ProductBlock struct {
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Details []Detail `json:"details"`
}

type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Document is a rendered invoice ready to be served as a download.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}
