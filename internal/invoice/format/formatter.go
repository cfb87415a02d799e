package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var (
	refTailRe = regexp.MustCompile(`\{REF(\d+)\}`)
)

const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}-{REF8}"

const referencePrefix = "PAY-"

// FormatInvoiceNumber derives a human-readable invoice number from the
// payment reference and the invoice date. The result is stable for a payment.
func FormatInvoiceNumber(
	template string,
	issuedAt time.Time,
	reference string,
) (string, error) {

	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}

	ref := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(reference), referencePrefix))
	if ref == "" {
		return "", fmt.Errorf("invoice reference is empty")
	}

	out := template

	// Date tokens
	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", issuedAt.Format("02"))

	out = strings.ReplaceAll(out, "{REF}", ref)

	// Reference tail
	out = refTailRe.ReplaceAllStringFunc(out, func(m string) string {
		match := refTailRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		if width >= len(ref) {
			return ref
		}
		return ref[len(ref)-width:]
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders minor units in the currency's ISO 4217 scale,
// e.g. 150000 XOF -> "150,000 XOF" and 1999 EUR -> "19.99 EUR".
func FormatAmount(amount int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%d %s", amount, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := decimal.New(amount, -int32(scale))
	return printer.Sprintf("%v %s", number.Decimal(value.InexactFloat64(), number.Scale(scale)), unit)
}

func FormatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02")
}
