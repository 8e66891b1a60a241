package gateway

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// NewPrinter returns a printer for locale, falling back to English when the
// tag cannot be parsed.
func NewPrinter(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

// FormatAmount renders d with grouping and two fraction digits.
func FormatAmount(p *message.Printer, d decimal.Decimal) string {
	f := d.Round(2).InexactFloat64()
	return p.Sprint(number.Decimal(f, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
