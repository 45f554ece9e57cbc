package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type priceFormatter struct {
	def     currency.Unit
	printer *message.Printer
}

func newPriceFormatter(code string) *priceFormatter {
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.MustParseISO("NGN")
	}
	return &priceFormatter{def: unit, printer: message.NewPrinter(language.English)}
}

// format renders amount in code, or in the default currency when code is
// empty or unknown.
func (f *priceFormatter) format(amount float64, code string) string {
	unit := f.def
	if code != "" {
		if u, err := currency.ParseISO(code); err == nil {
			unit = u
		}
	}
	return f.printer.Sprint(currency.Symbol(unit.Amount(amount)))
}

func (f *priceFormatter) price(isFree bool, amount float64) string {
	if isFree {
		return "free"
	}
	return f.format(amount, "")
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
