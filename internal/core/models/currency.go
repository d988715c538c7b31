package models

import "strings"

// DefaultCurrency is the settlement currency of the Pix rail.
const DefaultCurrency = "BRL"

// NormalizeCurrency upper-cases an ISO 4217 code and falls back to DefaultCurrency.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}
