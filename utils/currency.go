package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatCurrencyIDR renders an amount as Rupiah: dots between thousands,
// comma before cents, cents dropped when zero. 15000.5 -> "Rp 15.000,50".
func FormatCurrencyIDR(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	cents := int64(math.Round(amount * 100))
	whole, frac := cents/100, cents%100

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}

	if frac == 0 {
		return "Rp " + sign + b.String()
	}
	return fmt.Sprintf("Rp %s%s,%02d", sign, b.String(), frac)
}
