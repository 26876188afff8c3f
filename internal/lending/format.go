package lending

import (
	"strconv"
	"strings"
)

// plainAmount renders an amount without grouping, dropping a fractional part
// of zero. 5000 -> "5000", 1234.5 -> "1234.5".
func plainAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// groupedAmount renders an amount with thousands separators.
// 5000 -> "5,000", 1234.5 -> "1,234.5".
func groupedAmount(amount float64) string {
	s := plainAmount(amount)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}
