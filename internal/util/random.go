// Package util provides small helpers shared across UssdPipe components.
package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; not for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateLoanID generates a loan reference like "LOAN1756450800123a3f".
// The millisecond timestamp keeps references sortable; the hex suffix guards
// against same-millisecond collisions.
func GenerateLoanID() string {
	return fmt.Sprintf("LOAN%d%s", time.Now().UnixMilli(), GenerateRandomHex(3))
}

// GenerateTicketNumber generates an event ticket like "TC800123a3f".
func GenerateTicketNumber() string {
	millis := fmt.Sprintf("%d", time.Now().UnixMilli())
	return "TC" + millis[len(millis)-6:] + GenerateRandomHex(3)
}
