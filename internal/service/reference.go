package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewBookingRef builds PREFIX-<base36 unix millis>-<4 random base36 chars>
func NewBookingRef(prefix string, now time.Time) (string, error) {
	suffix := make([]byte, 4)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		suffix[i] = base36Alphabet[n.Int64()]
	}

	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	if prefix == "" {
		return fmt.Sprintf("%s-%s", stamp, suffix), nil
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(prefix), stamp, suffix), nil
}
