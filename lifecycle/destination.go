package lifecycle

import (
	"fmt"
	"strings"

	"channel-sub-bot/model"
)

// ValidateDestination checks the payout destination for the chosen method
// and returns it trimmed.
//
// Sham Cash codes are at least five characters with no whitespace and no
// links. USDT (BEP20) addresses start with 0x and are at least ten characters.
func ValidateDestination(method model.WithdrawalMethod, dest string) (string, error) {
	dest = strings.TrimSpace(dest)

	switch method {
	case model.MethodShamCash:
		if len(dest) < 5 || strings.ContainsAny(dest, " \t\n") || strings.Contains(strings.ToLower(dest), "http") {
			return "", fmt.Errorf("%w: a Sham Cash code is at least 5 characters without spaces or links", ErrInvalidDestination)
		}
	case model.MethodUSDT:
		if !strings.HasPrefix(dest, "0x") || len(dest) < 10 {
			return "", fmt.Errorf("%w: a BEP20 address starts with 0x and is at least 10 characters", ErrInvalidDestination)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return dest, nil
}
