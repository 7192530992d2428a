package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var ErrInvalidPaymentDetails = errors.New("invalid payment details")

const expiryLayout = "01/06"

// ValidatePaymentDetails checks the checkout form the same way for every
// client. All problems are reported at once, joined into one error that
// matches ErrInvalidPaymentDetails.
func ValidatePaymentDetails(details domain.PaymentDetails, now time.Time) error {
	var problems []string

	if strings.TrimSpace(details.FirstName) == "" {
		problems = append(problems, "first_name is required")
	}
	if strings.TrimSpace(details.LastName) == "" {
		problems = append(problems, "last_name is required")
	}
	if strings.TrimSpace(details.Address) == "" {
		problems = append(problems, "address is required")
	}
	if !isDigits(details.Phone, 8) {
		problems = append(problems, "phone must be 8 digits")
	}
	if !isDigits(details.CardNumber, 16) {
		problems = append(problems, "card_number must be 16 digits")
	}
	if !isDigits(details.CVV, 3) {
		problems = append(problems, "cvv must be 3 digits")
	}
	if err := validateExpiry(details.Expiry, now); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPaymentDetails, strings.Join(problems, "; "))
	}
	return nil
}

// FormatExpiry turns whatever the user typed into MM/YY, keeping at most four
// digits: "1", "12", "12/3", "12/34".
func FormatExpiry(input string) string {
	var digits strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	switch {
	case len(d) <= 2:
		return d
	case len(d) <= 4:
		return d[:2] + "/" + d[2:]
	default:
		return d[:2] + "/" + d[2:4]
	}
}

func validateExpiry(expiry string, now time.Time) error {
	if len(expiry) != len(expiryLayout) {
		return errors.New("expiry must be MM/YY")
	}
	parsed, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return errors.New("expiry must be MM/YY")
	}

	// a card is good through the last day of its expiry month
	if parsed.Year() < now.Year() || (parsed.Year() == now.Year() && parsed.Month() < now.Month()) {
		return errors.New("card expired")
	}
	return nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
