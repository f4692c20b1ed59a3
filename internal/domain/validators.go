package domain

import "fmt"

// ValidatePositiveAmount checks that a currency amount is positive.
// There is no negative or penalty path in the progression ledger.
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return ErrValidation(fmt.Sprintf("amount must be positive, got %d", amount))
	}
	return nil
}

// ValidateCurrencyKind checks that the currency is xp or ep.
func ValidateCurrencyKind(k CurrencyKind) error {
	if !k.Valid() {
		return ErrValidation(fmt.Sprintf("unknown currency kind: %q", k))
	}
	return nil
}

// ValidateScore checks an optional 0..100 score.
func ValidateScore(score *int) error {
	if score == nil {
		return nil
	}
	if *score < 0 || *score > MaxScore {
		return ErrValidation(fmt.Sprintf("score must be between 0 and %d, got %d", MaxScore, *score))
	}
	return nil
}

// ValidateRewardIdentifier checks that a reward identifier is usable as a grant key.
func ValidateRewardIdentifier(id string) error {
	if id == "" {
		return ErrValidation("reward identifier is required")
	}
	if len(id) > 128 {
		return ErrValidation(fmt.Sprintf("reward identifier too long (%d chars, max 128)", len(id)))
	}
	return nil
}
