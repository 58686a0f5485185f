package domain

import "github.com/shopspring/decimal"

const (
	// CreditScale is the number of fractional digits stored for credits.
	CreditScale = 6
	// creditIntDigits bounds the integer part so amounts fit NUMERIC(18, 6).
	creditIntDigits = 12
	// minExponent caps the work needed to check a finely scaled value.
	minExponent = -64
)

// MaxCreditAmount is the exclusive upper bound of any stored credit amount.
var MaxCreditAmount = decimal.New(1, creditIntDigits)

// IsStorableAmount reports whether d can be stored exactly: no more than
// CreditScale fractional digits and magnitude below MaxCreditAmount.
// The exponent is checked first so no rescaling of extreme values happens.
func IsStorableAmount(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > creditIntDigits || exp < minExponent {
		return false
	}
	if exp < -CreditScale && !d.Equal(d.Truncate(CreditScale)) {
		return false
	}
	return d.Abs().LessThan(MaxCreditAmount)
}
