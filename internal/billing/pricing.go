package billing

import (
	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/config"
)

// MaxPackageDays bounds a single purchase.
const MaxPackageDays = 730

// AmountCents prices a day package in integer minor units. 30 days is the
// base price, 365 days is discounted against twelve base packages, and any
// other length is linear at the 30-day rate.
func AmountCents(p config.Pricing, days int) (int64, error) {
	if days <= 0 || days > MaxPackageDays {
		return 0, apperr.Invalid("days must be between 1 and 730")
	}
	base := p.BaseCents30Day
	switch days {
	case 30:
		return base, nil
	case 365:
		return base * 12 * int64(p.YearDiscount) / 100, nil
	default:
		return base * int64(days) / 30, nil
	}
}
