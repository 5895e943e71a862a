package commission

import "github.com/shopspring/decimal"

var percentFull = decimal.NewFromInt(1)

// SplitPercent picks the percent applied to a raw commission amount.
// Priority: policy override, then the broker's default, then 100%.
// policy and broker are nullable; a row can resolve a policy whose broker is
// unknown to the directory snapshot.
func SplitPercent(policy *Policy, broker *Broker) decimal.Decimal {
	if policy != nil && policy.PercentOverride != nil {
		return *policy.PercentOverride
	}
	if broker != nil && !broker.PercentDefault.IsZero() {
		return broker.PercentDefault
	}
	return percentFull
}

// GrossAmount computes the broker's share of a raw commission amount.
// Pure; rounding is left to the caller's presentation layer.
func GrossAmount(raw decimal.Decimal, policy *Policy, broker *Broker) decimal.Decimal {
	return raw.Mul(SplitPercent(policy, broker))
}
