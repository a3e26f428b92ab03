package utils

import (
	"github.com/shopspring/decimal"
)

// Money amounts are carried as decimals with 2 digits of currency precision.
// Every rounding decision for order splitting funnels through this file so
// the policy stays deterministic: the rounded share goes to the allocated
// part, the residue (including any rounding cents) stays on the remainder.

const moneyPlaces = 2

// RoundMoney rounds to currency precision, half up.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(moneyPlaces)
}

// AllocateAmount splits amount by ratio in [0,1].
// part is rounded to currency precision; remainder absorbs the residue, so
// part + remainder == amount exactly for every input.
func AllocateAmount(amount decimal.Decimal, ratio decimal.Decimal) (part decimal.Decimal, remainder decimal.Decimal) {
	part = RoundMoney(amount.Mul(ratio))
	remainder = amount.Sub(part)
	return part, remainder
}

// AllocateAmounts applies AllocateAmount to each element independently, then
// corrects aggregate drift on the LAST element so that
// sum(parts) == RoundMoney(sum(amounts) * ratio) exactly.
// Element-level conservation (parts[i] + remainders[i] == amounts[i]) is
// preserved by the correction.
func AllocateAmounts(amounts []decimal.Decimal, ratio decimal.Decimal) (parts []decimal.Decimal, remainders []decimal.Decimal) {
	parts = make([]decimal.Decimal, len(amounts))
	remainders = make([]decimal.Decimal, len(amounts))

	total := decimal.Zero
	partsTotal := decimal.Zero
	for i, amount := range amounts {
		parts[i], remainders[i] = AllocateAmount(amount, ratio)
		total = total.Add(amount)
		partsTotal = partsTotal.Add(parts[i])
	}
	if len(amounts) == 0 {
		return parts, remainders
	}

	target := RoundMoney(total.Mul(ratio))
	drift := target.Sub(partsTotal)
	if !drift.IsZero() {
		last := len(amounts) - 1
		parts[last] = parts[last].Add(drift)
		remainders[last] = remainders[last].Sub(drift)
	}
	return parts, remainders
}

// SplitGst computes the GST amount for a subtotal at the given percent rate
// and divides it evenly into CGST and SGST. An odd cent lands on CGST.
func SplitGst(subTotal decimal.Decimal, ratePercent decimal.Decimal) (gst decimal.Decimal, cgst decimal.Decimal, sgst decimal.Decimal) {
	gst = RoundMoney(subTotal.Mul(ratePercent).Div(decimal.NewFromInt(100)))
	cgst = RoundMoney(gst.Div(decimal.NewFromInt(2)))
	sgst = gst.Sub(cgst)
	return gst, cgst, sgst
}
