package domain

import "github.com/shopspring/decimal"

// FilsPlaces is the Kuwaiti Dinar minor-unit precision.
const FilsPlaces = 3

// SettleTolerance absorbs one fils of rounding between cart total and payments.
var SettleTolerance = decimal.New(1, -FilsPlaces)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

func RoundFils(d decimal.Decimal) decimal.Decimal {
	return d.Round(FilsPlaces)
}

// LineAmount is weight times price per gram plus a flat labor charge, unrounded.
func LineAmount(weightGrams, pricePerGram, laborCharge decimal.Decimal) decimal.Decimal {
	return weightGrams.Mul(pricePerGram).Add(laborCharge)
}

// LineTotal is LineAmount rounded to fils for display.
func LineTotal(weightGrams, pricePerGram, laborCharge decimal.Decimal) decimal.Decimal {
	return RoundFils(LineAmount(weightGrams, pricePerGram, laborCharge))
}
