package domain

// FeeModel applies a flat taker fee rate to traded value.
type FeeModel struct {
	TakerRate float64
}

// Fee returns the taker fee charged on value.
func (f FeeModel) Fee(value float64) float64 {
	return value * f.TakerRate
}

// EntryCost is the cost of buying count contracts at price, fee included.
func (f FeeModel) EntryCost(price float64, count int) float64 {
	v := price * float64(count)
	return v + f.Fee(v)
}

// PairCost is the per-contract cost of buying both sides, fees included.
func (f FeeModel) PairCost(yesAsk, noAsk float64) float64 {
	v := yesAsk + noAsk
	return v + f.Fee(v)
}

// ExitProfit is the profit of selling leg at price after the exit fee.
func (f FeeModel) ExitProfit(leg *Position, price float64) float64 {
	sell := price * float64(leg.Count)
	return sell - f.Fee(sell) - leg.Cost()
}
