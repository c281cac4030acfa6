// Package fees holds the commission/tax schedule and the pure calculations
// derived from it: per-leg fees, break-even price, realized P&L.
//
// Nothing here does I/O or keeps hidden state; every output is deterministic
// given its inputs.
package fees

import "github.com/tradekit/autotrader/internal/config"

// Schedule is a set of commission and tax rates, all fractions of traded
// value. The special tax is levied on the transfer tax amount rather than on
// proceeds.
type Schedule struct {
	BuyRate         float64
	SellRate        float64
	TransferTaxRate float64
	SpecialTaxRate  float64
}

// NewSchedule builds a schedule from config. Simulation accounts trade
// fee-free; that is decided here once, not branched on at call sites.
func NewSchedule(cfg config.FeesConfig, simulation bool) Schedule {
	if simulation {
		return Schedule{}
	}
	return Schedule{
		BuyRate:         cfg.BuyRate,
		SellRate:        cfg.SellRate,
		TransferTaxRate: cfg.TransferTaxRate,
		SpecialTaxRate:  cfg.SpecialTaxRate,
	}
}

// sellRate is the combined fractional cost of the sell leg: commission plus
// transfer tax plus the special tax applied to the transfer tax.
func (s Schedule) sellRate() float64 {
	return s.SellRate + s.TransferTaxRate + s.TransferTaxRate*s.SpecialTaxRate
}

// BuyFee returns the cost of the buy leg.
func (s Schedule) BuyFee(price float64, qty int64) float64 {
	return price * float64(qty) * s.BuyRate
}

// SellFee returns the cost of the sell leg including taxes.
func (s Schedule) SellFee(price float64, qty int64) float64 {
	return price * float64(qty) * s.sellRate()
}

// BreakEvenPrice returns the minimum sell price at which net P&L is
// non-negative after both legs' costs.
func (s Schedule) BreakEvenPrice(entryPrice float64) float64 {
	return entryPrice * (1 + s.BuyRate) / (1 - s.sellRate())
}

// RealizedPnL returns net profit for closing qty shares bought at entryPrice
// and sold at exitPrice, after both legs' fees.
func (s Schedule) RealizedPnL(entryPrice, exitPrice float64, qty int64) float64 {
	gross := (exitPrice - entryPrice) * float64(qty)
	return gross - s.BuyFee(entryPrice, qty) - s.SellFee(exitPrice, qty)
}

// UnrealizedPnL returns mark-to-market profit for an open lot, net of the buy
// leg already paid and the sell leg that closing at price would cost.
func (s Schedule) UnrealizedPnL(entryPrice, price float64, qty int64) float64 {
	return s.RealizedPnL(entryPrice, price, qty)
}
