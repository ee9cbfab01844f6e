package services

import (
	"math"
	"strings"
)

// Pricing defaults reproduce the production storefront economics: fixed
// USD→EUR conversion, a 35% margin plus a one-euro handling fee, and retail
// prices rounded to the nearest half unit.
const (
	defaultFixedFX     = 0.93
	defaultMarginPct   = 0.35
	defaultMarginFixed = 1.0
	defaultRoundTo     = 0.5
	defaultCurrency    = "eur"
)

// PricingSettings controls how unit amounts are derived.
type PricingSettings struct {
	// Enforce recomputes every unit amount server-side from the catalog base
	// price, ignoring whatever the storefront sent.
	Enforce     bool
	FXMode      string
	FixedFX     float64
	MarginPct   float64
	MarginFixed float64
	RoundTo     float64
	Currency    string
}

// PricingEngine converts catalog base prices into chargeable minor-unit
// amounts. It is deterministic: the same inputs always produce the same
// amount, so a retried checkout never reprices a cart.
type PricingEngine struct {
	settings PricingSettings
}

// UnitAmountQuery carries both pricing inputs for one cart line.
type UnitAmountQuery struct {
	// BasePriceMajor is the provider catalog price in major source-currency units.
	BasePriceMajor float64
	// FallbackAmountMinor is the storefront-declared price in minor units,
	// used only when enforcement is off.
	FallbackAmountMinor float64
}

// NewPricingEngine constructs an engine, filling unset knobs with defaults.
func NewPricingEngine(settings PricingSettings) *PricingEngine {
	if settings.FixedFX <= 0 {
		settings.FixedFX = defaultFixedFX
	}
	if settings.MarginPct <= 0 {
		settings.MarginPct = defaultMarginPct
	}
	if settings.MarginFixed <= 0 {
		settings.MarginFixed = defaultMarginFixed
	}
	if settings.RoundTo <= 0 {
		settings.RoundTo = defaultRoundTo
	}
	settings.Currency = strings.ToLower(strings.TrimSpace(settings.Currency))
	if settings.Currency == "" {
		settings.Currency = defaultCurrency
	}
	settings.FXMode = strings.ToLower(strings.TrimSpace(settings.FXMode))
	return &PricingEngine{settings: settings}
}

// Currency returns the charge currency in lowercase ISO form.
func (e *PricingEngine) Currency() string {
	return e.settings.Currency
}

// Enforced reports whether server-side repricing is active.
func (e *PricingEngine) Enforced() bool {
	return e.settings.Enforce
}

// UnitAmountMinor resolves the chargeable amount in minor units for one line.
// The enforced computation applies only when enforcement is on AND a positive
// catalog base price is present; every other combination clamps the
// storefront amount to a non-negative integer.
func (e *PricingEngine) UnitAmountMinor(q UnitAmountQuery) int64 {
	if e.settings.Enforce && q.BasePriceMajor > 0 {
		retail := e.applyMargin(e.convert(q.BasePriceMajor))
		retail = roundToStep(retail, e.settings.RoundTo)
		return int64(math.Round(retail * 100))
	}
	return int64(math.Round(math.Max(0, q.FallbackAmountMinor)))
}

// convert applies the source→charge currency conversion. Only the fixed-rate
// mode is implemented; a live-rate mode would slot in here keyed on FXMode.
func (e *PricingEngine) convert(baseMajor float64) float64 {
	return baseMajor * e.settings.FixedFX
}

func (e *PricingEngine) applyMargin(amount float64) float64 {
	return amount*(1+e.settings.MarginPct) + e.settings.MarginFixed
}

// roundToStep rounds to the nearest multiple of step, half away from zero.
func roundToStep(amount, step float64) float64 {
	return math.Round(amount/step) * step
}
