package risk

import "fmt"

// Hard caps on leverage sizing. Sentiment multipliers and position scaling
// can never push the result past these, regardless of policy values.
const (
	HardMaxLeverage   = 3.0
	HardMaxIterations = 3

	// Conservative fallback returned when sizing fails internally.
	FallbackLeverage   = 1.5
	FallbackIterations = 1
)

// Policy holds the tunable risk parameters for leverage sizing, the safety
// gate and the health monitor. Loaded from an optional YAML file; zero values
// are replaced by defaults.
type Policy struct {
	// Sizing
	BaseMaxLeverage      float64 `yaml:"base_max_leverage"`
	BaseMaxIterations    int     `yaml:"base_max_iterations"`
	BullishLeverageMult  float64 `yaml:"bullish_leverage_mult"`
	BullishIterationMult float64 `yaml:"bullish_iteration_mult"`
	BearishLeverageMult  float64 `yaml:"bearish_leverage_mult"`
	BearishIterationMult float64 `yaml:"bearish_iteration_mult"`

	// Position scaling relative to total portfolio value. Capital below the
	// tiny fraction is allowed 1 iteration, below the medium fraction 2.
	TinyPositionPct   float64 `yaml:"tiny_position_pct"`
	MediumPositionPct float64 `yaml:"medium_position_pct"`
	PortfolioValueUSD float64 `yaml:"portfolio_value_usd"`

	// Health monitor thresholds
	UnwindThreshold    float64 `yaml:"unwind_threshold"`
	EmergencyThreshold float64 `yaml:"emergency_threshold"`

	// Safety gate limits
	MinOperatingBalanceUSD float64 `yaml:"min_operating_balance_usd"`
	MaxTotalExposureUSD    float64 `yaml:"max_total_exposure_usd"`
	MaxActiveLoops         int     `yaml:"max_active_loops"`
}

// DefaultPolicy returns the built-in conservative policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseMaxLeverage:        2.0,
		BaseMaxIterations:      2,
		BullishLeverageMult:    1.25,
		BullishIterationMult:   1.5,
		BearishLeverageMult:    0.6,
		BearishIterationMult:   0.5,
		TinyPositionPct:        0.05,
		MediumPositionPct:      0.15,
		UnwindThreshold:        0.3,
		EmergencyThreshold:     0.1,
		MinOperatingBalanceUSD: 100.0,
		MaxActiveLoops:         5,
	}
}

// Normalize fills zero fields with defaults and validates the rest.
func (p *Policy) Normalize() error {
	def := DefaultPolicy()
	if p.BaseMaxLeverage <= 0 {
		p.BaseMaxLeverage = def.BaseMaxLeverage
	}
	if p.BaseMaxIterations <= 0 {
		p.BaseMaxIterations = def.BaseMaxIterations
	}
	if p.BullishLeverageMult <= 0 {
		p.BullishLeverageMult = def.BullishLeverageMult
	}
	if p.BullishIterationMult <= 0 {
		p.BullishIterationMult = def.BullishIterationMult
	}
	if p.BearishLeverageMult <= 0 {
		p.BearishLeverageMult = def.BearishLeverageMult
	}
	if p.BearishIterationMult <= 0 {
		p.BearishIterationMult = def.BearishIterationMult
	}
	if p.TinyPositionPct <= 0 {
		p.TinyPositionPct = def.TinyPositionPct
	}
	if p.MediumPositionPct <= 0 {
		p.MediumPositionPct = def.MediumPositionPct
	}
	if p.UnwindThreshold <= 0 {
		p.UnwindThreshold = def.UnwindThreshold
	}
	if p.EmergencyThreshold <= 0 {
		p.EmergencyThreshold = def.EmergencyThreshold
	}
	if p.MinOperatingBalanceUSD < 0 {
		p.MinOperatingBalanceUSD = def.MinOperatingBalanceUSD
	}
	if p.MaxActiveLoops <= 0 {
		p.MaxActiveLoops = def.MaxActiveLoops
	}

	if p.TinyPositionPct >= p.MediumPositionPct {
		return fmt.Errorf("tiny_position_pct must be less than medium_position_pct")
	}
	if p.EmergencyThreshold >= p.UnwindThreshold {
		return fmt.Errorf("emergency_threshold must be less than unwind_threshold")
	}
	return nil
}
