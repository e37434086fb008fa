package risk

import "fmt"

// Rules are the challenge limits, expressed as fractions of a baseline.
type Rules struct {
	// Circuit breakers
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"` // 0.05 of day-start equity
	MaxDrawdownPct    float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`         // 0.10 of start balance

	// Goal
	ProfitTargetPct float64 `yaml:"profit_target_pct" json:"profit_target_pct"` // 0.10 of start balance

	// Warning thresholds, in danger percent (0-100)
	WarnDangerPct float64 `yaml:"warn_danger_pct" json:"warn_danger_pct"` // 80
	HighDangerPct float64 `yaml:"high_danger_pct" json:"high_danger_pct"` // 90
}

func DefaultRules() Rules {
	return Rules{
		DailyLossLimitPct: 0.05,
		MaxDrawdownPct:    0.10,
		ProfitTargetPct:   0.10,
		WarnDangerPct:     80,
		HighDangerPct:     90,
	}
}

func (r Rules) Validate() error {
	if r.DailyLossLimitPct <= 0 || r.DailyLossLimitPct >= 1 {
		return fmt.Errorf("daily_loss_limit_pct must be in (0,1), got %v", r.DailyLossLimitPct)
	}
	if r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max_drawdown_pct must be in (0,1), got %v", r.MaxDrawdownPct)
	}
	if r.ProfitTargetPct <= 0 {
		return fmt.Errorf("profit_target_pct must be positive, got %v", r.ProfitTargetPct)
	}
	if r.WarnDangerPct <= 0 || r.WarnDangerPct > 100 {
		return fmt.Errorf("warn_danger_pct must be in (0,100], got %v", r.WarnDangerPct)
	}
	if r.HighDangerPct < r.WarnDangerPct || r.HighDangerPct > 100 {
		return fmt.Errorf("high_danger_pct must be in [warn_danger_pct,100], got %v", r.HighDangerPct)
	}
	return nil
}
