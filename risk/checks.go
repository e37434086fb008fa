package risk

import (
	"fmt"

	"github.com/rustyeddy/challenger/pnl"
)

const (
	CodeDailyLoss   = "DAILY_LOSS_EXCEEDED"
	CodeMaxDrawdown = "MAX_DRAWDOWN_EXCEEDED"

	CodeApproachingDailyLimit    = "APPROACHING_DAILY_LIMIT"
	CodeApproachingDrawdownLimit = "APPROACHING_DRAWDOWN_LIMIT"
)

type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

// Warning is an approaching-limit notice. It never changes status.
type Warning struct {
	Code      string  `json:"code"`
	Msg       string  `json:"message"`
	DangerPct float64 `json:"danger_pct"`
	Severity  string  `json:"severity"`
}

// Metrics are the rule inputs and outputs, in currency and percent.
type Metrics struct {
	CurrentEquity  float64 `json:"current_equity"`
	InitialBalance float64 `json:"initial_balance"`
	DayStartEquity float64 `json:"day_start_equity"`

	DailyLoss      float64 `json:"daily_loss"`
	DailyLossPct   float64 `json:"daily_loss_pct"`
	DailyLimit     float64 `json:"daily_limit"`
	DailyDangerPct float64 `json:"daily_danger_pct"`

	TotalDrawdown     float64 `json:"total_drawdown"`
	TotalDrawdownPct  float64 `json:"total_drawdown_pct"`
	MaxDrawdownLimit  float64 `json:"max_drawdown_limit"`
	DrawdownDangerPct float64 `json:"drawdown_danger_pct"`

	Profit            float64 `json:"profit"`
	ProfitPct         float64 `json:"profit_pct"`
	ProfitTarget      float64 `json:"profit_target"`
	ProfitProgressPct float64 `json:"profit_progress_pct"`
	TargetReached     bool    `json:"target_reached"`
}

// Assessment is the result of checking one equity reading against the rules.
type Assessment struct {
	Metrics     Metrics     `json:"metrics"`
	Violations  []Violation `json:"violations"`
	Warnings    []Warning   `json:"warnings"`
	DangerLevel float64     `json:"danger_level"`
	Level       Level       `json:"level"`
	ShouldFail  bool        `json:"should_fail"`
	FailReason  string      `json:"fail_reason,omitempty"`
	ShouldPass  bool        `json:"should_pass"`
}

// add records a violation. The last one checked names the failure, so
// a drawdown breach outranks a same-tick daily breach.
func (a *Assessment) add(code, msg string) {
	a.Violations = append(a.Violations, Violation{Code: code, Msg: msg})
	a.ShouldFail = true
	a.FailReason = code
}

func (a *Assessment) warn(r Rules, code, msg string, danger float64) {
	if danger < r.WarnDangerPct {
		return
	}
	severity := "medium"
	if danger >= r.HighDangerPct {
		severity = "high"
	}
	a.Warnings = append(a.Warnings, Warning{Code: code, Msg: msg, DangerPct: pnl.Round2(danger), Severity: severity})
}

// Evaluate checks equity against the daily-loss, drawdown and profit rules.
// A rule whose baseline is not positive is skipped and reports zeros.
// Loss violations win over the profit target.
func Evaluate(r Rules, startBalance, dayStartEquity, equity float64) Assessment {
	a := Assessment{
		Violations: []Violation{},
		Warnings:   []Warning{},
	}
	m := &a.Metrics
	m.CurrentEquity = pnl.Round2(equity)
	m.InitialBalance = pnl.Round2(startBalance)
	m.DayStartEquity = pnl.Round2(dayStartEquity)

	// Daily loss
	var dailyFrac, dailyDanger float64
	if dayStartEquity > 0 {
		dailyFrac = lossFraction(dayStartEquity, equity)
		dailyDanger = dangerPct(dailyFrac, r.DailyLossLimitPct)
		m.DailyLoss = pnl.Round2(dayStartEquity - equity)
		m.DailyLossPct = pnl.Round2(dailyFrac * 100)
		m.DailyLimit = pnl.Round2(dayStartEquity * r.DailyLossLimitPct)
		m.DailyDangerPct = pnl.Round2(dailyDanger)

		if dailyFrac >= r.DailyLossLimitPct {
			a.add(CodeDailyLoss,
				fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", 100*dailyFrac, 100*r.DailyLossLimitPct))
		} else {
			a.warn(r, CodeApproachingDailyLimit,
				fmt.Sprintf("daily loss at %.0f%% of limit", dailyDanger), dailyDanger)
		}
	}

	// Max drawdown and profit target share the start balance
	var ddDanger float64
	if startBalance > 0 {
		ddFrac := lossFraction(startBalance, equity)
		ddDanger = dangerPct(ddFrac, r.MaxDrawdownPct)
		m.TotalDrawdown = pnl.Round2(startBalance - equity)
		m.TotalDrawdownPct = pnl.Round2(ddFrac * 100)
		m.MaxDrawdownLimit = pnl.Round2(startBalance * r.MaxDrawdownPct)
		m.DrawdownDangerPct = pnl.Round2(ddDanger)

		if ddFrac >= r.MaxDrawdownPct {
			a.add(CodeMaxDrawdown,
				fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", 100*ddFrac, 100*r.MaxDrawdownPct))
		} else {
			a.warn(r, CodeApproachingDrawdownLimit,
				fmt.Sprintf("drawdown at %.0f%% of limit", ddDanger), ddDanger)
		}

		profitFrac := -ddFrac
		m.Profit = pnl.Round2(equity - startBalance)
		m.ProfitPct = pnl.Round2(profitFrac * 100)
		m.ProfitTarget = pnl.Round2(startBalance * r.ProfitTargetPct)
		if r.ProfitTargetPct > 0 {
			m.ProfitProgressPct = pnl.Round2(clamp(profitFrac/r.ProfitTargetPct*100, 0, 100))
		}
		m.TargetReached = profitFrac >= r.ProfitTargetPct
	}

	a.DangerLevel = pnl.Round2(max(dailyDanger, ddDanger))
	a.Level = LevelFor(a.DangerLevel)
	a.ShouldPass = !a.ShouldFail && m.TargetReached
	return a
}
