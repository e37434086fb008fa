package risk

// Level is a coarse danger bucket for display. It never drives a
// transition; only the rule thresholds do.
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelWarning  Level = "WARNING"
	LevelDanger   Level = "DANGER"
	LevelCritical Level = "CRITICAL"
)

// LevelFor buckets a danger percent: <60 normal, <80 warning, <95 danger,
// otherwise critical.
func LevelFor(danger float64) Level {
	switch {
	case danger >= 95:
		return LevelCritical
	case danger >= 80:
		return LevelDanger
	case danger >= 60:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// lossFraction is how far equity sits below baseline, as a fraction of
// baseline. A gain is a negative loss. Zero when the baseline is unusable.
func lossFraction(baseline, equity float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (baseline - equity) / baseline
}

// dangerPct is loss as a percent of the allowed loss, clamped to [0,100].
func dangerPct(loss, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(loss/limit*100, 0, 100)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
