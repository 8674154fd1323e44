package policy

import (
	"fmt"

	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/model"
	"github.com/The-social-drink-company/sentia-ai-manufacturing-app-sub011/internal/tool"
)

// boundKind selects which policy clamp applies to a numeric parameter.
type boundKind int

const (
	boundHorizon boundKind = iota
	boundOrderQty
	boundPct
	boundWCCap
	boundCashFloor
)

// paramBounds maps each tool's numeric parameters to the clamp that governs
// them. Parameters not listed here pass through untouched.
var paramBounds = map[string]map[string]boundKind{
	tool.ToolForecastRun: {
		"horizon_days": boundHorizon,
	},
	tool.ToolStockOptimize: {
		"order_qty":     boundOrderQty,
		"service_level": boundPct,
	},
	tool.ToolWCProject: {
		"horizon_days": boundHorizon,
		"wc_cap":       boundWCCap,
		"min_cash":     boundCashFloor,
	},
	tool.ToolFXScenario: {
		"shock_pct": boundPct,
	},
	tool.ToolFXExposure: {
		"hedge_ratio": boundPct,
	},
	tool.ToolDiagAccuracy: {
		"lookback_days": boundHorizon,
	},
	tool.ToolDiagDrift: {
		"lookback_days": boundHorizon,
	},
}

// ClampParams bounds out-of-range numeric parameters to the nearest policy
// limit and returns the normalized params plus a note per adjusted value.
// Clamping is the safety net: values are bounded, never rejected. In-range
// values come back unchanged, so clamping twice is a no-op.
//
// A known numeric parameter carrying a non-numeric value is the one hard
// failure: that is a malformed plan, not an out-of-range one.
func ClampParams(toolID string, params map[string]any, clamps model.Clamps) (map[string]any, []string, error) {
	bounds, ok := paramBounds[toolID]
	if !ok || len(params) == 0 {
		return params, nil, nil
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	var notes []string
	for key, kind := range bounds {
		raw, present := out[key]
		if !present {
			continue
		}
		val, ok := asFloat(raw)
		if !ok {
			return nil, nil, fmt.Errorf("policy: tool %s parameter %q must be numeric, got %T", toolID, key, raw)
		}

		clamped := val
		switch kind {
		case boundHorizon:
			clamped = clampFloat(val, 1, float64(clamps.HorizonDaysMax))
		case boundOrderQty:
			clamped = clampFloat(val, 0, clamps.OrderQtyMax)
		case boundPct:
			clamped = clampFloat(val, clamps.PctMin, clamps.PctMax)
		case boundWCCap:
			clamped = clampFloat(val, 0, clamps.WCCapMax)
		case boundCashFloor:
			// Floors clamp upward: a requested floor below the policy
			// minimum is raised to it.
			if val < clamps.MinCashFloor {
				clamped = clamps.MinCashFloor
			}
		}

		if clamped != val {
			notes = append(notes, fmt.Sprintf("%s.%s clamped from %v to %v", toolID, key, val, clamped))
			if kind == boundHorizon {
				out[key] = int(clamped)
			} else {
				out[key] = clamped
			}
		}
	}
	return out, notes, nil
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// asFloat coerces the numeric types that survive JSON and YAML decoding.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
