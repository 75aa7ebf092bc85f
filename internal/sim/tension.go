package sim

import (
	"fmt"

	"mailweave/internal/domain"
)

const (
	tensionAdvanceStep     = 0.1
	tensionDecayStep       = 0.02
	tensionResolveStep     = 0.15
	tensionActiveThreshold = 0.5
	tensionClimaxThreshold = 0.9
	tensionResolvedFloor   = 0.1
	tensionClimaxHoldTicks = 2
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// advanceTension moves a tension selected by the planner one step along
// its lifecycle. Resolved tensions are never resurrected.
func advanceTension(t *domain.Tension) []string {
	var changes []string
	before := t.Intensity
	prevStatus := t.Status
	switch t.Status {
	case domain.TensionStatusBuilding, domain.TensionStatusActive:
		t.Intensity = clamp01(t.Intensity + tensionAdvanceStep)
		if t.Intensity >= tensionClimaxThreshold {
			t.Status = domain.TensionStatusClimax
			t.ClimaxTicks = 0
		} else if t.Intensity > tensionActiveThreshold {
			t.Status = domain.TensionStatusActive
		}
	case domain.TensionStatusClimax:
		t.ClimaxTicks++
		if t.ClimaxTicks >= tensionClimaxHoldTicks {
			t.Status = domain.TensionStatusResolving
		}
	case domain.TensionStatusResolving:
		t.Intensity = clamp01(t.Intensity - tensionResolveStep)
		if t.Intensity <= tensionResolvedFloor {
			t.Status = domain.TensionStatusResolved
		}
	case domain.TensionStatusResolved:
		return nil
	}
	if t.Intensity != before || t.Status != prevStatus {
		changes = append(changes, fmt.Sprintf("tension %s intensity %.2f->%.2f status %s->%s",
			t.ID, before, t.Intensity, prevStatus, t.Status))
	}
	return changes
}

// decayTension applies the per-tick pressure loss to a tension the
// planner did not select. The planner only ever selects building and
// active tensions, so the climax hold and the slide to resolved run on
// this clock.
func decayTension(t *domain.Tension) []string {
	before := t.Intensity
	prevStatus := t.Status
	switch t.Status {
	case domain.TensionStatusBuilding, domain.TensionStatusActive:
		t.Intensity = clamp01(t.Intensity - tensionDecayStep)
	case domain.TensionStatusClimax:
		t.ClimaxTicks++
		if t.ClimaxTicks >= tensionClimaxHoldTicks {
			t.Status = domain.TensionStatusResolving
		}
	case domain.TensionStatusResolving:
		t.Intensity = clamp01(t.Intensity - tensionResolveStep)
		if t.Intensity <= tensionResolvedFloor {
			t.Status = domain.TensionStatusResolved
		}
	default:
		return nil
	}
	if t.Intensity == before && t.Status == prevStatus {
		return nil
	}
	return []string{fmt.Sprintf("tension %s intensity %.2f->%.2f status %s->%s",
		t.ID, before, t.Intensity, prevStatus, t.Status)}
}

// updateTensions advances the selected tensions and decays the rest,
// returning the number resolved this tick.
func updateTensions(w *domain.WorldState, selected map[string]bool, changes *[]string) int {
	resolved := 0
	for i := range w.Tensions {
		t := &w.Tensions[i]
		wasResolved := t.Status == domain.TensionStatusResolved
		var lines []string
		if selected[t.ID] {
			lines = advanceTension(t)
		} else {
			lines = decayTension(t)
		}
		*changes = append(*changes, lines...)
		if !wasResolved && t.Status == domain.TensionStatusResolved {
			resolved++
		}
	}
	return resolved
}
