package sim

import (
	"context"
	"testing"

	"mailweave/internal/domain"
)

func TestAdvanceBuildingTensionScenario(t *testing.T) {
	tension := domain.Tension{ID: "t1", Intensity: 0.3, Status: domain.TensionStatusBuilding}
	advanceTension(&tension)
	if tension.Intensity != 0.4 {
		t.Fatalf("intensity=%v want=0.4", tension.Intensity)
	}
	if tension.Status != domain.TensionStatusBuilding {
		t.Fatalf("status=%s want=building", tension.Status)
	}
}

func TestAdvanceCrossesActiveThreshold(t *testing.T) {
	tension := domain.Tension{ID: "t1", Intensity: 0.5, Status: domain.TensionStatusBuilding}
	advanceTension(&tension)
	if tension.Status != domain.TensionStatusActive {
		t.Fatalf("status=%s want=active at intensity %v", tension.Status, tension.Intensity)
	}
}

func TestTensionLifecycleEndsResolved(t *testing.T) {
	tension := domain.Tension{ID: "t1", Intensity: 0.3, Status: domain.TensionStatusBuilding}
	for i := 0; i < 50; i++ {
		advanceTension(&tension)
		if tension.Intensity < 0 || tension.Intensity > 1 {
			t.Fatalf("intensity out of range: %v", tension.Intensity)
		}
		if tension.Status == domain.TensionStatusResolved {
			break
		}
	}
	if tension.Status != domain.TensionStatusResolved {
		t.Fatalf("status=%s want=resolved after repeated advancement", tension.Status)
	}
	// Resolved tensions never resurrect.
	intensity, status := tension.Intensity, tension.Status
	advanceTension(&tension)
	if tension.Intensity != intensity || tension.Status != status {
		t.Fatalf("resolved tension mutated: %+v", tension)
	}
}

func TestDecayNeverGoesNegative(t *testing.T) {
	tension := domain.Tension{ID: "t1", Intensity: 0.01, Status: domain.TensionStatusActive}
	for i := 0; i < 5; i++ {
		decayTension(&tension)
	}
	if tension.Intensity < 0 {
		t.Fatalf("intensity=%v want >= 0", tension.Intensity)
	}
}

// Drives a tension through full ticks, planner included. The planner
// stops selecting a tension once it hits climax, so the hold and the
// slide to resolved must happen on the unselected path.
func TestTensionResolvesThroughTickLoop(t *testing.T) {
	w := testWorld()
	w.Tensions[0].Intensity = 0.85
	w.Tensions[0].Status = domain.TensionStatusActive
	e := plannerEngine(t, w, 7)

	seen := map[domain.TensionStatus]bool{}
	resolvedTotal := 0
	for i := 0; i < 20 && w.Tensions[0].Status != domain.TensionStatusResolved; i++ {
		res := e.tick(context.Background(), w)
		resolvedTotal += res.Metrics.TensionsResolved
		seen[w.Tensions[0].Status] = true
	}
	if !seen[domain.TensionStatusClimax] {
		t.Fatalf("tension never reached climax: %+v", w.Tensions[0])
	}
	if !seen[domain.TensionStatusResolving] {
		t.Fatalf("tension never left climax: %+v", w.Tensions[0])
	}
	if w.Tensions[0].Status != domain.TensionStatusResolved {
		t.Fatalf("status=%s want=resolved after 20 ticks", w.Tensions[0].Status)
	}
	if resolvedTotal != 1 {
		t.Fatalf("resolved metric total=%d want=1", resolvedTotal)
	}
}

// A planned tension event that cannot be realized must leave the
// tension on the decay path rather than advancing it.
func TestUnrealizedTensionEventDecays(t *testing.T) {
	w := testWorld()
	w.Tensions[0].Participants = []string{"ghost-a", "ghost-b"}
	w.Tensions[0].Intensity = 0.5
	w.Tensions[0].Status = domain.TensionStatusActive
	e := plannerEngine(t, w, 7)

	e.tick(context.Background(), w)

	if got := w.Tensions[0].Intensity; got >= 0.5 {
		t.Fatalf("intensity=%v want decayed below 0.5", got)
	}
	if w.Tensions[0].Status != domain.TensionStatusActive {
		t.Fatalf("status=%s want=active", w.Tensions[0].Status)
	}
}

func TestUpdateTensionsCountsResolved(t *testing.T) {
	w := &domain.WorldState{Tensions: []domain.Tension{
		{ID: "a", Intensity: 0.2, Status: domain.TensionStatusResolving},
		{ID: "b", Intensity: 0.3, Status: domain.TensionStatusBuilding},
	}}
	var changes []string
	// "a" selected: 0.2 - 0.15 = 0.05 <= floor, resolves.
	resolved := updateTensions(w, map[string]bool{"a": true}, &changes)
	if resolved != 1 {
		t.Fatalf("resolved=%d want=1", resolved)
	}
	if w.Tensions[0].Status != domain.TensionStatusResolved {
		t.Fatalf("status=%s want=resolved", w.Tensions[0].Status)
	}
	if len(changes) == 0 {
		t.Fatalf("expected state change log entries")
	}
}
