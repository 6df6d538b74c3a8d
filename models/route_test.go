package models

import (
	"testing"
	"time"
)

func mkRoute(id string, start, end string) *Route {
	s, _ := time.Parse("2006-01-02 15:04", start)
	e, _ := time.Parse("2006-01-02 15:04", end)
	return &Route{RouteID: id, SiteID: 10, PlanStart: s, PlanEnd: e, PlanMileage: 40}
}

func TestRouteOverlapsWith(t *testing.T) {
	turnaround := 45 * time.Minute

	tests := []struct {
		name    string
		a, b    *Route
		overlap bool
	}{
		{
			name:    "disjoint with wide gap",
			a:       mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00"),
			b:       mkRoute("B", "2026-02-11 11:00", "2026-02-11 14:00"),
			overlap: false,
		},
		{
			name:    "temporal overlap",
			a:       mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00"),
			b:       mkRoute("B", "2026-02-11 08:00", "2026-02-11 11:00"),
			overlap: true,
		},
		{
			name:    "gap shorter than turnaround",
			a:       mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00"),
			b:       mkRoute("B", "2026-02-11 09:30", "2026-02-11 12:00"),
			overlap: true,
		},
		{
			name:    "gap exactly turnaround",
			a:       mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00"),
			b:       mkRoute("B", "2026-02-11 09:45", "2026-02-11 12:00"),
			overlap: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.OverlapsWith(tt.b, turnaround); got != tt.overlap {
				t.Errorf("OverlapsWith() = %v, want %v", got, tt.overlap)
			}
			// Overlap is symmetric.
			if got := tt.b.OverlapsWith(tt.a, turnaround); got != tt.overlap {
				t.Errorf("OverlapsWith() reversed = %v, want %v", got, tt.overlap)
			}
		})
	}
}

func TestRouteValidate(t *testing.T) {
	r := mkRoute("A", "2026-02-11 09:00", "2026-02-11 06:00")
	if err := r.Validate(); err == nil {
		t.Error("expected error for plan_start after plan_end")
	}

	r = mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00")
	r.PlanMileage = -1
	if err := r.Validate(); err == nil {
		t.Error("expected error for negative mileage")
	}

	r.PlanMileage = 0
	if err := r.Validate(); err != nil {
		t.Errorf("zero mileage should be valid, got %v", err)
	}
}

func TestSortRoutesByStart(t *testing.T) {
	routes := []*Route{
		mkRoute("C", "2026-02-11 14:00", "2026-02-11 16:00"),
		mkRoute("A", "2026-02-11 06:00", "2026-02-11 09:00"),
		mkRoute("B", "2026-02-11 10:00", "2026-02-11 12:00"),
	}
	SortRoutesByStart(routes)

	want := []string{"A", "B", "C"}
	for i, r := range routes {
		if r.RouteID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, r.RouteID, want[i])
		}
	}
}
