package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devskill-org/fleet-optimizer/constraints"
)

func TestResolveChargerConflicts(t *testing.T) {
	base := time.Date(2026, 2, 11, 4, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		sessions map[int]chargerSession
		want     map[int]string
	}{
		{
			name: "no conflicts",
			sessions: map[int]chargerSession{
				1: {"87", base},
				2: {"86", base.Add(time.Hour)},
			},
			want: map[int]string{1: "87", 2: "86"},
		},
		{
			name: "shared charger keeps most recent",
			sessions: map[int]chargerSession{
				1: {"87", base},
				2: {"87", base.Add(2 * time.Hour)},
				3: {"86", base},
			},
			want: map[int]string{
				1: constraints.DisconnectedCharger,
				2: "87",
				3: "86",
			},
		},
		{
			name: "tie breaks on lowest vehicle id",
			sessions: map[int]chargerSession{
				5: {"87", base},
				2: {"87", base},
			},
			want: map[int]string{
				2: "87",
				5: constraints.DisconnectedCharger,
			},
		},
		{
			name:     "empty",
			sessions: map[int]chargerSession{},
			want:     map[int]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveChargerConflicts(tt.sessions)
			assert.Equal(t, tt.want, got)
		})
	}
}
