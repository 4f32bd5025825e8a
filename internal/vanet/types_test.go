// Copyright 2025 James Ross
package vanet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyVehicle(t *testing.T) {
	cases := []struct {
		id, declared string
		want         VehicleKind
	}{
		{"veh0", "passenger", Normal},
		{"ambulance_12", "passenger", Emergency},
		{"veh1", "EMERGENCY", Emergency},
		{"fire_truck_3", "truck", Emergency},
		{"police1", "car", Emergency},
		// Comment 4 regression: id alone gives no hint, only the declared
		// simulator type matches a configured substring.
		{"veh42", "ambulance", Emergency},
		{"veh43", "passenger_car", Normal},
	}
	for _, c := range cases {
		got := ClassifyVehicle(c.id, c.declared, nil)
		require.Equal(t, c.want, got, "ClassifyVehicle(%q, %q)", c.id, c.declared)
	}
}

func TestPhaseStateIsYellow(t *testing.T) {
	require.True(t, PhaseState("yyy").IsYellow(), "expected all-yellow phase to report IsYellow")
	require.False(t, PhaseState("Gry").IsYellow(), "mixed phase must not report IsYellow")
	require.False(t, PhaseState("").IsYellow(), "empty phase must not report IsYellow")
}

func TestPhaseStateGreenAt(t *testing.T) {
	p := PhaseState("Grgy")
	require.True(t, p.GreenAt(0))
	require.True(t, p.GreenAt(2))
	require.False(t, p.GreenAt(1))
	require.False(t, p.GreenAt(3))
	require.False(t, p.GreenAt(99), "out-of-range index must report false")
}

func TestDistance(t *testing.T) {
	d := Distance(Position{0, 0}, Position{3, 4})
	require.Equal(t, 5.0, d)
}
