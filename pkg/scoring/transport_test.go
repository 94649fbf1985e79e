package scoring

import "testing"

func TestRadiusForMode(t *testing.T) {
	tests := []struct {
		mode string
		want float64
	}{
		{"walking", 2.0},
		{"cycling", 5.0},
		{"driving", 10.0},
		{"public_transport", 8.0},
		{"WALKING", 2.0},
		{"Driving", 10.0},
		{"teleportation", 5.0},
		{"", 5.0},
	}

	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			if got := RadiusForMode(tc.mode); got != tc.want {
				t.Errorf("RadiusForMode(%q) = %v, want %v", tc.mode, got, tc.want)
			}
		})
	}
}
