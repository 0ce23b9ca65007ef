package database

import (
	"testing"
	"time"
)

func TestMillis(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want int64
	}{
		{"whole seconds", 5 * time.Second, 5000},
		{"milliseconds", 250 * time.Millisecond, 250},
		{"truncates sub-millisecond part", 1500 * time.Microsecond, 1},
		{"sub-millisecond rounds up", 10 * time.Microsecond, 1},
		{"zero never disables the limit", 0, 1},
		{"negative", -time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Millis(tt.in); got != tt.want {
				t.Errorf("Millis(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
