/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package threading

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounts(t *testing.T) {
	tests := []struct {
		name         string
		max          Counts
		available    Counts
		wantActive   Counts
		wantGreatest int
	}{
		{
			name:         "worker threads are busier",
			max:          Counts{Worker: 100, IO: 100},
			available:    Counts{Worker: 90, IO: 97},
			wantActive:   Counts{Worker: 10, IO: 3},
			wantGreatest: 10,
		},
		{
			name:         "IO threads are busier",
			max:          Counts{Worker: 32, IO: 1000},
			available:    Counts{Worker: 30, IO: 980},
			wantActive:   Counts{Worker: 2, IO: 20},
			wantGreatest: 20,
		},
		{
			name:         "idle",
			max:          Counts{Worker: 8, IO: 8},
			available:    Counts{Worker: 8, IO: 8},
			wantActive:   Counts{},
			wantGreatest: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active := tt.max.Sub(tt.available)
			require.Equal(t, tt.wantActive, active)
			require.Equal(t, tt.wantGreatest, active.Greatest())
		})
	}
}
