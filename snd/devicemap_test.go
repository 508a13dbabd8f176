package snd

import (
	"context"
	"testing"
)

func TestParseDeviceMap(t *testing.T) {
	m, err := ParseDeviceMap(map[string]string{
		"5": "Monitor of Built-in Audio",
		"7": "loopback",
	})
	if err != nil {
		t.Fatalf("ParseDeviceMap() error: %v", err)
	}

	tests := []struct {
		tab  int
		want StreamHandle
	}{
		{5, "Monitor of Built-in Audio"},
		{7, "loopback"},
		{9, ""},
	}
	for _, tt := range tests {
		got, err := m.StreamHandle(context.Background(), tt.tab)
		if err != nil {
			t.Errorf("StreamHandle(%d) error: %v", tt.tab, err)
		}
		if got != tt.want {
			t.Errorf("StreamHandle(%d) = %q, want %q", tt.tab, got, tt.want)
		}
	}

	if _, err := ParseDeviceMap(map[string]string{"five": "x"}); err == nil {
		t.Error("ParseDeviceMap should reject non-numeric tab ids")
	}
}

func TestDeviceMapInvalidTab(t *testing.T) {
	if _, err := DeviceMap(nil).StreamHandle(context.Background(), -1); err == nil {
		t.Error("StreamHandle(-1) should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := DeviceMap(nil).StreamHandle(ctx, 1); err == nil {
		t.Error("StreamHandle with cancelled context should fail")
	}
}
