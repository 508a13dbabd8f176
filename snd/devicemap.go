package snd

import (
	"context"
	"fmt"
	"strconv"
)

// DeviceMap resolves tab ids to capture devices. Tabs without an entry are
// captured from the default device.
type DeviceMap map[int]StreamHandle

// ParseDeviceMap converts the string keyed map found in configuration.
func ParseDeviceMap(raw map[string]string) (DeviceMap, error) {
	m := make(DeviceMap, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("tab id %q: %w", k, err)
		}
		m[id] = StreamHandle(v)
	}
	return m, nil
}

func (m DeviceMap) StreamHandle(ctx context.Context, tabID int) (StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tabID < 0 {
		return "", fmt.Errorf("invalid tab id %d", tabID)
	}
	return m[tabID], nil
}
