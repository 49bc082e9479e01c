package config

import (
	"fmt"
	"strconv"
	"strings"
)

// --- Configuration Constants ---
const (
	TCPServerHost = "127.0.0.1"
	TCPServerPort = 5020
	SlaveID       = 1
	// HeartbeatRegister is the holding register the heartbeat loop increments.
	HeartbeatRegister = 0
)

// ParseUnits turns "1,3,10-12" into a unit id list. An empty string yields the default slave.
func ParseUnits(spec string) ([]uint8, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return []uint8{SlaveID}, nil
	}
	var units []uint8
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.ParseUint(lo, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid unit id %q: %w", part, err)
		}
		last := first
		if isRange {
			if last, err = strconv.ParseUint(hi, 10, 8); err != nil {
				return nil, fmt.Errorf("invalid unit id %q: %w", part, err)
			}
		}
		if last < first {
			return nil, fmt.Errorf("invalid unit range %q", part)
		}
		for id := first; id <= last; id++ {
			units = append(units, uint8(id))
		}
	}
	return units, nil
}
