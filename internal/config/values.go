package config

import (
	"fmt"
	"math"
	"strconv"
)

// stringValue and intValue implement the type checks shared by the map-backed
// backends. A present value of the wrong type reports ok=true with an error so
// callers can fall back to the default and warn.

func stringValue(data map[string]any, key string) (string, bool, error) {
	v, ok := data[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64, int, bool:
		return fmt.Sprintf("%v", val), true, nil
	default:
		return "", true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func intValue(data map[string]any, key string) (int, bool, error) {
	v, ok := data[key]
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int:
		return val, true, nil
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type for %s", key)
	}
}
