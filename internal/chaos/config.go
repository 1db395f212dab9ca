package chaos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds chaos configuration
type Config struct {
	Enabled         bool
	Profile         string
	BackpressurePct int
	FullFirst       int
	DelayUsMin      int
	DelayUsMax      int
	Seed            int64
	WindowMs        int
}

// LoadConfig loads chaos configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Enabled:         getEnvAsBool("CHAOS_ENABLED", false),
		Profile:         getEnvAsString("CHAOS_PROFILE", ""),
		BackpressurePct: getEnvAsInt("CHAOS_BACKPRESSURE_PCT", 0),
		FullFirst:       getEnvAsInt("CHAOS_FULL_FIRST", 0),
		DelayUsMin:      getEnvAsInt("CHAOS_DELAY_US_MIN", 0),
		DelayUsMax:      getEnvAsInt("CHAOS_DELAY_US_MAX", 0),
		Seed:            getEnvAsInt64("CHAOS_SEED", 1),
		WindowMs:        getEnvAsInt("CHAOS_WINDOW_MS", 0),
	}
}

// Profile is the parsed form of a profile string.
type Profile struct {
	BackpressurePct int
	FullFirst       int
	DelayUsMin      int
	DelayUsMax      int
}

// ParseProfile parses a profile string like
// "backpressure-pct=30,full-first=5,delay=10-250". Delays are in
// microseconds.
func ParseProfile(profile string) (Profile, error) {
	var p Profile
	if profile == "" {
		return p, nil
	}

	for _, part := range strings.Split(profile, ",") {
		part = strings.TrimSpace(part)
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Profile{}, fmt.Errorf("invalid profile entry %q", part)
		}

		var err error
		switch key {
		case "backpressure-pct":
			p.BackpressurePct, err = strconv.Atoi(val)
			if err == nil && (p.BackpressurePct < 0 || p.BackpressurePct > 100) {
				err = fmt.Errorf("out of range")
			}
		case "full-first":
			p.FullFirst, err = strconv.Atoi(val)
		case "delay":
			lo, hi, found := strings.Cut(val, "-")
			if !found {
				hi = lo
			}
			if p.DelayUsMin, err = strconv.Atoi(lo); err == nil {
				p.DelayUsMax, err = strconv.Atoi(hi)
			}
			if err == nil && p.DelayUsMax < p.DelayUsMin {
				err = fmt.Errorf("max below min")
			}
		default:
			return Profile{}, fmt.Errorf("unknown profile key %q", key)
		}
		if err != nil {
			return Profile{}, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return p, nil
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
