package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// IntRange reads an int and clamps it into [min, max].
func IntRange(name string, def, min, max int) int {
	i := Int(name, def)
	if i < min {
		return min
	}
	if max > 0 && i > max {
		return max
	}
	return i
}

func Float(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func Bool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// Seconds reads a whole number of seconds as a duration.
func Seconds(name string, def time.Duration) time.Duration {
	i := Int(name, -1)
	if i < 0 {
		return def
	}
	return time.Duration(i) * time.Second
}

func Minutes(name string, def time.Duration) time.Duration {
	i := Int(name, -1)
	if i < 0 {
		return def
	}
	return time.Duration(i) * time.Minute
}

// List splits a comma separated value, dropping empty entries.
func List(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
