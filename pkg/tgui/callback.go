package tgui

import (
	"strconv"
	"strings"
)

// Data formats callback data as "ns:action[:payload]". The payload may
// itself contain colons.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// Parse splits callback data produced by Data.
func Parse(data string) (ns, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], "", ""
	}
}

// Ints parses a payload of colon-separated integers ("3:-100123").
func Ints(payload string, n int) ([]int64, bool) {
	parts := strings.Split(payload, ":")
	if len(parts) != n {
		return nil, false
	}
	out := make([]int64, n)
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Join renders integers as a colon-separated payload.
func Join(vals ...int64) string {
	ss := make([]string, len(vals))
	for i, v := range vals {
		ss[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(ss, ":")
}
