package provider

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// chinaTime is the fixed UTC+8 zone Alipay and WeChat Pay report local times in.
var chinaTime = time.FixedZone("CST", 8*60*60)

var errBadAmount = errors.New("bad decimal amount")

// yuanToFen converts a decimal yuan string such as "88.8" to fen (8880)
// without going through floating point.
func yuanToFen(s string) (int64, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || len(frac) > 2 || !digits(whole) || (frac != "" && !digits(frac)) {
		return 0, errBadAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errBadAmount
	}
	f, _ := strconv.ParseInt(frac, 10, 64)
	if w > (math.MaxInt64-f)/100 {
		return 0, errBadAmount
	}
	return w*100 + f, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// chinaLocal parses a local timestamp in one of the given layouts as UTC+8.
func chinaLocal(s string, layouts ...string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, chinaTime); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
