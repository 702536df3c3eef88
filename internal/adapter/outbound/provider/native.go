package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mailcraft/server/internal/model"
)

const maxPrepaidMonths = 36

// parseNativeContext decodes the merchant context Alipay (passback_params)
// and WeChat Pay (attach) echo back: a JSON object, possibly URL-encoded,
// or a plain query string.
func parseNativeContext(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]string{}
	}
	if m, ok := jsonContext(s); ok {
		return m
	}
	if unescaped, err := url.QueryUnescape(s); err == nil {
		if m, ok := jsonContext(unescaped); ok {
			return m
		}
		s = unescaped
	}
	out := map[string]string{}
	if values, err := url.ParseQuery(s); err == nil {
		for k, v := range values {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out
}

func jsonContext(s string) (map[string]string, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}
	return stringify(raw), true
}

func stringify(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// metadata is a provider key/value bag. Values may be any JSON type and are
// kept in their printed form; a bag that is not an object is ignored.
type metadata map[string]string

func (m *metadata) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		*m = nil
		return nil
	}
	*m = stringify(raw)
	return nil
}

// applyNativeContext sets the user reference and, for plan purchases, the
// prepaid period that starts at paidAt.
func applyNativeContext(ev *model.NormalizedEvent, ctx map[string]string, paidAt time.Time, plans *PlanResolver) {
	setUserRef(ev, ctx, "")
	plan := plans.Resolve(lookup(ctx, planKeys))
	if plan == "" {
		return
	}
	months, err := strconv.Atoi(ctx["months"])
	if err != nil || months <= 0 {
		months = 1
	}
	if months > maxPrepaidMonths {
		months = maxPrepaidMonths
	}
	start := paidAt.UTC()
	end := start.AddDate(0, months, 0)
	ev.Plan = plan
	ev.PeriodStart = &start
	ev.PeriodEnd = &end
}
