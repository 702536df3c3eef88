package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/mailcraft/server/internal/model"
)

func TestYuanToFen(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "88.88", want: 8888},
		{in: "88.8", want: 8880},
		{in: "88", want: 8800},
		{in: "0.01", want: 1},
		{in: " 1.50 ", want: 150},
		{in: "1.", want: 100},
		{in: "", wantErr: true},
		{in: ".5", wantErr: true},
		{in: "1.234", wantErr: true},
		{in: "-1.00", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := yuanToFen(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChinaLocal(t *testing.T) {
	got := chinaLocal("2025-03-01 08:00:00", "2006-01-02 15:04:05")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, chinaLocal("", "2006-01-02 15:04:05"))
	assert.Nil(t, chinaLocal("yesterday", "2006-01-02 15:04:05"))
}

func TestParseNativeContext(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		ctx := parseNativeContext(`{"plan":"pro","months":12}`)
		assert.Equal(t, "pro", ctx["plan"])
		assert.Equal(t, "12", ctx["months"])
	})

	t.Run("query string", func(t *testing.T) {
		ctx := parseNativeContext("plan=pro&email=a%40b.com")
		assert.Equal(t, "pro", ctx["plan"])
		assert.Equal(t, "a@b.com", ctx["email"])
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, parseNativeContext("  "))
	})
}

func TestApplyNativeContext_ClampsMonths(t *testing.T) {
	paidAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := &model.NormalizedEvent{}

	applyNativeContext(ev, map[string]string{"plan": "pro", "months": "120"}, paidAt, nil)

	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, paidAt.AddDate(0, maxPrepaidMonths, 0), *ev.PeriodEnd)
}

func TestPlanResolver(t *testing.T) {
	r := testPlans()

	assert.Equal(t, model.PlanPro, r.Resolve("", "price_pro"))
	assert.Equal(t, model.PlanEnterprise, r.Resolve("enterprise", "price_pro"))
	assert.Equal(t, model.PlanPro, r.Resolve("free", "price_unknown", "pri_pro"))
	assert.Equal(t, model.Plan(""), r.Resolve("price_unknown"))

	var nilResolver *PlanResolver
	assert.Equal(t, model.PlanPro, nilResolver.Resolve("pro"))
}
