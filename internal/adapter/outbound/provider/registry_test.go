package provider

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/mailcraft/server/internal/model"
)

func newTestRegistry() *Registry {
	plans := testPlans()
	return NewRegistry(
		NewStripe(StripeConfig{}, plans),
		NewPaddle(PaddleConfig{}, plans),
		NewCreem(CreemConfig{}, plans),
		NewAlipay(AlipayConfig{}, plans),
		NewWechat(WechatConfig{}, plans),
	)
}

func TestRegistry_Get(t *testing.T) {
	r := newTestRegistry()

	a, err := r.Get(model.ProviderPaddle)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderPaddle, a.Name())

	_, err = r.Get("paypal")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Equal(t, []string{"alipay", "creem", "paddle", "stripe", "wechat"}, r.Names())
}

func TestRegistry_Detect(t *testing.T) {
	r := newTestRegistry()

	header := func(k, v string) http.Header {
		h := http.Header{}
		h.Set(k, v)
		return h
	}

	tests := []struct {
		name    string
		headers http.Header
		body    string
		want    string
	}{
		{"stripe header", header("Stripe-Signature", "t=1,v1=x"), `{}`, model.ProviderStripe},
		{"paddle header", header("Paddle-Signature", "ts=1;h1=x"), `{}`, model.ProviderPaddle},
		{"creem header", header("creem-signature", "abc"), `{}`, model.ProviderCreem},
		{"xml body", http.Header{}, "  <xml><return_code>SUCCESS</return_code></xml>", model.ProviderWechat},
		{"alipay form", http.Header{}, "trade_status=TRADE_SUCCESS&trade_no=1", model.ProviderAlipay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.Detect(tt.headers, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Name())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := r.Detect(http.Header{}, []byte(`{"hello":"world"}`))
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})
}
