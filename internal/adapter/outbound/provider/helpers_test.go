package provider

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

func testPlans() *PlanResolver {
	return NewPlanResolver(map[string][]string{
		"pro":        {"price_pro", "pri_pro", "prod_creem_pro"},
		"enterprise": {"price_ent", "prod_ent"},
	})
}

func stripeHeader(payload []byte, secret string, at time.Time) http.Header {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func paddleHeader(payload []byte, secret string, at time.Time) http.Header {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(payload)
	h := http.Header{}
	h.Set("Paddle-Signature", fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func creemHeader(payload []byte, secret string) http.Header {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	h := http.Header{}
	h.Set("creem-signature", hex.EncodeToString(mac.Sum(nil)))
	return h
}

// wechatSign signs params the WeChat Pay v2 way with MD5.
func wechatSign(params map[string]string, apiKey string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k != "sign" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k + "=" + params[k] + "&")
	}
	sb.WriteString("key=" + apiKey)
	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func wechatXML(params map[string]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("<xml>")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("<%s><![CDATA[%s]]></%s>", k, params[k], k))
	}
	sb.WriteString("</xml>")
	return []byte(sb.String())
}

type alipayKeys struct {
	private   *rsa.PrivateKey
	publicB64 string
}

func newAlipayKeys(t *testing.T) alipayKeys {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return alipayKeys{private: key, publicB64: base64.StdEncoding.EncodeToString(der)}
}

// alipayBody signs params with RSA2 and returns the form-encoded notify body.
func (k alipayKeys) alipayBody(t *testing.T, params map[string]string) []byte {
	t.Helper()
	keys := make([]string, 0, len(params))
	for key, v := range params {
		if key != "sign" && key != "sign_type" && v != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+params[key])
	}
	digest := sha256.Sum256([]byte(strings.Join(parts, "&")))
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, digest[:])
	require.NoError(t, err)

	form := url.Values{}
	for key, v := range params {
		form.Set(key, v)
	}
	form.Set("sign_type", "RSA2")
	form.Set("sign", base64.StdEncoding.EncodeToString(sig))
	return []byte(form.Encode())
}
