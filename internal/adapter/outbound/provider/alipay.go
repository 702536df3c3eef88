package provider

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/alipay"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

// AlipayConfig holds Alipay notify configuration.
type AlipayConfig struct {
	AppID string
	// AlipayPublicKey is the base64 public key from the Alipay console.
	AlipayPublicKey  string
	SkipVerification bool
}

// Alipay adapts Alipay asynchronous trade notifications.
type Alipay struct {
	cfg   AlipayConfig
	plans *PlanResolver
}

// NewAlipay creates an Alipay adapter.
func NewAlipay(cfg AlipayConfig, plans *PlanResolver) *Alipay {
	return &Alipay{cfg: cfg, plans: plans}
}

func (a *Alipay) Name() string { return model.ProviderAlipay }

// Ack is the body Alipay expects; anything else triggers redelivery.
func (a *Alipay) Ack() (string, []byte) {
	return "text/plain; charset=utf-8", []byte("success")
}

// Verify re-signs every notify field with RSA2 and compares with sign.
func (a *Alipay) Verify(raw []byte, _ http.Header) error {
	ok, err := checkSecret(a.cfg.AlipayPublicKey, a.cfg.SkipVerification)
	if !ok {
		return err
	}
	bm, err := parseAlipayNotify(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if a.cfg.AppID != "" && bm.GetString("app_id") != a.cfg.AppID {
		return fmt.Errorf("%w: app_id mismatch", ErrInvalidSignature)
	}
	valid, err := alipay.VerifySign(a.cfg.AlipayPublicKey, bm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

func (a *Alipay) Normalize(raw []byte, _ http.Header) (*model.NormalizedEvent, error) {
	bm, err := parseAlipayNotify(raw)
	if err != nil {
		return nil, malformed("alipay notify: %v", err)
	}

	tradeNo := bm.GetString("trade_no")
	status := bm.GetString("trade_status")
	if tradeNo == "" || status == "" {
		return nil, malformed("alipay notify without trade_no or trade_status")
	}

	var kind model.EventKind
	switch status {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		kind = model.EventPaymentSucceeded
	case "TRADE_CLOSED":
		kind = model.EventPaymentFailed
	default:
		return nil, unsupported(model.ProviderAlipay, status)
	}

	occurred := chinaLocal(bm.GetString("gmt_payment"), "2006-01-02 15:04:05")
	if occurred == nil {
		occurred = chinaLocal(bm.GetString("notify_time"), "2006-01-02 15:04:05")
	}
	if occurred == nil {
		return nil, malformed("alipay notify without a usable timestamp")
	}

	amount, err := yuanToFen(bm.GetString("total_amount"))
	if err != nil {
		return nil, malformed("alipay total_amount %q", bm.GetString("total_amount"))
	}

	eventID := bm.GetString("notify_id")
	if eventID == "" {
		eventID = tradeNo + ":" + status
	}

	ev := &model.NormalizedEvent{
		Provider:          model.ProviderAlipay,
		ExternalEventID:   eventID,
		Kind:              kind,
		ProviderType:      status,
		ExternalPaymentID: tradeNo,
		Amount:            amount,
		Currency:          "cny",
		Description:       bm.GetString("subject"),
		OccurredAt:        *occurred,
	}
	if kind == model.EventPaymentFailed {
		ev.FailureReason = "trade closed"
	}
	if kind == model.EventPaymentSucceeded {
		applyNativeContext(ev, parseNativeContext(bm.GetString("passback_params")), *occurred, a.plans)
	} else {
		setUserRef(ev, parseNativeContext(bm.GetString("passback_params")), "")
	}
	return ev, nil
}

// parseAlipayNotify decodes a form-encoded notify body through the SDK.
func parseAlipayNotify(raw []byte) (gopay.BodyMap, error) {
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return alipay.ParseNotifyToBodyMap(req)
}

var (
	_ outbound.ProviderAdapterPort = (*Alipay)(nil)
	_ outbound.AckResponder        = (*Alipay)(nil)
)
