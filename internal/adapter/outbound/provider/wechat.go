package provider

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/wechat"
	"github.com/mailcraft/server/internal/model"
	"github.com/mailcraft/server/internal/port/outbound"
)

const wechatAck = `<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>`

// WechatConfig holds WeChat Pay (API v2) notify configuration.
type WechatConfig struct {
	MchID            string
	APIKey           string
	SkipVerification bool
}

// Wechat adapts WeChat Pay v2 XML payment notifications.
type Wechat struct {
	cfg   WechatConfig
	plans *PlanResolver
	now   func() time.Time
}

// NewWechat creates a WeChat Pay adapter.
func NewWechat(cfg WechatConfig, plans *PlanResolver) *Wechat {
	return &Wechat{cfg: cfg, plans: plans, now: time.Now}
}

func (w *Wechat) Name() string { return model.ProviderWechat }

// Ack is the XML body WeChat Pay expects.
func (w *Wechat) Ack() (string, []byte) {
	return "application/xml; charset=utf-8", []byte(wechatAck)
}

// Verify re-signs the notification fields with the API key (MD5 or
// HMAC-SHA256 per sign_type) and compares with sign.
func (w *Wechat) Verify(raw []byte, _ http.Header) error {
	ok, err := checkSecret(w.cfg.APIKey, w.cfg.SkipVerification)
	if !ok {
		return err
	}
	bm, err := parseWechatNotify(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if bm.GetString("sign") == "" {
		return fmt.Errorf("%w: unsigned notification", ErrInvalidSignature)
	}
	if w.cfg.MchID != "" && bm.GetString("mch_id") != w.cfg.MchID {
		return fmt.Errorf("%w: mch_id mismatch", ErrInvalidSignature)
	}
	signType := bm.GetString("sign_type")
	if signType == "" {
		signType = wechat.SignType_MD5
	}
	valid, err := wechat.VerifySign(w.cfg.APIKey, signType, bm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

func (w *Wechat) Normalize(raw []byte, _ http.Header) (*model.NormalizedEvent, error) {
	bm, err := parseWechatNotify(raw)
	if err != nil {
		return nil, malformed("wechat notify: %v", err)
	}

	paymentID := bm.GetString("transaction_id")
	if paymentID == "" {
		paymentID = bm.GetString("out_trade_no")
	}
	if paymentID == "" {
		return nil, malformed("wechat notify without transaction_id or out_trade_no")
	}

	resultCode := bm.GetString("result_code")
	kind := model.EventPaymentFailed
	if bm.GetString("return_code") == "SUCCESS" && resultCode == "SUCCESS" {
		kind = model.EventPaymentSucceeded
	}

	// total_fee is already in fen.
	var amount int64
	if fee := bm.GetString("total_fee"); fee != "" || kind == model.EventPaymentSucceeded {
		amount, err = strconv.ParseInt(fee, 10, 64)
		if err != nil || amount < 0 {
			return nil, malformed("wechat total_fee %q", fee)
		}
	}

	occurred := chinaLocal(bm.GetString("time_end"), "20060102150405")
	if occurred == nil {
		// Failure notifications may omit time_end.
		if kind == model.EventPaymentSucceeded {
			return nil, malformed("wechat notify without time_end")
		}
		t := w.now().UTC()
		occurred = &t
	}

	currency := lowerCurrency(bm.GetString("fee_type"))
	if currency == "" {
		currency = "cny"
	}

	ev := &model.NormalizedEvent{
		Provider:          model.ProviderWechat,
		ExternalEventID:   paymentID + ":" + resultCode,
		Kind:              kind,
		ProviderType:      "payment_notify",
		ExternalPaymentID: paymentID,
		Amount:            amount,
		Currency:          currency,
		Description:       bm.GetString("out_trade_no"),
		OccurredAt:        *occurred,
	}
	attach := parseNativeContext(bm.GetString("attach"))
	if kind == model.EventPaymentSucceeded {
		applyNativeContext(ev, attach, *occurred, w.plans)
	} else {
		setUserRef(ev, attach, "")
		ev.FailureReason = bm.GetString("err_code")
		if ev.FailureReason == "" {
			ev.FailureReason = bm.GetString("return_msg")
		}
	}
	return ev, nil
}

// parseWechatNotify decodes an XML notify body through the SDK.
func parseWechatNotify(raw []byte) (gopay.BodyMap, error) {
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	return wechat.ParseNotifyToBodyMap(req)
}

var (
	_ outbound.ProviderAdapterPort = (*Wechat)(nil)
	_ outbound.AckResponder        = (*Wechat)(nil)
)
