package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/seeklabs/bloxscout/internal/payment/domain"
	"github.com/seeklabs/bloxscout/internal/payment/webhook"
)

func signWebhookPayload(secret string, payload string) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + payload))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestPaymentWebhookAppliesSignedEvent(t *testing.T) {
	f := newServerFixture(t, nil)
	payload := `{"id":"evt_1","type":"payment_succeeded","account_id":"acct_1","credits":100}`

	w := f.do(t, http.MethodPost, "/v1/webhooks/payment", payload, map[string]string{
		webhook.SignatureHeader: signWebhookPayload(testWebhookSecret, payload),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", resp["status"])
	}

	event := f.payment.lastEvent
	if event == nil {
		t.Fatal("payment service was not called")
	}
	if event.ProviderEventID != "evt_1" || event.Type != paymentdomain.EventTypePaymentSucceeded {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.AccountID != "acct_1" || event.Credits != 100 {
		t.Fatalf("unexpected event fields: %+v", event)
	}
	if string(f.payment.lastPayload) != payload {
		t.Fatal("raw payload must reach the payment service for audit storage")
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	f := newServerFixture(t, nil)
	payload := `{"id":"evt_1","type":"payment_succeeded","account_id":"acct_1","credits":100}`

	w := f.do(t, http.MethodPost, "/v1/webhooks/payment", payload, map[string]string{
		webhook.SignatureHeader: signWebhookPayload("wrong-secret", payload),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if f.payment.lastEvent != nil {
		t.Fatal("unverified events must never reach the payment service")
	}
}

func TestPaymentWebhookRejectsMissingSignature(t *testing.T) {
	f := newServerFixture(t, nil)

	w := f.do(t, http.MethodPost, "/v1/webhooks/payment", `{"id":"evt_1","type":"payment_succeeded"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestPaymentWebhookAcknowledgesUnknownEventType(t *testing.T) {
	f := newServerFixture(t, nil)
	payload := `{"id":"evt_1","type":"subscription_created"}`

	w := f.do(t, http.MethodPost, "/v1/webhooks/payment", payload, map[string]string{
		webhook.SignatureHeader: signWebhookPayload(testWebhookSecret, payload),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ignored" {
		t.Fatalf("expected status ignored, got %q", resp["status"])
	}
	if f.payment.lastEvent != nil {
		t.Fatal("ignored events must not reach the payment service")
	}
}

func TestPaymentWebhookAcknowledgesReplay(t *testing.T) {
	f := newServerFixture(t, nil)
	f.payment.err = paymentdomain.ErrEventAlreadyProcessed
	payload := `{"id":"evt_1","type":"payment_succeeded","account_id":"acct_1","credits":100}`

	w := f.do(t, http.MethodPost, "/v1/webhooks/payment", payload, map[string]string{
		webhook.SignatureHeader: signWebhookPayload(testWebhookSecret, payload),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("replays must be acknowledged, got %d", w.Code)
	}
}

func TestPaymentWebhookRejectsEventWithoutID(t *testing.T) {
	f := newServerFixture(t, nil)
	payload := `{"type":"payment_succeeded","account_id":"acct_1","credits":100}`

	w := f.do(t, http.MethodPost, "/v1/webhooks/payment", payload, map[string]string{
		webhook.SignatureHeader: signWebhookPayload(testWebhookSecret, payload),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
