package weex

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestSign(t *testing.T) {
	c := NewClient(ClientConfig{APIKey: "key", SecretKey: "secret", Passphrase: "pass"})

	// Known-answer check: base64(HMAC-SHA256("1700000000000" + "POST" +
	// "/capi/v2/order/placeOrder" + "" + `{"symbol":"cmt_btcusdt"}`, "secret"))
	got := c.sign("1700000000000", "post", "/capi/v2/order/placeOrder", "", `{"symbol":"cmt_btcusdt"}`)
	want := "mT5BLBrVPY70UMqzxeTe3TD9L9T9W/Q+AAavyeN/kVI="
	if got != want {
		t.Errorf("sign = %q, want %q", got, want)
	}

	// Method is upper-cased before signing
	if c.sign("1", "get", "/p", "", "") != c.sign("1", "GET", "/p", "", "") {
		t.Error("signature differs by method case")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &APIError{StatusCode: 502}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"auth failure", &APIError{StatusCode: 401}, false},
		{"exchange rejection", &APIError{StatusCode: 200, Code: "40015"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryDelayBounded(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := retryDelay(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, d)
		}
		if d > maxRetryDelay+maxRetryDelay/2 {
			t.Fatalf("attempt %d: delay %v exceeds cap with jitter", attempt, d)
		}
	}
}

func TestUnmarshalData(t *testing.T) {
	type payload struct {
		Symbol string `json:"symbol"`
	}

	var bare payload
	if err := unmarshalData([]byte(`{"symbol":"cmt_btcusdt"}`), &bare); err != nil || bare.Symbol != "cmt_btcusdt" {
		t.Errorf("bare payload: %+v, err=%v", bare, err)
	}

	var wrapped payload
	if err := unmarshalData([]byte(`{"data":{"symbol":"cmt_ethusdt"}}`), &wrapped); err != nil || wrapped.Symbol != "cmt_ethusdt" {
		t.Errorf("enveloped payload: %+v, err=%v", wrapped, err)
	}
}

func TestTickerStringNumbers(t *testing.T) {
	raw := `{"symbol":"cmt_btcusdt","last":"96500.5","best_bid":"96500.4","best_ask":"96500.6","base_volume":"1234.5","timestamp":"1700000000000"}`
	var tick Ticker
	if err := json.Unmarshal([]byte(raw), &tick); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tick.Last != 96500.5 || tick.Timestamp != 1700000000000 {
		t.Errorf("parsed ticker = %+v", tick)
	}
}
