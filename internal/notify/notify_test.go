package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendDeliversSignedPayload(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "push-secret", testLogger())
	d.Send(Notification{DeviceToken: "tok-1", Title: "New cash request", Body: "hello"})

	select {
	case r := <-received:
		body := <-bodies

		var n Notification
		if err := json.Unmarshal(body, &n); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if n.DeviceToken != "tok-1" {
			t.Errorf("unexpected token: %s", n.DeviceToken)
		}

		mac := hmac.New(sha256.New, []byte("push-secret"))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("X-CashX-Signature"); got != want {
			t.Errorf("signature mismatch: got %s want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestSendSkipsEmptyToken(t *testing.T) {
	called := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "", testLogger())
	d.Send(Notification{DeviceToken: "", Title: "ignored"})

	select {
	case <-called:
		t.Fatal("expected no delivery for empty token")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendDisabledWithoutEndpoint(t *testing.T) {
	d := NewDispatcher("", "secret", testLogger())
	// Must not panic or block.
	d.Send(Notification{DeviceToken: "tok", Title: "dropped"})
}

func TestEmitterRequestInvite(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
	}))
	defer srv.Close()

	e := NewEmitter(NewDispatcher(srv.URL, "", testLogger()))
	e.RequestInvite("tok-2", "Ada Obi", "₦5,000.00", "req_abc")

	select {
	case body := <-bodies:
		var n Notification
		json.Unmarshal(body, &n)
		if n.Data["type"] != "request.invite" || n.Data["request_id"] != "req_abc" {
			t.Errorf("unexpected data: %v", n.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invite never delivered")
	}
}
