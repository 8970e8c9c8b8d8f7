package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fixedNonces struct {
	next int64
}

func (f *fixedNonces) Next(ctx context.Context) (int64, error) {
	n := f.next
	f.next++
	return n, nil
}

// Signature test vector from the exchange's API documentation.
func TestSignRequest(t *testing.T) {
	secret := "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="
	want := "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UAV9rLoTYtuzxvb4JOmnhqawnIah+5DUx1S+9spdA=="

	client, err := NewClient(DefaultBaseURL, "key", secret, &fixedNonces{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	form := url.Values{}
	form.Set("nonce", "1616492376594")
	form.Set("ordertype", "limit")
	form.Set("pair", "XBTUSD")
	form.Set("price", "37500")
	form.Set("type", "buy")
	form.Set("volume", "1.25")

	got := signRequest(client.secret, "/0/private/AddOrder", form)
	if got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestNewClientRejectsBadSecret(t *testing.T) {
	if _, err := NewClient("", "key", "not base64!!!", &fixedNonces{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}

func TestParseResponse(t *testing.T) {
	t.Run("result passes through", func(t *testing.T) {
		result, err := parseResponse("Balance", []byte(`{"error":[],"result":{"ZUSD":"100.0"}}`))
		if err != nil {
			t.Fatalf("parseResponse returned error: %v", err)
		}

		var balances map[string]string
		if err := json.Unmarshal(result, &balances); err != nil {
			t.Fatal(err)
		}
		if balances["ZUSD"] != "100.0" {
			t.Errorf("result = %v", balances)
		}
	})

	t.Run("error code stripped of severity prefix", func(t *testing.T) {
		_, err := parseResponse("AddOrder", []byte(`{"error":["EAPI:Invalid nonce"]}`))

		var exchangeErr *ExchangeError
		if !errors.As(err, &exchangeErr) {
			t.Fatalf("error is %T, want *ExchangeError", err)
		}
		if exchangeErr.Code != "API:Invalid nonce" {
			t.Errorf("code = %q", exchangeErr.Code)
		}
		if !exchangeErr.InvalidNonce() {
			t.Error("expected nonce race classification")
		}
	})

	t.Run("first prefixed error wins", func(t *testing.T) {
		_, err := parseResponse("AddOrder", []byte(`{"error":["WGeneral:Danger","EOrder:Insufficient funds","EGeneral:Internal error"]}`))

		var exchangeErr *ExchangeError
		if !errors.As(err, &exchangeErr) {
			t.Fatalf("error is %T, want *ExchangeError", err)
		}
		if exchangeErr.Code != "Order:Insufficient funds" {
			t.Errorf("code = %q", exchangeErr.Code)
		}
		if exchangeErr.InvalidNonce() {
			t.Error("unexpected nonce race classification")
		}
	})

	t.Run("unparsable body is a transport failure", func(t *testing.T) {
		_, err := parseResponse("Balance", []byte(`<html>bad gateway</html>`))

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			t.Errorf("error is %T, want *TransportError", err)
		}
	})
}

func TestCallRejectsUnknownMethod(t *testing.T) {
	client, err := NewClient("", "key", "c2VjcmV0", &fixedNonces{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Call(context.Background(), "NotAMethod", nil)

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("error is %T, want *ValidationError", err)
	}
}

// newPumpClient builds a client against a test server with a manually
// controlled clock, so pump can be driven tick by tick.
func newPumpClient(t *testing.T, handler http.HandlerFunc) (*Client, *time.Time) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, "key", "c2VjcmV0", &fixedNonces{next: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	client.now = func() time.Time { return now }
	client.lastDecay = now
	return client, &now
}

func enqueueCall(c *Client, method string) *call {
	cl := &call{method: method, params: url.Values{}, done: make(chan callResult, 1)}
	c.mu.Lock()
	c.queue = append(c.queue, cl)
	c.mu.Unlock()
	return cl
}

func TestPumpPointAccounting(t *testing.T) {
	var requests int
	client, now := newPumpClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"error":[],"result":{}}`))
	})

	// TradesHistory weighs 2: points go 0 -> 2 -> 4.
	first := enqueueCall(client, "TradesHistory")
	client.pump()
	second := enqueueCall(client, "TradesHistory")
	client.pump()

	<-first.done
	<-second.done

	if requests != 2 {
		t.Fatalf("requests = %d, want 2", requests)
	}
	if client.points != 4 {
		t.Errorf("points = %v, want 4", client.points)
	}

	// Six seconds decay two points.
	*now = now.Add(6 * time.Second)
	client.pump()
	if client.points != 2 {
		t.Errorf("points after decay = %v, want 2", client.points)
	}
}

func TestPumpDefersWhenBudgetExhausted(t *testing.T) {
	var requests int
	client, now := newPumpClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"error":[],"result":{}}`))
	})

	client.points = 9.5
	cl := enqueueCall(client, "Balance")

	client.pump()
	if requests != 0 {
		t.Fatal("call dispatched over the point budget")
	}

	client.mu.Lock()
	queued := len(client.queue)
	client.mu.Unlock()
	if queued != 1 {
		t.Fatalf("queue length = %d, want 1 (not dequeued)", queued)
	}

	// After six seconds of decay the call fits under the limit.
	*now = now.Add(6 * time.Second)
	client.pump()
	<-cl.done

	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestPumpClampsDecayAtZero(t *testing.T) {
	client, now := newPumpClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{}}`))
	})

	*now = now.Add(time.Hour)
	client.pump()

	if client.points != 0 {
		t.Errorf("points = %v, want clamped at 0", client.points)
	}
}

func TestStopRejectsQueuedCalls(t *testing.T) {
	client, _ := newPumpClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{}}`))
	})

	client.tick = time.Hour // keep the drain loop from racing Stop

	cl := enqueueCall(client, "Balance")
	client.Start()
	client.Stop()

	res := <-cl.done
	var transportErr *TransportError
	if !errors.As(res.err, &transportErr) {
		t.Fatalf("error is %T, want *TransportError", res.err)
	}
	if !errors.Is(res.err, ErrClientStopped) {
		t.Error("expected shutdown sentinel in error chain")
	}

	// New calls after Stop are rejected immediately.
	if _, err := client.Call(context.Background(), "Balance", nil); !errors.Is(err, ErrClientStopped) {
		t.Error("expected rejection after Stop")
	}
}
