package humble_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"keyredeem/internal/keys"
	"keyredeem/internal/logging"
	"keyredeem/internal/services"
	"keyredeem/internal/services/humble"
	"keyredeem/internal/session"
)

func newClient(t *testing.T, handler http.Handler) *humble.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	remote, err := session.NewHTTPSession(session.HTTPOptions{BaseURL: srv.URL, SessionCookie: "sess", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewHTTPSession: %v", err)
	}
	return humble.NewClient(remote, 3, logging.NewNop())
}

func TestFetchInventoryPreservesOrderListing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/user/order", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"gamekey":"k1"},{"gamekey":"k2"},{"gamekey":"k3"}]`)
	})
	mux.HandleFunc("/api/v1/order/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("all_tpkds") != "true" {
			t.Errorf("missing all_tpkds query")
		}
		gk := r.URL.Path[len("/api/v1/order/"):]
		if gk == "k1" {
			time.Sleep(20 * time.Millisecond)
		}
		fmt.Fprintf(w, `{"product":{"human_name":"Order %s"},"tpkd_dict":{"all_tpks":[{"machine_name":"m_%s","human_name":"Game %s","key_type":"steam"}]}}`, gk, gk, gk)
	})
	orders, err := newClient(t, mux).FetchInventory(context.Background())
	if err != nil {
		t.Fatalf("FetchInventory: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("orders = %d", len(orders))
	}
	for i, want := range []string{"k1", "k2", "k3"} {
		if orders[i].Gamekey != want {
			t.Fatalf("orders[%d].Gamekey = %q, want %q", i, orders[i].Gamekey, want)
		}
	}
	records, _ := keys.Records(orders)
	if len(records) != 3 || records[2].HumanName != "Game k3" {
		t.Fatalf("records = %+v", records)
	}
}

func TestFetchInventoryUnauthorized(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.FetchInventory(context.Background())
	if !errors.Is(err, services.ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}
}

func TestRevealOutcomes(t *testing.T) {
	replies := map[string]struct {
		status int
		body   string
	}{
		"ok":      {200, `{"success":true,"key":" AAAAA-BBBBB-CCCCC "}`},
		"expired": {200, `{"success":false,"error_msg":"This key has Expired"}`},
		"refused": {200, `{"success":false,"error_msg":"Not eligible"}`},
		"down":    {503, `busy`},
		"login":   {200, `<html>login</html>`},
	}
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/humbler/redeemkey" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		reply := replies[r.PostForm.Get("keytype")]
		w.WriteHeader(reply.status)
		fmt.Fprint(w, reply.body)
	}))
	ctx := context.Background()
	reveal := func(machine string) (string, error) {
		return c.Reveal(ctx, &keys.Record{Gamekey: "gk", MachineName: machine, KeyIndex: 1})
	}

	if v, err := reveal("ok"); err != nil || v != "AAAAA-BBBBB-CCCCC" {
		t.Fatalf("ok = %q, %v", v, err)
	}
	if v, err := reveal("expired"); err != nil || v != keys.ExpiredMarker {
		t.Fatalf("expired = %q, %v", v, err)
	}
	if _, err := reveal("refused"); !errors.Is(err, services.ErrDomainTerminal) {
		t.Fatalf("refused err = %v", err)
	}
	if _, err := reveal("down"); !errors.Is(err, services.ErrTransient) || services.StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("down err = %v", err)
	}
	if _, err := reveal("login"); !errors.Is(err, services.ErrSessionInvalid) {
		t.Fatalf("login err = %v", err)
	}
}
