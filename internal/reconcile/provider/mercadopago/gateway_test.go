package mercadopago

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/12345" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header = %q", got)
		}
		w.Write([]byte(`{"id":12345,"status":"approved","status_detail":"accredited"}`))
	}))
	defer srv.Close()

	g := NewGatewayWithBaseURL("test-token", srv.URL)
	status, err := g.FetchStatus(context.Background(), "12345")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if status != "approved" {
		t.Errorf("status = %q, want approved", status)
	}
}

func TestFetchStatusNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGatewayWithBaseURL("test-token", srv.URL)
	if _, err := g.FetchStatus(context.Background(), "12345"); err == nil {
		t.Error("expected an error for a 404 response")
	}
}
