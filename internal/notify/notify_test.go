package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDispatch_accepted(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &Notifier{URL: srv.URL, Token: "secret", Ref: "main", Client: srv.Client()}
	if err := n.Dispatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["ref"] != "main" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestDispatch_non204(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	n := &Notifier{URL: srv.URL, Token: "expired", Client: srv.Client()}
	err := n.Dispatch(context.Background())
	if err == nil {
		t.Fatal("want error for HTTP 401")
	}
}

func TestDispatch_notConfigured(t *testing.T) {
	n := &Notifier{URL: "http://example.com"}
	if err := n.Dispatch(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing token: err = %v, want ErrNotConfigured", err)
	}
	n = &Notifier{Token: "secret"}
	if err := n.Dispatch(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("missing URL: err = %v, want ErrNotConfigured", err)
	}
}
