package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchAuthInfoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request: %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(AuthInfo{ID: 1, Name: "A", Language: "en-US"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	info, err := c.FetchAuthInfo(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FetchAuthInfo: %v", err)
	}
	if info.ID != 1 || info.Name != "A" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestFetchAuthInfoNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.FetchAuthInfo(context.Background(), "bad"); err == nil {
		t.Fatalf("expected error on 401")
	}
}

func TestFetchChartAndRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chart/42":
			_ = json.NewEncoder(w).Encode(Chart{ID: 42, Name: "Song"})
		case "/record/7":
			_ = json.NewEncoder(w).Encode(Record{ID: 7, Player: 1, Score: 990000, Accuracy: 0.99, FullCombo: true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	chart, err := c.FetchChart(context.Background(), 42)
	if err != nil || chart.Name != "Song" {
		t.Fatalf("FetchChart: %+v %v", chart, err)
	}
	rec, err := c.FetchRecord(context.Background(), 7)
	if err != nil || rec.Player != 1 || !rec.FullCombo {
		t.Fatalf("FetchRecord: %+v %v", rec, err)
	}
}
