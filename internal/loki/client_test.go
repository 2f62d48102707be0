package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	raw := []byte(`{"id":"e1","type":"alert.raised","aggregate_id":"a1","owner_id":"sam","occurred_at":"2024-08-01T18:10:00Z"}`)
	if err := NewClient(srv.URL+"/", "").PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != "safecircle" || s.Stream["event_type"] != "alert.raised" || s.Stream["area"] != "alert" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["owner_id"]; ok {
		t.Error("owner_id must not be a label")
	}
	want := time.Date(2024, 8, 1, 18, 10, 0, 0, time.UTC).UnixNano()
	if s.Values[0][0] != jsonInt(want) {
		t.Errorf("timestamp = %s, want %d", s.Values[0][0], want)
	}
	if s.Values[0][1] != string(raw) {
		t.Errorf("line = %q", s.Values[0][1])
	}
}

func TestPushEventJSON_RawLineOnParseFailure(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "events").PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if got.Streams[0].Stream["job"] != "events" || len(got.Streams[0].Stream) != 1 {
		t.Errorf("labels = %v", got.Streams[0].Stream)
	}
}

func TestPushEvent_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "").PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("expected error on 400")
	}
	if err := NewClient("", "").PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("expected error on empty base URL")
	}
}

func TestPushEvent_SanitizesLabels(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").PushEvent(context.Background(), time.Now(), "x", map[string]string{"tag": " walk home!", "empty": "  "})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if got.Streams[0].Stream["tag"] != "walk_home_" {
		t.Errorf("tag = %q", got.Streams[0].Stream["tag"])
	}
	if _, ok := got.Streams[0].Stream["empty"]; ok {
		t.Error("blank label should be dropped")
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
