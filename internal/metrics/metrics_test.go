package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesMetrics(t *testing.T) {
	AddCacheEntries(2)
	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordFetch(10*time.Millisecond, true)
	RecordRefresh(true, 5*time.Millisecond)
	RecordSyncRecord("incoming-modification")
	RecordNotification()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"wcsync_cache_entries",
		`wcsync_cache_lookups_total{result="hit"}`,
		`wcsync_cache_lookups_total{result="miss"}`,
		`wcsync_fetch_batches_total{status="success"}`,
		`wcsync_refresh_duration_seconds_count{mode="deep"}`,
		`wcsync_sync_records_total{kind="incoming-modification"}`,
		"wcsync_notifications_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}
