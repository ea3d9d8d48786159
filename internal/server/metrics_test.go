package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, srv *Server) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rr.Code)
	}
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMetrics_Transfers(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	if rr := doUpload(t, srv.Handler(), filePart{"files", "a.txt", []byte("12345")}); rr.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", rr.Code)
	}
	doUpload(t, srv.Handler(), filePart{"files", "../x.txt", []byte("no")})

	req := httptest.NewRequest(http.MethodGet, "/file/download/a.txt", nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)
	req = httptest.NewRequest(http.MethodGet, "/file/download/missing.txt", nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(srv.metrics.uploadsTotal); got != 1 {
		t.Errorf("Expected 1 upload, got %v", got)
	}
	if got := testutil.ToFloat64(srv.metrics.uploadErrorsTotal.WithLabelValues(kindInvalidName)); got != 1 {
		t.Errorf("Expected 1 invalid name error, got %v", got)
	}

	body := scrape(t, srv)
	for _, want := range []string{
		"filedrop_uploads_total 1",
		"filedrop_upload_bytes_total 5",
		`filedrop_upload_errors_total{kind="invalid_name"} 1`,
		"filedrop_downloads_total 1",
		"filedrop_download_bytes_total 5",
		`filedrop_download_errors_total{kind="not_found"} 1`,
		`filedrop_http_requests_total{code="200"}`,
		`filedrop_http_request_duration_seconds_count{route="/file/download/{filename}"} 2`,
		`filedrop_build_info{commit="abc123",version="test"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, _ := newTestServer(t, nil)
	b, _ := newTestServer(t, nil)

	doUpload(t, a.Handler(), filePart{"files", "a.txt", []byte("x")})

	if !strings.Contains(scrape(t, a), "filedrop_uploads_total 1") {
		t.Error("Expected first server to count its upload")
	}
	if !strings.Contains(scrape(t, b), "filedrop_uploads_total 0") {
		t.Error("Expected second server to start from zero")
	}
}
