package server

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"filedrop/internal/db"
)

func TestUploadHandler_Success(t *testing.T) {
	audit := &fakeAudit{}
	srv, _ := newTestServer(t, func(c *Config) { c.Audit = audit })

	rr := doUpload(t, srv.Handler(),
		filePart{"files", "a.txt", []byte("alpha")},
		filePart{"files", "b.txt", []byte("bravo")},
	)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var names []string
	decodeJSON(t, rr.Body, &names)
	if want := []string{"a.txt", "b.txt"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Expected %v, got %v", want, names)
	}

	got, err := os.ReadFile(filepath.Join(srv.store.Root(), "b.txt"))
	if err != nil {
		t.Fatalf("Stored file missing: %v", err)
	}
	if string(got) != "bravo" {
		t.Errorf("Expected content %q, got %q", "bravo", got)
	}

	entries := audit.snapshot()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != db.AuditActionFileUpload || entries[0].Resource != "a.txt" || !entries[0].Success {
		t.Errorf("Unexpected audit entry: %+v", entries[0])
	}
	if entries[0].RequestID == "" {
		t.Error("Expected audit entry to carry the request id")
	}
}

func TestUploadHandler_SingleFileField(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doUpload(t, srv.Handler(), filePart{"file", "notes.md", []byte("# hi")})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var names []string
	decodeJSON(t, rr.Body, &names)
	if len(names) != 1 || names[0] != "notes.md" {
		t.Errorf("Expected [notes.md], got %v", names)
	}
}

func TestUploadHandler_Traversal(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doUpload(t, srv.Handler(), filePart{"files", "../evil.txt", []byte("nope")})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp uploadErrorResponse
	decodeJSON(t, rr.Body, &resp)
	if resp.Name != "../evil.txt" {
		t.Errorf("Expected rejected name in response, got %q", resp.Name)
	}
	if resp.Stored == nil || len(resp.Stored) != 0 {
		t.Errorf("Expected empty stored list, got %v", resp.Stored)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(srv.store.Root()), "evil.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected nothing written outside the root, stat err = %v", err)
	}
}

func TestUploadHandler_PartialBatch(t *testing.T) {
	audit := &fakeAudit{}
	srv, _ := newTestServer(t, func(c *Config) { c.Audit = audit })

	rr := doUpload(t, srv.Handler(),
		filePart{"files", "a.txt", []byte("one")},
		filePart{"files", "../b.txt", []byte("two")},
		filePart{"files", "c.txt", []byte("three")},
	)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp uploadErrorResponse
	decodeJSON(t, rr.Body, &resp)
	if !reflect.DeepEqual(resp.Stored, []string{"a.txt"}) {
		t.Errorf("Expected stored [a.txt], got %v", resp.Stored)
	}

	root := srv.store.Root()
	if _, err := os.Stat(filepath.Join(root, "a.txt")); err != nil {
		t.Errorf("Expected a.txt to stay stored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "c.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected c.txt not to be attempted, stat err = %v", err)
	}

	entries := audit.snapshot()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}
	if entries[1].Success || entries[1].Resource != "../b.txt" {
		t.Errorf("Expected failed audit entry for ../b.txt, got %+v", entries[1])
	}
}

func TestUploadHandler_NotMultipart(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/file/upload", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}
}

func TestUploadHandler_NoFileParts(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Only a non-file field.
	body, contentType := multipartBody(t, filePart{"comment", "x.txt", []byte("ignored")})
	req := httptest.NewRequest(http.MethodPost, "/file/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
	var resp uploadErrorResponse
	decodeJSON(t, rr.Body, &resp)
	if resp.Error != "missing file" {
		t.Errorf("Expected missing file error, got %q", resp.Error)
	}

	entries, err := os.ReadDir(srv.store.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty root, found %d entries", len(entries))
	}
}

func TestUploadHandler_TooLarge(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.MaxUploadBytes = 512 })

	rr := doUpload(t, srv.Handler(), filePart{"files", "big.bin", bytes.Repeat([]byte("x"), 4096)})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d: %s", rr.Code, rr.Body.String())
	}

	entries, err := os.ReadDir(srv.store.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no files or temp files left, found %d entries", len(entries))
	}
}

func TestUploadHandler_AuditFailureDoesNotFailUpload(t *testing.T) {
	audit := &fakeAudit{err: errors.New("database down")}
	srv, logs := newTestServer(t, func(c *Config) { c.Audit = audit })

	rr := doUpload(t, srv.Handler(), filePart{"files", "a.txt", []byte("alpha")})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(logs.String(), "audit record failed") {
		t.Errorf("Expected audit failure to be logged, got %s", logs.String())
	}
}

func TestUploadHandler_FoldsDirectories(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doUpload(t, srv.Handler(), filePart{"files", "dir/inner.txt", []byte("x")})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var names []string
	decodeJSON(t, rr.Body, &names)
	if len(names) != 1 || names[0] != "inner.txt" {
		t.Errorf("Expected [inner.txt], got %v", names)
	}
	if _, err := os.Stat(filepath.Join(srv.store.Root(), "dir")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected no subdirectory to be created, stat err = %v", err)
	}
}
