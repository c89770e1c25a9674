package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docstack/searchable-pdf-worker/internal/relation"
)

func newTestClient(t *testing.T, handler http.Handler) (*DocstoreClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewDocstoreClient(DocstoreConfig{
		BaseURL:        server.URL,
		Token:          "secret",
		RequestsPerSec: 1000, // keep the limiter out of the way
	})
	if err != nil {
		t.Fatalf("NewDocstoreClient failed: %v", err)
	}
	return client, server
}

func TestNewDocstoreClientValidation(t *testing.T) {
	if _, err := NewDocstoreClient(DocstoreConfig{Token: "t"}); err == nil {
		t.Errorf("expected error for missing base URL")
	}
	if _, err := NewDocstoreClient(DocstoreConfig{BaseURL: "http://x"}); err == nil {
		t.Errorf("expected error for missing token")
	}
}

func TestFetchPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/source-documents/doc-1/pages", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("Authorization = %q, want Token secret", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]int{
				{"index": 1, "width": 1000, "height": 1500},
				{"index": 2, "width": 1000, "height": 1500},
			},
		})
	})
	mux.HandleFunc("/source-documents/doc-1/page_data", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("granularity"); got != "lines" {
			t.Errorf("granularity = %q, want lines", got)
		}
		if got := r.URL.Query().Get("page_numbers"); got != "1,2" {
			t.Errorf("page_numbers = %q, want 1,2", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"items": []map[string]interface{}{
					{"text": "Invoice", "position": []float64{100, 200, 300, 220}},
					{"text": "bad box", "position": []float64{1, 2}},
				}},
				{"items": []map[string]interface{}{}},
			},
		})
	})
	mux.HandleFunc("/source-documents/doc-1/pages/1/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raster-1"))
	})
	mux.HandleFunc("/source-documents/doc-1/pages/2/content", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raster-2"))
	})

	client, _ := newTestClient(t, mux)
	pages, err := client.FetchPages(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("FetchPages failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}

	p := pages[0]
	if p.Index != 1 || p.PixelWidth != 1000 || p.PixelHeight != 1500 {
		t.Errorf("page 1 metadata = %+v", p)
	}
	if string(p.ImageData) != "raster-1" {
		t.Errorf("page 1 image = %q", p.ImageData)
	}
	// Malformed positions are dropped, valid boxes become x/y/w/h runs.
	if len(p.Runs) != 1 {
		t.Fatalf("page 1 has %d runs, want 1", len(p.Runs))
	}
	run := p.Runs[0]
	if run.Text != "Invoice" || run.X != 100 || run.Y != 200 || run.Width != 200 || run.Height != 20 {
		t.Errorf("run = %+v", run)
	}

	if len(pages[1].Runs) != 0 {
		t.Errorf("page 2 has %d runs, want 0", len(pages[1].Runs))
	}
}

func TestFetchPagesChunksOcrRequests(t *testing.T) {
	const pageCount = 45
	var chunks []string

	mux := http.NewServeMux()
	mux.HandleFunc("/source-documents/doc-1/pages", func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]int, 0, pageCount)
		for i := 1; i <= pageCount; i++ {
			results = append(results, map[string]int{"index": i, "width": 100, "height": 100})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	})
	mux.HandleFunc("/source-documents/doc-1/page_data", func(w http.ResponseWriter, r *http.Request) {
		nums := r.URL.Query().Get("page_numbers")
		chunks = append(chunks, nums)
		count := strings.Count(nums, ",") + 1
		results := make([]map[string]interface{}, count)
		for i := range results {
			results[i] = map[string]interface{}{"items": []map[string]interface{}{}}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raster"))
	})

	client, _ := newTestClient(t, mux)
	pages, err := client.FetchPages(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("FetchPages failed: %v", err)
	}
	if len(pages) != pageCount {
		t.Fatalf("got %d pages, want %d", len(pages), pageCount)
	}

	if len(chunks) != 3 {
		t.Fatalf("OCR data fetched in %d requests, want 3: %v", len(chunks), chunks)
	}
	if !strings.HasPrefix(chunks[0], "1,") || !strings.HasSuffix(chunks[0], ",20") {
		t.Errorf("first chunk = %q, want pages 1-20", chunks[0])
	}
	if !strings.HasPrefix(chunks[1], "21,") || !strings.HasSuffix(chunks[1], ",40") {
		t.Errorf("second chunk = %q, want pages 21-40", chunks[1])
	}
	if !strings.HasPrefix(chunks[2], "41,") || !strings.HasSuffix(chunks[2], ",45") {
		t.Errorf("third chunk = %q, want pages 41-45", chunks[2])
	}
}

func TestFetchPagesRejectsOversizedPageImage(t *testing.T) {
	const maxPageBytes = 4096

	mux := http.NewServeMux()
	mux.HandleFunc("/source-documents/doc-1/pages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]int{{"index": 1, "width": 100, "height": 100}},
		})
	})
	mux.HandleFunc("/source-documents/doc-1/page_data", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"items": []map[string]interface{}{}}},
		})
	})
	mux.HandleFunc("/source-documents/doc-1/pages/1/content", func(w http.ResponseWriter, r *http.Request) {
		// Twice the cap, with a JPEG magic so truncation would otherwise
		// survive header-only validation downstream.
		body := make([]byte, 2*maxPageBytes)
		copy(body, []byte{0xFF, 0xD8, 0xFF})
		w.Write(body)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client, err := NewDocstoreClient(DocstoreConfig{
		BaseURL:        server.URL,
		Token:          "secret",
		RequestsPerSec: 1000,
		MaxPageBytes:   maxPageBytes,
	})
	if err != nil {
		t.Fatalf("NewDocstoreClient failed: %v", err)
	}

	_, err = client.FetchPages(context.Background(), "doc-1")
	if err == nil {
		t.Fatalf("oversized page image must fail, not be truncated")
	}
	if !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("error %q does not mention the byte limit", err.Error())
	}
}

func TestFetchPagesPageCountMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/source-documents/doc-1/pages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]int{
				{"index": 1, "width": 100, "height": 100},
				{"index": 2, "width": 100, "height": 100},
			},
		})
	})
	mux.HandleFunc("/source-documents/doc-1/page_data", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"items": []map[string]interface{}{}},
			},
		})
	})

	client, _ := newTestClient(t, mux)
	if _, err := client.FetchPages(context.Background(), "doc-1"); err == nil {
		t.Errorf("expected page count mismatch error")
	}
}

func TestUploadDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		file, header, err := r.FormFile("content")
		if err != nil {
			t.Fatalf("form file part missing: %v", err)
		}
		defer file.Close()
		if header.Filename != "src-1.pdf" {
			t.Errorf("filename = %q, want src-1.pdf", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "doc-99"})
	})

	client, _ := newTestClient(t, mux)
	id, err := client.UploadDocument(context.Background(), []byte("%PDF"), "src-1.pdf")
	if err != nil {
		t.Fatalf("UploadDocument failed: %v", err)
	}
	if id != "doc-99" {
		t.Errorf("id = %q, want doc-99", id)
	}
}

func TestUploadDocumentErrors(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := client.UploadDocument(context.Background(), nil, "a.pdf"); err == nil {
		t.Errorf("expected error for empty content")
	}
	if _, err := client.UploadDocument(context.Background(), []byte("x"), ""); err == nil {
		t.Errorf("expected error for empty filename")
	}
	if _, err := client.UploadDocument(context.Background(), []byte("x"), "a.pdf"); err == nil {
		t.Errorf("expected error for HTTP 500")
	}
}

func TestDeleteDocument(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		wantErr  bool
		wantGone bool
	}{
		{name: "deleted", status: http.StatusNoContent, wantErr: false},
		{name: "already gone", status: http.StatusNotFound, wantErr: true, wantGone: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				w.WriteHeader(tc.status)
			}))

			err := client.DeleteDocument(context.Background(), "doc-1")
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gone := errors.Is(err, relation.ErrNotFound); gone != tc.wantGone {
				t.Errorf("errors.Is(err, ErrNotFound) = %v, want %v", gone, tc.wantGone)
			}
		})
	}
}

func TestFindRelation(t *testing.T) {
	t.Run("absent returns nil", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
		}))
		rec, err := client.FindRelation(context.Background(), "src-1", "searchable_pdf", "export")
		if err != nil {
			t.Fatalf("FindRelation failed: %v", err)
		}
		if rec != nil {
			t.Errorf("rec = %+v, want nil", rec)
		}
	})

	t.Run("present maps all fields", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("source_document") != "src-1" || q.Get("key") != "searchable_pdf" || q.Get("kind") != "export" {
				t.Errorf("query = %v", q)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"results": []map[string]string{{
					"id":              "rel-7",
					"source_document": "src-1",
					"key":             "searchable_pdf",
					"kind":            "export",
					"target_document": "doc-3",
				}},
			})
		}))
		rec, err := client.FindRelation(context.Background(), "src-1", "searchable_pdf", "export")
		if err != nil {
			t.Fatalf("FindRelation failed: %v", err)
		}
		want := relation.Record{
			ID:               "rel-7",
			SourceDocumentID: "src-1",
			Key:              "searchable_pdf",
			Kind:             "export",
			TargetDocumentID: "doc-3",
		}
		if *rec != want {
			t.Errorf("rec = %+v, want %+v", *rec, want)
		}
	})
}

func TestCreateAndUpdateRelation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/document-relations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["source_document"] != "src-1" || payload["kind"] != "export" || payload["target_document"] != "doc-5" {
			t.Errorf("payload = %v", payload)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":              "rel-1",
			"source_document": payload["source_document"],
			"key":             payload["key"],
			"kind":            payload["kind"],
			"target_document": payload["target_document"],
		})
	})
	mux.HandleFunc("/document-relations/rel-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id":              "rel-1",
			"source_document": "src-1",
			"key":             "searchable_pdf",
			"kind":            "export",
			"target_document": payload["target_document"],
		})
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	created, err := client.CreateRelation(ctx, "src-1", "searchable_pdf", "export", "doc-5")
	if err != nil {
		t.Fatalf("CreateRelation failed: %v", err)
	}
	if created.ID != "rel-1" || created.TargetDocumentID != "doc-5" {
		t.Errorf("created = %+v", created)
	}

	updated, err := client.UpdateRelation(ctx, "rel-1", "doc-6")
	if err != nil {
		t.Fatalf("UpdateRelation failed: %v", err)
	}
	if updated.ID != "rel-1" || updated.TargetDocumentID != "doc-6" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("path = %s, want /health", r.URL.Path)
			}
			fmt.Fprint(w, `{"status":"ok"}`)
		}))
		if err := client.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck failed: %v", err)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
		if err := client.HealthCheck(context.Background()); err == nil {
			t.Errorf("expected error for unhealthy docstore")
		}
	})
}
