/**
 * Docstore client for the searchable-PDF worker
 *
 * Talks to the document-management API that owns source documents, their
 * page images, OCR line data, uploaded documents and document relations.
 * The client implements both collaborator surfaces the pipeline consumes:
 *   - overlay.PageSource (page images + OCR lines, in page order)
 *   - relation.Store (upload/delete documents, find/create/update relations)
 *
 * OCR line data is fetched in chunks of 20 pages to keep request URLs and
 * response payloads bounded on large documents.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/docstack/searchable-pdf-worker/internal/overlay"
	"github.com/docstack/searchable-pdf-worker/internal/relation"
)

// ocrChunkSize bounds how many pages of OCR lines one request may carry.
const ocrChunkSize = 20

// DocstoreClient handles communication with the document-management API.
type DocstoreClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxPage    int64
}

// DocstoreConfig configures the client.
type DocstoreConfig struct {
	BaseURL        string
	Token          string
	RequestsPerSec float64
	MaxPageBytes   int64
}

// NewDocstoreClient creates a new docstore client.
func NewDocstoreClient(cfg DocstoreConfig) (*DocstoreClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("docstore base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("docstore token is required")
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	maxPage := cfg.MaxPageBytes
	if maxPage <= 0 {
		maxPage = 50 * 1024 * 1024
	}
	return &DocstoreClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		maxPage: maxPage,
	}, nil
}

// pageInfo mirrors one entry of the page listing.
type pageInfo struct {
	Index  int `json:"index"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ocrItem mirrors one OCR line: recognized text plus [x0 y0 x1 y1] in
// image pixel coordinates, top-left origin.
type ocrItem struct {
	Text     string    `json:"text"`
	Position []float64 `json:"position"`
}

// relationRecord mirrors one document-relation resource.
type relationRecord struct {
	ID             string `json:"id"`
	SourceDocument string `json:"source_document"`
	Key            string `json:"key"`
	Kind           string `json:"kind"`
	TargetDocument string `json:"target_document"`
}

// HealthCheck verifies the docstore API is reachable.
func (c *DocstoreClient) HealthCheck(ctx context.Context) error {
	body, err := c.getJSON(ctx, c.baseURL+"/health")
	if err != nil {
		return fmt.Errorf("docstore health check failed: %w", err)
	}
	_ = body
	return nil
}

// FetchPages returns all pages of a source document, each with its image
// bytes and OCR lines, ordered by page index.
func (c *DocstoreClient) FetchPages(ctx context.Context, sourceDocumentID string) ([]overlay.Page, error) {
	if sourceDocumentID == "" {
		return nil, fmt.Errorf("source document id is required")
	}

	var listing struct {
		Results []pageInfo `json:"results"`
	}
	raw, err := c.getJSON(ctx, fmt.Sprintf("%s/source-documents/%s/pages", c.baseURL, url.PathEscape(sourceDocumentID)))
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, fmt.Errorf("parse page listing: %w", err)
	}
	if len(listing.Results) == 0 {
		return nil, fmt.Errorf("source document %s has no pages", sourceDocumentID)
	}

	ocrPages, err := c.fetchOcrLines(ctx, sourceDocumentID, len(listing.Results))
	if err != nil {
		return nil, err
	}
	if len(ocrPages) != len(listing.Results) {
		return nil, fmt.Errorf("page count mismatch: OCR data has %d pages, listing has %d",
			len(ocrPages), len(listing.Results))
	}

	pages := make([]overlay.Page, 0, len(listing.Results))
	for i, info := range listing.Results {
		content, err := c.getBytes(ctx, fmt.Sprintf("%s/source-documents/%s/pages/%d/content",
			c.baseURL, url.PathEscape(sourceDocumentID), info.Index))
		if err != nil {
			return nil, fmt.Errorf("fetch page %d content: %w", info.Index, err)
		}

		runs := make([]overlay.OcrRun, 0, len(ocrPages[i]))
		for _, item := range ocrPages[i] {
			if len(item.Position) != 4 {
				continue
			}
			runs = append(runs, overlay.OcrRun{
				Text:   item.Text,
				X:      item.Position[0],
				Y:      item.Position[1],
				Width:  item.Position[2] - item.Position[0],
				Height: item.Position[3] - item.Position[1],
			})
		}

		pages = append(pages, overlay.Page{
			Index:       info.Index,
			ImageData:   content,
			PixelWidth:  info.Width,
			PixelHeight: info.Height,
			Runs:        runs,
		})
	}

	return pages, nil
}

// fetchOcrLines pulls line-granularity OCR data for pages 1..pageCount in
// chunks of ocrChunkSize.
func (c *DocstoreClient) fetchOcrLines(ctx context.Context, sourceDocumentID string, pageCount int) ([][]ocrItem, error) {
	out := make([][]ocrItem, 0, pageCount)

	for start := 1; start <= pageCount; start += ocrChunkSize {
		end := start + ocrChunkSize - 1
		if end > pageCount {
			end = pageCount
		}
		nums := make([]string, 0, end-start+1)
		for n := start; n <= end; n++ {
			nums = append(nums, strconv.Itoa(n))
		}

		endpoint := fmt.Sprintf("%s/source-documents/%s/page_data?granularity=lines&page_numbers=%s",
			c.baseURL, url.PathEscape(sourceDocumentID), strings.Join(nums, ","))
		raw, err := c.getJSON(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("fetch OCR lines for pages %d-%d: %w", start, end, err)
		}

		var chunk struct {
			Results []struct {
				Items []ocrItem `json:"items"`
			} `json:"results"`
		}
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return nil, fmt.Errorf("parse OCR lines: %w", err)
		}
		for _, page := range chunk.Results {
			out = append(out, page.Items)
		}
	}

	return out, nil
}

// UploadDocument uploads a generated PDF and returns the new document id.
func (c *DocstoreClient) UploadDocument(ctx context.Context, content []byte, filename string) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("content is required: received empty buffer")
	}
	if filename == "" {
		return "", fmt.Errorf("filename is required: received empty string")
	}

	log.Printf("[DocstoreClient] Uploading document: filename=%s, size=%d bytes", filename, len(content))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("content", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("failed to write file data to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	respBody, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("document upload failed with HTTP %d: %s", status, string(respBody))
	}

	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w (raw response: %s)", err, string(respBody))
	}
	if doc.ID == "" {
		return "", fmt.Errorf("document upload succeeded but returned empty id")
	}

	log.Printf("[DocstoreClient] Document uploaded: id=%s, duration=%v", doc.ID, time.Since(start))
	return doc.ID, nil
}

// DeleteDocument deletes a document. A 404 maps to relation.ErrNotFound so
// the upsert manager can treat already-gone targets as deleted.
func (c *DocstoreClient) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/documents/%s", c.baseURL, url.PathEscape(documentID)), nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	respBody, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("delete document %s: %w", documentID, relation.ErrNotFound)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("document delete failed with HTTP %d: %s", status, string(respBody))
	}
	return nil
}

// FindRelation looks up the relation for (source document, key, kind).
// Returns nil when absent.
func (c *DocstoreClient) FindRelation(ctx context.Context, sourceDocumentID, key, kind string) (*relation.Record, error) {
	endpoint := fmt.Sprintf("%s/document-relations?source_document=%s&key=%s&kind=%s",
		c.baseURL, url.QueryEscape(sourceDocumentID), url.QueryEscape(key), url.QueryEscape(kind))
	raw, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("find relation: %w", err)
	}

	var listing struct {
		Results []relationRecord `json:"results"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, fmt.Errorf("parse relation listing: %w", err)
	}
	if len(listing.Results) == 0 {
		return nil, nil
	}
	return toRecord(listing.Results[0]), nil
}

// CreateRelation creates a new relation pointing at targetDocumentID.
func (c *DocstoreClient) CreateRelation(ctx context.Context, sourceDocumentID, key, kind, targetDocumentID string) (*relation.Record, error) {
	payload := map[string]string{
		"source_document": sourceDocumentID,
		"key":             key,
		"kind":            kind,
		"target_document": targetDocumentID,
	}
	raw, err := c.sendJSON(ctx, http.MethodPost, c.baseURL+"/document-relations", payload)
	if err != nil {
		return nil, fmt.Errorf("create relation: %w", err)
	}

	var rec relationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse created relation: %w", err)
	}
	return toRecord(rec), nil
}

// UpdateRelation repoints an existing relation at targetDocumentID.
func (c *DocstoreClient) UpdateRelation(ctx context.Context, relationID, targetDocumentID string) (*relation.Record, error) {
	payload := map[string]string{
		"target_document": targetDocumentID,
	}
	raw, err := c.sendJSON(ctx, http.MethodPatch,
		fmt.Sprintf("%s/document-relations/%s", c.baseURL, url.PathEscape(relationID)), payload)
	if err != nil {
		return nil, fmt.Errorf("update relation: %w", err)
	}

	var rec relationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse updated relation: %w", err)
	}
	return toRecord(rec), nil
}

func toRecord(rec relationRecord) *relation.Record {
	return &relation.Record{
		ID:               rec.ID,
		SourceDocumentID: rec.SourceDocument,
		Key:              rec.Key,
		Kind:             rec.Kind,
		TargetDocumentID: rec.TargetDocument,
	}
}

// do executes a prepared request under the rate limiter and returns the
// body and status code.
func (c *DocstoreClient) do(req *http.Request) ([]byte, int, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, 0, fmt.Errorf("rate limiter: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to docstore failed: %w", err)
	}
	defer resp.Body.Close()

	// Read one byte past the cap so an oversized body fails loudly
	// instead of being truncated into a corrupt payload.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPage+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxPage {
		return nil, resp.StatusCode, fmt.Errorf("response body exceeds %d byte limit", c.maxPage)
	}
	return body, resp.StatusCode, nil
}

func (c *DocstoreClient) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", status, string(body))
	}
	return body, nil
}

func (c *DocstoreClient) getBytes(ctx context.Context, endpoint string) ([]byte, error) {
	return c.getJSON(ctx, endpoint)
}

func (c *DocstoreClient) sendJSON(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", status, string(body))
	}
	return body, nil
}
