package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/generated"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/middleware"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/peer"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/service"
)

const testFileID = "3f0c1b7e-5d2a-4c8e-9f61-0a2b3c4d5e6f"

// --- Fake конвейера передачи ---

type fakeFileService struct {
	mu       sync.Mutex
	uploads  []service.UploadParams
	uploaded [][]byte

	uploadErr   error
	listResult  []*model.FileRecord
	listErr     error
	searchQuery string
	download    *service.Download
	downloadErr error
}

func (f *fakeFileService) Upload(_ context.Context, p service.UploadParams) (*model.FileRecord, error) {
	if p.Body == nil {
		return nil, &service.TransferError{Kind: service.KindInvalidInput, Message: "Файл не передан"}
	}
	data, err := io.ReadAll(p.Body)
	if err != nil {
		return nil, &service.TransferError{Kind: service.KindInvalidInput, Message: "Ошибка чтения", Err: err}
	}

	f.mu.Lock()
	f.uploads = append(f.uploads, p)
	f.uploaded = append(f.uploaded, data)
	f.mu.Unlock()

	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &model.FileRecord{
		FileID:           testFileID,
		OriginalFilename: p.OriginalFilename,
		BlobReference:    "blob-1",
		ContentType:      p.ContentType,
		Size:             int64(len(data)),
		Description:      p.Description,
		OwnerID:          p.Owner.OwnerID,
		OwnerLabel:       p.Owner.DisplayName,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeFileService) List(context.Context) ([]*model.FileRecord, error) {
	return f.listResult, f.listErr
}

func (f *fakeFileService) Search(_ context.Context, query string) ([]*model.FileRecord, error) {
	f.searchQuery = query
	return f.listResult, f.listErr
}

func (f *fakeFileService) Get(_ context.Context, fileID string) (*model.FileRecord, error) {
	for _, rec := range f.listResult {
		if rec.FileID == fileID {
			return rec, nil
		}
	}
	return nil, &service.TransferError{Kind: service.KindNotFound, Message: "Файл не найден"}
}

func (f *fakeFileService) Download(context.Context, string) (*service.Download, error) {
	return f.download, f.downloadErr
}

// --- Fake проверок готовности ---

type fakeChecker struct{ status, message string }

func (c fakeChecker) CheckReady() (string, string) { return c.status, c.message }

type testChannel string

func (c testChannel) ID() string { return string(c) }

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(svc FileService, registry *peer.Registry, health *HealthHandler) http.Handler {
	if registry == nil {
		registry = peer.NewRegistry(testLogger())
	}
	if health == nil {
		health = NewHealthHandler(fakeChecker{status: "ok"}, fakeChecker{status: "ok"}, nil)
	}
	h := NewAPIHandler(
		NewFilesHandler(svc, testLogger()),
		NewPeersHandler(registry, http.NotFoundHandler()),
		health,
		testLogger(),
	)
	return generated.Handler(h)
}

func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithClaims(r.Context(), &middleware.AuthClaims{
			Subject:           "user-1",
			PreferredUsername: "alice",
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type formPart struct {
	name, filename, contentType, body string
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		disp := fmt.Sprintf(`form-data; name=%q`, p.name)
		if p.filename != "" {
			disp += fmt.Sprintf(`; filename=%q`, p.filename)
		}
		h.Set("Content-Disposition", disp)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(p.body))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, h http.Handler, parts ...formPart) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v (%q)", err, rec.Body.String())
	}
	return body.Error.Code
}

// --- Upload ---

func TestUploadFile_Streams(t *testing.T) {
	svc := &fakeFileService{}
	h := withUser(newTestRouter(svc, nil, nil))

	rec := postUpload(t, h,
		formPart{name: "description", body: "квартальный отчёт"},
		formPart{name: "file", filename: "report.pdf", contentType: "application/pdf", body: "%PDF-1.7 data"},
	)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался 201, получен %d: %s", rec.Code, rec.Body.String())
	}

	var got generated.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.FileId.String() != testFileID {
		t.Errorf("file_id = %s", got.FileId)
	}
	if got.OriginalFilename != "report.pdf" || got.ContentType != "application/pdf" {
		t.Errorf("неверные поля: %+v", got)
	}
	if got.Owner != "alice" || got.OwnerId != "user-1" {
		t.Errorf("владелец = %q/%q", got.Owner, got.OwnerId)
	}
	if got.Description == nil || *got.Description != "квартальный отчёт" {
		t.Errorf("description = %v", got.Description)
	}
	if got.Size != int64(len("%PDF-1.7 data")) {
		t.Errorf("size = %d", got.Size)
	}
	if string(svc.uploaded[0]) != "%PDF-1.7 data" {
		t.Errorf("содержимое = %q", svc.uploaded[0])
	}
}

func TestUploadFile_DescriptionAfterFileIgnored(t *testing.T) {
	svc := &fakeFileService{}
	h := withUser(newTestRouter(svc, nil, nil))

	rec := postUpload(t, h,
		formPart{name: "file", filename: "a.txt", body: "abc"},
		formPart{name: "description", body: "поздно"},
	)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался 201, получен %d", rec.Code)
	}
	if svc.uploads[0].Description != nil {
		t.Errorf("description после file не должен учитываться")
	}
}

func TestUploadFile_NoFilePart(t *testing.T) {
	svc := &fakeFileService{}
	h := withUser(newTestRouter(svc, nil, nil))

	rec := postUpload(t, h, formPart{name: "description", body: "только описание"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался 400, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", code)
	}
	if len(svc.uploads) != 0 {
		t.Errorf("загрузка не должна была начаться")
	}
}

func TestUploadFile_DescriptionTooLong(t *testing.T) {
	svc := &fakeFileService{}
	h := withUser(newTestRouter(svc, nil, nil))

	rec := postUpload(t, h,
		formPart{name: "description", body: strings.Repeat("x", maxDescriptionSize+1)},
		formPart{name: "file", filename: "a.txt", body: "abc"},
	)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался 400, получен %d", rec.Code)
	}
	if len(svc.uploads) != 0 {
		t.Errorf("загрузка не должна была начаться")
	}
}

func TestUploadFile_NotMultipart(t *testing.T) {
	h := withUser(newTestRouter(&fakeFileService{}, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался 400, получен %d", rec.Code)
	}
}

func TestUploadFile_NoClaims(t *testing.T) {
	h := newTestRouter(&fakeFileService{}, nil, nil)

	rec := postUpload(t, h, formPart{name: "file", filename: "a.txt", body: "abc"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидался 401, получен %d", rec.Code)
	}
}

func TestUploadFile_ServiceErrorMapping(t *testing.T) {
	tests := []struct {
		kind   service.Kind
		status int
		code   string
	}{
		{service.KindUpstream, http.StatusBadGateway, "UPSTREAM_STORAGE_ERROR"},
		{service.KindMetadataPersist, http.StatusInternalServerError, "METADATA_PERSIST_ERROR"},
		{service.KindInternal, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &fakeFileService{uploadErr: &service.TransferError{Kind: tt.kind, Message: "сбой"}}
			h := withUser(newTestRouter(svc, nil, nil))

			rec := postUpload(t, h, formPart{name: "file", filename: "a.txt", body: "abc"})

			if rec.Code != tt.status {
				t.Fatalf("ожидался %d, получен %d", tt.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("code = %s, ожидался %s", code, tt.code)
			}
		})
	}
}

// --- List / Search / Get ---

func TestListFiles(t *testing.T) {
	svc := &fakeFileService{listResult: []*model.FileRecord{
		{FileID: testFileID, OriginalFilename: "a.txt", OwnerID: "user-2"},
	}}
	h := newTestRouter(svc, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	var got []generated.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Owner != "user-2" {
		t.Errorf("получено %+v", got)
	}
}

func TestListFiles_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not_found", &service.TransferError{Kind: service.KindNotFound, Message: "Файлов нет"}, http.StatusNotFound},
		{"internal", &service.TransferError{Kind: service.KindInternal, Message: "сбой"}, http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeFileService{listErr: tt.err}, nil, nil)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files", nil))

			if rec.Code != tt.status {
				t.Fatalf("ожидался %d, получен %d", tt.status, rec.Code)
			}
			if strings.Contains(rec.Body.String(), "boom") {
				t.Errorf("детали внутренней ошибки в ответе: %s", rec.Body.String())
			}
		})
	}
}

func TestSearchFiles_PassesQuery(t *testing.T) {
	svc := &fakeFileService{listResult: []*model.FileRecord{{FileID: testFileID}}}
	h := newTestRouter(svc, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/search?query=Report", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if svc.searchQuery != "Report" {
		t.Errorf("query = %q", svc.searchQuery)
	}
}

func TestGetFile(t *testing.T) {
	svc := &fakeFileService{listResult: []*model.FileRecord{{FileID: testFileID, OriginalFilename: "a.txt"}}}
	h := newTestRouter(svc, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+testFileID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался 404, получен %d", rec.Code)
	}
}

// --- Download ---

func TestDownloadFile_Headers(t *testing.T) {
	svc := &fakeFileService{download: &service.Download{
		Body:        io.NopCloser(strings.NewReader("hello")),
		ContentType: "text/plain",
		FileName:    "отчёт.txt",
		Size:        5,
	}}
	h := newTestRouter(svc, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+testFileID+"/download", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("тело = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "5" {
		t.Errorf("Content-Length = %q", cl)
	}

	disp, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatal(err)
	}
	if disp != "attachment" || params["filename"] != "отчёт.txt" {
		t.Errorf("Content-Disposition = %q %v", disp, params)
	}
}

func TestDownloadFile_UnknownSize(t *testing.T) {
	svc := &fakeFileService{download: &service.Download{
		Body:        io.NopCloser(strings.NewReader("data")),
		ContentType: "application/octet-stream",
		FileName:    "a.bin",
		Size:        -1,
	}}
	h := newTestRouter(svc, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+testFileID+"/download", nil))

	if rec.Header().Get("Content-Length") != "" {
		t.Errorf("Content-Length не должен выставляться для неизвестного размера")
	}
}

func TestDownloadFile_NotFound(t *testing.T) {
	svc := &fakeFileService{downloadErr: &service.TransferError{Kind: service.KindNotFound, Message: "нет"}}
	h := newTestRouter(svc, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+testFileID+"/download", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался 404, получен %d", rec.Code)
	}
}

type failingBody struct {
	data []byte
	sent bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.data), nil
	}
	return 0, &service.TransferError{Kind: service.KindUpstream, Message: "обрыв"}
}

func (b *failingBody) Close() error { return nil }

func TestDownloadFile_MidStreamErrorAbortsConnection(t *testing.T) {
	svc := &fakeFileService{download: &service.Download{
		Body:        &failingBody{data: []byte("part")},
		ContentType: "application/octet-stream",
		FileName:    "a.bin",
		Size:        10,
	}}
	srv := httptest.NewServer(newTestRouter(svc, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/files/" + testFileID + "/download")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatalf("ожидалась ошибка чтения усечённого тела, получено %q", data)
	}
}

// --- Health / Root / Peers ---

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		metadata ReadinessChecker
		jwks     ReadinessChecker
		status   int
		overall  string
	}{
		{"all_ok", fakeChecker{status: "ok"}, fakeChecker{status: "ok"}, http.StatusOK, "ok"},
		{"jwks_fail_degrades", fakeChecker{status: "ok"}, fakeChecker{status: "fail"}, http.StatusOK, "degraded"},
		{"metadata_fail", fakeChecker{status: "fail", message: "down"}, nil, http.StatusServiceUnavailable, "fail"},
		{"metadata_missing", nil, nil, http.StatusServiceUnavailable, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := NewHealthHandler(tt.metadata, fakeChecker{status: "ok"}, tt.jwks)
			h := newTestRouter(&fakeFileService{}, nil, health)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.status {
				t.Fatalf("ожидался %d, получен %d", tt.status, rec.Code)
			}
			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.overall {
				t.Errorf("status = %s, ожидался %s", resp.Status, tt.overall)
			}
			if _, ok := resp.Checks["blob_storage"]; !ok {
				t.Errorf("нет проверки blob_storage")
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := newTestRouter(&fakeFileService{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	var resp healthLiveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Service != serviceName {
		t.Errorf("ответ = %+v", resp)
	}
}

func TestGetRoot(t *testing.T) {
	h := newTestRouter(&fakeFileService{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Body.String() != Banner {
		t.Errorf("баннер = %q", rec.Body.String())
	}
}

func TestGetOpenAPISpec(t *testing.T) {
	h := newTestRouter(&fakeFileService{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))

	if !strings.HasPrefix(rec.Body.String(), "openapi: 3.0.3") {
		t.Errorf("не контракт: %.40q", rec.Body.String())
	}
}

func TestListPeers(t *testing.T) {
	registry := peer.NewRegistry(testLogger())
	registry.OnRegister(testChannel("ch-2"), "peer-b")
	registry.OnRegister(testChannel("ch-1"), "peer-a")
	h := newTestRouter(&fakeFileService{}, registry, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/peers", nil))

	var got generated.PeerList
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 2 || got.Peers[0].PeerId != "peer-a" || got.Peers[0].ChannelId != "ch-1" {
		t.Errorf("peers = %+v", got)
	}
}
