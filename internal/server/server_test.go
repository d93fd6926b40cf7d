package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/generated"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/middleware"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/config"
)

// stubHandler отвечает 200 на все операции.
type stubHandler struct{}

func ok(w http.ResponseWriter) { w.WriteHeader(http.StatusOK) }

func (stubHandler) GetRoot(w http.ResponseWriter, _ *http.Request)        { ok(w) }
func (stubHandler) HealthLive(w http.ResponseWriter, _ *http.Request)     { ok(w) }
func (stubHandler) HealthReady(w http.ResponseWriter, _ *http.Request)    { ok(w) }
func (stubHandler) GetMetrics(w http.ResponseWriter, _ *http.Request)     { ok(w) }
func (stubHandler) GetOpenAPISpec(w http.ResponseWriter, _ *http.Request) { ok(w) }
func (stubHandler) ListFiles(w http.ResponseWriter, _ *http.Request)      { ok(w) }
func (stubHandler) UploadFile(w http.ResponseWriter, _ *http.Request)     { ok(w) }
func (stubHandler) ListPeers(w http.ResponseWriter, _ *http.Request)      { ok(w) }
func (stubHandler) PeerChannel(w http.ResponseWriter, _ *http.Request)    { ok(w) }

func (stubHandler) SearchFiles(w http.ResponseWriter, _ *http.Request, _ generated.SearchFilesParams) {
	ok(w)
}

func (stubHandler) GetFile(w http.ResponseWriter, _ *http.Request, _ generated.FileId) { ok(w) }

func (stubHandler) DownloadFile(w http.ResponseWriter, _ *http.Request, _ generated.FileId) {
	ok(w)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                  0,
		HTTPReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:       time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJWTAuth(t *testing.T) *middleware.JWTAuth {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	jwks, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": "server-test",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatal(err)
	}
	return middleware.NewJWTAuthWithKeyfunc(kf, "", time.Second, testLogger())
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_PublicAndProtectedRoutes(t *testing.T) {
	srv := New(testConfig(), testLogger(), stubHandler{}, testJWTAuth(t))
	h := srv.Handler()

	public := []string{"/", "/health/live", "/health/ready", "/metrics", "/api/v1/openapi.yaml", "/ws/peers"}
	for _, path := range public {
		if rec := do(h, http.MethodGet, path); rec.Code != http.StatusOK {
			t.Errorf("%s: ожидался 200 без токена, получен %d", path, rec.Code)
		}
	}

	protected := []string{"/api/v1/files", "/api/v1/files/search?query=a", "/api/v1/peers"}
	for _, path := range protected {
		if rec := do(h, http.MethodGet, path); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: ожидался 401 без токена, получен %d", path, rec.Code)
		}
	}
}

func TestServer_InvalidFileIDIsValidationError(t *testing.T) {
	srv := New(testConfig(), testLogger(), stubHandler{}, nil)

	rec := do(srv.Handler(), http.MethodGet, "/api/v1/files/not-a-uuid")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался 400, получен %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", body.Error.Code)
	}
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	srv := New(testConfig(), testLogger(), stubHandler{}, nil)
	h := srv.Handler()

	if rec := do(h, http.MethodGet, "/api/v2/nothing"); rec.Code != http.StatusNotFound {
		t.Errorf("ожидался 404, получен %d", rec.Code)
	}
	if rec := do(h, http.MethodDelete, "/api/v1/files"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("ожидался 405, получен %d", rec.Code)
	}
}

func TestJWTAuthWithExclusions_ExactRootOnly(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	h := JWTAuthWithExclusions(deny, []string{"/"}, "/health/")(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) { ok(w) },
	))

	if rec := do(h, http.MethodGet, "/"); rec.Code != http.StatusOK {
		t.Errorf("/: получен %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/health/live"); rec.Code != http.StatusOK {
		t.Errorf("/health/live: получен %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/v1/files"); rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/v1/files: получен %d", rec.Code)
	}
}
