// Пакет handlers — HTTP-обработчики fileshare.
// handler.go — APIHandler реализует generated.ServerInterface,
// делегируя запросы в обработчики файлов, пиров и health.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/api"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/generated"
)

// Banner — ответ GET /.
const Banner = "P2P LAN File Sharing System"

// APIHandler — основной обработчик API.
type APIHandler struct {
	files  *FilesHandler
	peers  *PeersHandler
	health *HealthHandler
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	files *FilesHandler,
	peers *PeersHandler,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		files:  files,
		peers:  peers,
		health: health,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// GetRoot — баннер сервиса.
func (h *APIHandler) GetRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Banner))
}

// GetOpenAPISpec отдаёт встроенный контракт.
func (h *APIHandler) GetOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPISpec)
}

// --- Health ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Files ---

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	h.files.ListFiles(w, r)
}

// UploadFile — POST /api/v1/files/upload.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	h.files.UploadFile(w, r)
}

// SearchFiles — GET /api/v1/files/search.
func (h *APIHandler) SearchFiles(w http.ResponseWriter, r *http.Request, params generated.SearchFilesParams) {
	h.files.SearchFiles(w, r, params)
}

// GetFile — GET /api/v1/files/{file_id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request, fileId generated.FileId) {
	h.files.GetFile(w, r, fileId)
}

// DownloadFile — GET /api/v1/files/{file_id}/download.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileId generated.FileId) {
	h.files.DownloadFile(w, r, fileId)
}

// --- Peers ---

// ListPeers — GET /api/v1/peers.
func (h *APIHandler) ListPeers(w http.ResponseWriter, r *http.Request) {
	h.peers.ListPeers(w, r)
}

// PeerChannel — GET /ws/peers.
func (h *APIHandler) PeerChannel(w http.ResponseWriter, r *http.Request) {
	h.peers.PeerChannel(w, r)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

var _ generated.ServerInterface = (*APIHandler)(nil)
