// files.go — HTTP-обработчики файлов: потоковая загрузка, список,
// поиск, метаданные, потоковое скачивание.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	apierrors "github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/errors"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/generated"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/middleware"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/service"
)

// maxDescriptionSize — лимит поля description.
const maxDescriptionSize = 4096

// FileService — операции конвейера передачи, нужные обработчикам.
type FileService interface {
	Upload(ctx context.Context, p service.UploadParams) (*model.FileRecord, error)
	List(ctx context.Context) ([]*model.FileRecord, error)
	Search(ctx context.Context, query string) ([]*model.FileRecord, error)
	Get(ctx context.Context, fileID string) (*model.FileRecord, error)
	Download(ctx context.Context, fileID string) (*service.Download, error)
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	svc    FileService
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(svc FileService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Тело читается по частям: description (опционально) должен идти до file,
// содержимое file передаётся в конвейер потоком.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	owner := model.Owner{OwnerID: claims.Subject, DisplayName: claims.PreferredUsername}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}

	var description *string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
			return
		}

		switch part.FormName() {
		case "description":
			data, err := io.ReadAll(io.LimitReader(part, maxDescriptionSize+1))
			part.Close()
			if err != nil {
				apierrors.ValidationError(w, "Ошибка чтения поля description")
				return
			}
			if len(data) > maxDescriptionSize {
				apierrors.ValidationError(w, fmt.Sprintf("Поле description длиннее %d байт", maxDescriptionSize))
				return
			}
			if len(data) > 0 {
				s := string(data)
				description = &s
			}

		case "file":
			rec, err := h.svc.Upload(r.Context(), service.UploadParams{
				Body:             part,
				OriginalFilename: part.FileName(),
				ContentType:      part.Header.Get("Content-Type"),
				Description:      description,
				Owner:            owner,
			})
			part.Close()
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, toAPIRecord(rec))
			return

		default:
			part.Close()
		}
	}

	// Части file нет: конвейер отклонит загрузку без обращения к хранилищу
	_, err = h.svc.Upload(r.Context(), service.UploadParams{Description: description, Owner: owner})
	h.writeServiceError(w, err)
}

// ListFiles обрабатывает GET /api/v1/files.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIRecords(records))
}

// SearchFiles обрабатывает GET /api/v1/files/search?query=...
func (h *FilesHandler) SearchFiles(w http.ResponseWriter, r *http.Request, params generated.SearchFilesParams) {
	query := ""
	if params.Query != nil {
		query = *params.Query
	}
	records, err := h.svc.Search(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIRecords(records))
}

// GetFile обрабатывает GET /api/v1/files/{file_id}.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request, fileId generated.FileId) {
	rec, err := h.svc.Get(r.Context(), fileId.String())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIRecord(rec))
}

// DownloadFile обрабатывает GET /api/v1/files/{file_id}/download.
// Ошибка провайдера после начала передачи обрывает соединение:
// статус уже отправлен, клиент видит усечённое тело.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileId generated.FileId) {
	d, err := h.svc.Download(r.Context(), fileId.String())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(d.FileName))
	if d.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	// Статус и заголовки уходят клиенту до первых байт тела
	if err := http.NewResponseController(w).Flush(); err != nil {
		h.logger.Debug("Flush заголовков не поддерживается",
			slog.String("file_id", fileId.String()),
			slog.String("error", err.Error()),
		)
	}

	if _, err := io.Copy(w, d.Body); err != nil {
		if service.KindOf(err) == service.KindUpstream {
			h.logger.Error("Скачивание оборвано ошибкой хранилища",
				slog.String("file_id", fileId.String()),
				slog.String("error", err.Error()),
			)
			panic(http.ErrAbortHandler)
		}
		// Клиент отключился
		h.logger.Debug("Скачивание прервано клиентом",
			slog.String("file_id", fileId.String()),
			slog.String("error", err.Error()),
		)
	}
}

// writeServiceError переводит ошибку конвейера в HTTP-ответ.
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, err error) {
	msg := service.MessageOf(err)
	switch service.KindOf(err) {
	case service.KindInvalidInput:
		apierrors.ValidationError(w, msg)
	case service.KindNotFound:
		apierrors.NotFound(w, msg)
	case service.KindUpstream:
		apierrors.UpstreamError(w, msg)
	case service.KindMetadataPersist:
		apierrors.MetadataPersistError(w, msg)
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, msg)
	}
}

// contentDisposition формирует attachment с именем файла (RFC 2231 для не-ASCII).
func contentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func toAPIRecord(rec *model.FileRecord) generated.FileRecord {
	// FileID назначает хранилище метаданных, формат UUID гарантирован
	id, _ := uuid.Parse(rec.FileID)
	return generated.FileRecord{
		FileId:           id,
		OriginalFilename: rec.OriginalFilename,
		BlobReference:    rec.BlobReference,
		LocationHint:     rec.LocationHint,
		ContentType:      rec.ContentType,
		Size:             rec.Size,
		Description:      rec.Description,
		OwnerId:          rec.OwnerID,
		Owner:            rec.Label(),
		CreatedAt:        rec.CreatedAt,
	}
}

func toAPIRecords(records []*model.FileRecord) []generated.FileRecord {
	out := make([]generated.FileRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, toAPIRecord(rec))
	}
	return out
}
