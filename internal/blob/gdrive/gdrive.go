// Пакет gdrive — хранилище блобов в Google Drive (API v3).
// Загрузка идёт resumable/multipart запросом, в который байты
// подаются через io.Pipe: в памяти держится не больше одного чанка.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/blob"
)

// Поля ответа Drive API, которые нужны адаптеру.
const (
	createFields = "id, name, webViewLink"
	statFields   = "name, mimeType, size"
)

// googleAppsMimePrefix — MIME-типы нативных документов Google.
const googleAppsMimePrefix = "application/vnd.google-apps."

// Config — параметры подключения к Google Drive.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
	// FolderID — родительская папка для новых файлов (опционально)
	FolderID string
	// ChunkSize — размер чанка загрузки
	ChunkSize int
	// Endpoint — базовый URL Drive API (опционально)
	Endpoint string
}

// Store — блобы в Google Drive.
type Store struct {
	svc       *drive.Service
	folderID  string
	chunkSize int
	logger    *slog.Logger
}

// New создаёт клиент Drive с OAuth2 refresh token.
// ctx используется источником токенов на всё время жизни клиента.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Google Drive: %w", err)
	}
	return NewWithService(svc, cfg.FolderID, cfg.ChunkSize, logger), nil
}

// NewWithService создаёт хранилище поверх готового клиента Drive.
func NewWithService(svc *drive.Service, folderID string, chunkSize int, logger *slog.Logger) *Store {
	if chunkSize <= 0 {
		chunkSize = googleapi.DefaultUploadChunkSize
	}
	return &Store{
		svc:       svc,
		folderID:  folderID,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("component", "gdrive")),
	}
}

// OpenWriter запускает загрузку в фоне; байты, записанные в Writer,
// уходят в тело запроса по мере чтения клиентом Drive.
func (s *Store) OpenWriter(ctx context.Context, name, mimeType string) (blob.Writer, error) {
	meta := &drive.File{Name: name, MimeType: mimeType}
	if s.folderID != "" {
		meta.Parents = []string{s.folderID}
	}

	mediaOpts := []googleapi.MediaOption{googleapi.ChunkSize(s.chunkSize)}
	if mimeType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(mimeType))
	}

	pr, pw := io.Pipe()
	w := &writer{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		// Media читает первый чанк сразу, поэтому вызов строится в горутине
		call := s.svc.Files.Create(meta).
			Media(pr, mediaOpts...).
			Fields(createFields).
			SupportsAllDrives(true).
			Context(ctx)
		w.file, w.err = call.Do()
		if w.err != nil {
			// Разблокирует Write, если Drive прекратил чтение досрочно
			pr.CloseWithError(w.err)
			return
		}
		pr.Close()
	}()

	return w, nil
}

// Stat запрашивает актуальные имя, MIME-тип и размер файла.
func (s *Store) Stat(ctx context.Context, ref string) (*blob.Info, error) {
	f, err := s.svc.Files.Get(ref).
		Fields(statFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError(err, "ошибка получения метаданных файла "+ref)
	}
	size := f.Size
	// Документы Google (Docs, Sheets, ...) не имеют двоичного размера
	if size == 0 && strings.HasPrefix(f.MimeType, googleAppsMimePrefix) {
		size = -1
	}
	return &blob.Info{Name: f.Name, MimeType: f.MimeType, Size: size}, nil
}

// OpenReader открывает поток содержимого файла (alt=media).
func (s *Store) OpenReader(ctx context.Context, ref string) (io.ReadCloser, error) {
	resp, err := s.svc.Files.Get(ref).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, mapError(err, "ошибка скачивания файла "+ref)
	}
	return resp.Body, nil
}

// CheckReady проверяет доступность Drive API и валидность токена.
func (s *Store) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return "fail", fmt.Sprintf("Google Drive недоступен: %v", err)
	}
	return "ok", "API доступен"
}

// writer — приёмник записи, связанный с фоновой загрузкой через io.Pipe.
type writer struct {
	pw   *io.PipeWriter
	done chan struct{}

	// Заполняются фоновой горутиной до close(done)
	file *drive.File
	err  error
}

func (w *writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close сигнализирует конец данных и ждёт ответа Drive.
func (w *writer) Close() (*blob.Ref, error) {
	_ = w.pw.Close()
	<-w.done

	if w.err != nil {
		return nil, mapError(w.err, "ошибка загрузки файла")
	}
	if w.file == nil || w.file.Id == "" {
		return nil, errors.New("Google Drive не вернул идентификатор файла")
	}
	return &blob.Ref{Reference: w.file.Id, LocationHint: w.file.WebViewLink}, nil
}

// Abort обрывает тело запроса и ждёт завершения фоновой загрузки.
func (w *writer) Abort(cause error) {
	if cause == nil {
		cause = errors.New("загрузка прервана")
	}
	_ = w.pw.CloseWithError(cause)
	<-w.done
}

// mapError переводит 404 Drive API в blob.ErrNotFound.
func mapError(err error, msg string) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", msg, blob.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

var _ blob.Store = (*Store)(nil)
