// Пакет service — бизнес-логика fileshare.
// transfer.go — конвейер передачи файлов: загрузка с ретрансляцией
// в хранилище блобов, скачивание потоком, список и поиск метаданных.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/blob"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/repository"
)

// defaultContentType — MIME-тип, если его не знает ни провайдер, ни запись.
const defaultContentType = "application/octet-stream"

// Prometheus-метрики конвейера.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_uploads_total",
		Help: "Общее количество загрузок (по статусу).",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_upload_bytes_total",
		Help: "Общее количество байт, переданных в хранилище блобов.",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_upload_duration_seconds",
		Help:    "Длительность загрузки (от начала потока до записи метаданных).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	activeUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_active_uploads",
		Help: "Количество загрузок в процессе.",
	})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_downloads_total",
		Help: "Общее количество скачиваний (по статусу).",
	}, []string{"status"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_download_bytes_total",
		Help: "Общее количество байт, отданных при скачивании.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_active_downloads",
		Help: "Количество открытых потоков скачивания.",
	})

	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_search_total",
		Help: "Общее количество поисковых запросов (по статусу).",
	}, []string{"status"})
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Body — поток данных файла, nil если файл не передан
	Body io.Reader
	// OriginalFilename — имя файла клиента
	OriginalFilename string
	// ContentType — MIME-тип, заявленный клиентом (может быть пустым)
	ContentType string
	// Description — описание файла (опционально)
	Description *string
	// Owner — проверенная личность загружающего
	Owner model.Owner
}

// Download — открытый поток скачивания.
// Body обязан быть закрыт вызывающим кодом. Сбой провайдера посреди
// потока — *TransferError вида KindUpstream; после отмены ctx запроса
// возвращается исходная ошибка без обёртки.
type Download struct {
	Body        io.ReadCloser
	ContentType string
	FileName    string
	// Size — размер в байтах, -1 если неизвестен
	Size int64
}

// TransferService — конвейер передачи файлов.
type TransferService struct {
	files  repository.FileRepository
	blobs  blob.Store
	cache  *CacheService
	logger *slog.Logger
}

// NewTransferService создаёт конвейер передачи файлов.
func NewTransferService(
	files repository.FileRepository,
	blobs blob.Store,
	cache *CacheService,
	logger *slog.Logger,
) *TransferService {
	return &TransferService{
		files:  files,
		blobs:  blobs,
		cache:  cache,
		logger: logger.With(slog.String("component", "transfer_service")),
	}
}

// Upload ретранслирует поток в хранилище блобов и сохраняет метаданные.
//
// Pipeline:
//  1. Проверка входных данных (без обращения к хранилищу блобов)
//  2. Открытие приёмника записи блоба
//  3. Перекачка потока в приёмник, с обратным давлением
//  4. Завершение записи, получение ссылки на блоб
//  5. Сохранение FileRecord; при ошибке блоб остаётся сиротой
//
// Повторных попыток нет ни на одном шаге.
func (s *TransferService) Upload(ctx context.Context, p UploadParams) (*model.FileRecord, error) {
	// 1. Проверка входных данных
	if p.Body == nil {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, newError(KindInvalidInput, "Файл не передан", nil)
	}
	if p.OriginalFilename == "" {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, newError(KindInvalidInput, "Не задано имя файла", nil)
	}
	if p.Owner.OwnerID == "" {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return nil, newError(KindInvalidInput, "Не задан владелец файла", nil)
	}

	start := time.Now()
	activeUploads.Inc()
	defer activeUploads.Dec()

	// 2. Приёмник записи
	w, err := s.blobs.OpenWriter(ctx, p.OriginalFilename, p.ContentType)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.uploadAborted(ctx, p)
		}
		uploadsTotal.WithLabelValues("upstream_error").Inc()
		return nil, newError(KindUpstream, "Хранилище файлов недоступно", err)
	}

	// 3. Перекачка потока
	src := &trackingReader{r: p.Body}
	size, err := io.Copy(w, src)
	if err != nil {
		w.Abort(err)
		if src.err != nil {
			uploadsTotal.WithLabelValues("client_error").Inc()
			return nil, newError(KindInvalidInput, "Ошибка чтения загружаемого файла", src.err)
		}
		// Приёмник оборвал запись из-за отмены запроса, а не по вине провайдера
		if ctx.Err() != nil {
			return nil, s.uploadAborted(ctx, p)
		}
		uploadsTotal.WithLabelValues("upstream_error").Inc()
		return nil, newError(KindUpstream, "Ошибка записи в хранилище файлов", err)
	}

	// 4. Завершение записи
	ref, err := w.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.uploadAborted(ctx, p)
		}
		uploadsTotal.WithLabelValues("upstream_error").Inc()
		return nil, newError(KindUpstream, "Ошибка записи в хранилище файлов", err)
	}

	// 5. Метаданные. Блоб уже записан, поэтому отключение клиента
	// не должно оборвать запись метаданных.
	rec := &model.FileRecord{
		OriginalFilename: p.OriginalFilename,
		BlobReference:    ref.Reference,
		LocationHint:     ref.LocationHint,
		ContentType:      p.ContentType,
		Size:             size,
		Description:      p.Description,
		OwnerID:          p.Owner.OwnerID,
	}
	if rec.ContentType == "" {
		rec.ContentType = defaultContentType
	}

	saved, err := s.files.Create(context.WithoutCancel(ctx), rec, p.Owner)
	if err != nil {
		s.logger.Warn("Блоб записан, но метаданные не сохранены: блоб осиротел",
			slog.String("blob_reference", ref.Reference),
			slog.String("original_filename", p.OriginalFilename),
			slog.String("owner_id", p.Owner.OwnerID),
			slog.String("error", err.Error()),
		)
		uploadsTotal.WithLabelValues("metadata_error").Inc()
		return nil, newError(KindMetadataPersist, "Ошибка сохранения метаданных файла", err)
	}

	s.cache.Set(saved.FileID, saved)

	duration := time.Since(start)
	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(size))
	uploadDuration.Observe(duration.Seconds())

	s.logger.Info("Файл загружен",
		slog.String("file_id", saved.FileID),
		slog.String("original_filename", saved.OriginalFilename),
		slog.String("size", humanize.IBytes(uint64(size))),
		slog.Duration("duration", duration),
		slog.String("owner_id", saved.OwnerID),
	)
	return saved, nil
}

// uploadAborted фиксирует загрузку, прерванную клиентом до записи метаданных.
func (s *TransferService) uploadAborted(ctx context.Context, p UploadParams) error {
	uploadsTotal.WithLabelValues("aborted").Inc()
	s.logger.Debug("Загрузка прервана клиентом",
		slog.String("original_filename", p.OriginalFilename),
		slog.String("error", ctx.Err().Error()),
	)
	return newError(KindInvalidInput, "Загрузка прервана клиентом", ctx.Err())
}

// List возвращает все записи. Пустой результат — KindNotFound.
func (s *TransferService) List(ctx context.Context) ([]*model.FileRecord, error) {
	records, err := s.files.List(ctx)
	if err != nil {
		return nil, newError(KindInternal, "Хранилище метаданных недоступно", err)
	}
	if len(records) == 0 {
		return nil, newError(KindNotFound, "Файлы не найдены", nil)
	}
	return records, nil
}

// Search ищет подстроку в имени или описании. Пустой результат — KindNotFound.
func (s *TransferService) Search(ctx context.Context, query string) ([]*model.FileRecord, error) {
	if query == "" {
		searchTotal.WithLabelValues("invalid").Inc()
		return nil, newError(KindInvalidInput, "Не задан поисковый запрос", nil)
	}

	records, err := s.files.Search(ctx, query)
	if err != nil {
		searchTotal.WithLabelValues("error").Inc()
		return nil, newError(KindInternal, "Хранилище метаданных недоступно", err)
	}
	if len(records) == 0 {
		searchTotal.WithLabelValues("empty").Inc()
		return nil, newError(KindNotFound, "Файлы по запросу не найдены", nil)
	}

	searchTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Поиск выполнен",
		slog.String("query", query),
		slog.Int("results", len(records)),
	)
	return records, nil
}

// Get возвращает запись по FileID через кэш.
func (s *TransferService) Get(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if fileID == "" {
		return nil, newError(KindInvalidInput, "Не задан идентификатор файла", nil)
	}

	rec, err := s.cache.GetOrLoad(ctx, fileID, s.files.GetByID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindNotFound, "Файл не найден", err)
		}
		return nil, newError(KindInternal, "Хранилище метаданных недоступно", err)
	}
	return rec, nil
}

// Download находит запись, заново запрашивает метаданные блоба у провайдера
// и открывает поток чтения. Поток не буферизуется.
func (s *TransferService) Download(ctx context.Context, fileID string) (*Download, error) {
	rec, err := s.Get(ctx, fileID)
	if err != nil {
		downloadsTotal.WithLabelValues(statusFor(err)).Inc()
		return nil, err
	}

	info, err := s.blobs.Stat(ctx, rec.BlobReference)
	if err != nil {
		return nil, s.blobError(rec, err)
	}

	rc, err := s.blobs.OpenReader(ctx, rec.BlobReference)
	if err != nil {
		return nil, s.blobError(rec, err)
	}

	d := &Download{
		ContentType: firstNonEmpty(info.MimeType, rec.ContentType, defaultContentType),
		FileName:    firstNonEmpty(rec.OriginalFilename, info.Name),
		Size:        info.Size,
	}

	activeDownloads.Inc()
	d.Body = &downloadBody{
		ctx:    ctx,
		rc:     rc,
		fileID: rec.FileID,
		start:  time.Now(),
		logger: s.logger,
	}
	return d, nil
}

// blobError переводит ошибку хранилища блобов в ошибку конвейера.
func (s *TransferService) blobError(rec *model.FileRecord, err error) error {
	if errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("Блоб отсутствует у провайдера",
			slog.String("file_id", rec.FileID),
			slog.String("blob_reference", rec.BlobReference),
		)
		downloadsTotal.WithLabelValues("not_found").Inc()
		return newError(KindNotFound, "Файл отсутствует в хранилище", err)
	}
	downloadsTotal.WithLabelValues("upstream_error").Inc()
	return newError(KindUpstream, "Хранилище файлов недоступно", err)
}

// trackingReader запоминает ошибку чтения источника, чтобы отличить
// сбой клиента от сбоя приёмника.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

// downloadBody — поток скачивания с учётом метрик.
type downloadBody struct {
	ctx    context.Context
	rc     io.ReadCloser
	fileID string
	start  time.Time
	logger *slog.Logger

	n      int64
	eof    bool
	failed error
	once   sync.Once
}

func (b *downloadBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.n += int64(n)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		b.eof = true
		return n, err
	}
	// Отмена запроса клиентом — не сбой провайдера: ошибка возвращается
	// как есть, Close зафиксирует статус aborted
	if b.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return n, err
	}
	if b.failed == nil {
		b.failed = newError(KindUpstream, "Ошибка чтения из хранилища файлов", err)
	}
	return n, b.failed
}

// Close закрывает поток и фиксирует результат скачивания.
func (b *downloadBody) Close() error {
	err := b.rc.Close()
	b.once.Do(func() {
		activeDownloads.Dec()
		downloadBytesTotal.Add(float64(b.n))

		status := "success"
		switch {
		case b.failed != nil:
			status = "stream_error"
		case !b.eof:
			status = "aborted"
		}
		downloadsTotal.WithLabelValues(status).Inc()

		attrs := []any{
			slog.String("file_id", b.fileID),
			slog.String("bytes", humanize.IBytes(uint64(b.n))),
			slog.Duration("duration", time.Since(b.start)),
			slog.String("status", status),
		}
		if b.failed != nil {
			b.logger.Error("Скачивание прервано ошибкой хранилища",
				append(attrs, slog.String("error", b.failed.Error()))...)
			return
		}
		b.logger.Debug("Скачивание завершено", attrs...)
	})
	return err
}

// statusFor возвращает метку метрики для ошибки конвейера.
func statusFor(err error) string {
	switch KindOf(err) {
	case KindInvalidInput:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_error"
	default:
		return "error"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
