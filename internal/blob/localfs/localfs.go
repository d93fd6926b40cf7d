// Пакет localfs — хранилище блобов на локальном диске.
// Запись: temp файл → fsync → atomic rename, рядом с блобом
// атомарно пишется сопутствующий *.attr.json с именем и MIME-типом.
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/blob"
)

// attrSuffix — суффикс файла метаданных блоба.
const attrSuffix = ".attr.json"

// maxAttrFileSize — ограничение размера attr.json.
const maxAttrFileSize = 4096

// attrs — содержимое attr.json.
type attrs struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Store — блобы в каталоге dataDir.
type Store struct {
	dataDir string
}

// New создаёт хранилище, при необходимости создавая каталог.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// OpenWriter создаёт временный файл для нового блоба.
// Ссылка — UUID, имя файла клиента на диске не используется.
func (s *Store) OpenWriter(ctx context.Context, name, mimeType string) (blob.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref := uuid.NewString()
	fullPath := filepath.Join(s.dataDir, ref)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	return &writer{
		ctx:      ctx,
		f:        f,
		ref:      ref,
		fullPath: fullPath,
		tmpPath:  tmpPath,
		meta:     attrs{Name: name, MimeType: mimeType},
	}, nil
}

// Stat читает attr.json блоба.
func (s *Store) Stat(ctx context.Context, ref string) (*blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path + attrSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения attr.json %s: %w", ref, err)
	}

	var a attrs
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("ошибка десериализации attr.json %s: %w", ref, err)
	}
	return &blob.Info{Name: a.Name, MimeType: a.MimeType, Size: a.Size}, nil
}

// OpenReader открывает файл блоба для чтения.
func (s *Store) OpenReader(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия блоба %s: %w", ref, err)
	}
	return &ctxReader{ctx: ctx, f: f}, nil
}

// CheckReady проверяет, что каталог данных доступен на запись.
func (s *Store) CheckReady() (status, message string) {
	f, err := os.CreateTemp(s.dataDir, ".ready-*")
	if err != nil {
		return "fail", fmt.Sprintf("каталог %s недоступен на запись: %v", s.dataDir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return "ok", "каталог доступен"
}

// path проверяет ссылку и возвращает путь блоба.
// Ссылки выдаются только в виде UUID, остальные считаются несуществующими.
func (s *Store) path(ref string) (string, error) {
	id, err := uuid.Parse(ref)
	if err != nil || id.String() != ref {
		return "", blob.ErrNotFound
	}
	return filepath.Join(s.dataDir, ref), nil
}

// writer — приёмник записи в временный файл.
type writer struct {
	ctx      context.Context
	f        *os.File
	ref      string
	fullPath string
	tmpPath  string
	meta     attrs

	once sync.Once
	done bool
}

func (w *writer) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := w.f.Write(p)
	w.meta.Size += int64(n)
	return n, err
}

// Close: fsync → attr.json → rename. Блоб становится видимым последним.
// При ошибке временный файл удаляется.
func (w *writer) Close() (*blob.Ref, error) {
	if w.done {
		return nil, errors.New("приёмник уже закрыт")
	}
	w.done = true

	if err := w.ctx.Err(); err != nil {
		w.cleanup()
		return nil, err
	}

	if err := w.f.Sync(); err != nil {
		w.cleanup()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := writeAttrs(w.fullPath+attrSuffix, &w.meta); err != nil {
		os.Remove(w.tmpPath)
		return nil, err
	}

	if err := os.Rename(w.tmpPath, w.fullPath); err != nil {
		os.Remove(w.tmpPath)
		os.Remove(w.fullPath + attrSuffix)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &blob.Ref{Reference: w.ref, LocationHint: "file://" + w.fullPath}, nil
}

func (w *writer) Abort(error) {
	w.done = true
	w.cleanup()
}

func (w *writer) cleanup() {
	w.once.Do(func() {
		w.f.Close()
		os.Remove(w.tmpPath)
	})
}

// writeAttrs атомарно записывает attr.json: temp → fsync → rename.
func writeAttrs(path string, a *attrs) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if len(data) > maxAttrFileSize {
		return fmt.Errorf("размер attr.json (%d байт) превышает максимум (%d байт)", len(data), maxAttrFileSize)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// ctxReader прекращает чтение после отмены контекста запроса.
type ctxReader struct {
	ctx context.Context
	f   *os.File
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.f.Read(p)
}

func (r *ctxReader) Close() error {
	return r.f.Close()
}

var _ blob.Store = (*Store)(nil)
