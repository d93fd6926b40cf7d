// Пакет blob — контракт хранилища блобов, через которое
// ретранслируются байты загрузок и скачиваний.
// Реализации: gdrive (Google Drive API) и localfs (локальный диск).
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound — блоб с указанной ссылкой отсутствует у провайдера.
var ErrNotFound = errors.New("блоб не найден")

// Ref — результат успешной записи блоба.
type Ref struct {
	// Reference — стабильная ссылка на блоб
	Reference string
	// LocationHint — ссылка для просмотра, только информативно
	LocationHint string
}

// Info — актуальные метаданные блоба у провайдера.
type Info struct {
	// Name — имя блоба у провайдера
	Name string
	// MimeType — MIME-тип, может быть пустым
	MimeType string
	// Size — размер в байтах, -1 если неизвестен
	Size int64
}

// Writer — приёмник записи блоба.
// Байты пишутся через Write, ссылка возвращается только после Close.
// Abort прерывает запись: Close после Abort не вызывается.
type Writer interface {
	io.Writer
	// Close завершает запись и возвращает ссылку на блоб.
	Close() (*Ref, error)
	// Abort прерывает запись с указанной причиной и освобождает ресурсы.
	Abort(cause error)
}

// Store — хранилище блобов.
type Store interface {
	// OpenWriter открывает приёмник записи для блоба с именем и MIME-типом.
	// Отмена ctx прерывает запись.
	OpenWriter(ctx context.Context, name, mimeType string) (Writer, error)
	// Stat возвращает актуальные метаданные блоба или ErrNotFound.
	Stat(ctx context.Context, ref string) (*Info, error)
	// OpenReader открывает поток чтения блоба или возвращает ErrNotFound.
	// Вызывающий код обязан закрыть поток.
	OpenReader(ctx context.Context, ref string) (io.ReadCloser, error)
}
