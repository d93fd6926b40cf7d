// Пакет model — доменные модели fileshare.
package model

import "time"

// FileRecord — метаданные загруженного файла, указывающие на блоб.
// После создания запись не изменяется.
type FileRecord struct {
	// FileID — UUID записи, назначается хранилищем метаданных
	FileID string
	// OriginalFilename — имя файла, переданное клиентом, без изменений
	OriginalFilename string
	// BlobReference — ссылка на блоб в хранилище блобов
	BlobReference string
	// LocationHint — ссылка для просмотра у провайдера, только информативно
	LocationHint string
	// ContentType — MIME-тип, заявленный при загрузке
	ContentType string
	// Size — число переданных байт
	Size int64
	// Description — описание файла (опционально)
	Description *string
	// OwnerID — идентификатор загрузившего (sub из JWT)
	OwnerID string
	// OwnerLabel — отображаемое имя владельца, заполняется при чтении
	OwnerLabel string
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// Owner — запись справочника владельцев.
type Owner struct {
	// OwnerID — sub из JWT
	OwnerID string
	// DisplayName — preferred_username из JWT
	DisplayName string
}

// Label возвращает отображаемое имя владельца, а при его отсутствии OwnerID.
func (f *FileRecord) Label() string {
	if f.OwnerLabel != "" {
		return f.OwnerLabel
	}
	return f.OwnerID
}
