// errors.go — ошибки конвейера передачи файлов.
package service

import (
	"errors"
	"fmt"
)

// Kind — стабильный вид ошибки, по которому вызывающий код выбирает ответ.
type Kind string

const (
	// KindInvalidInput — не задано обязательное поле или запрос.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindNotFound — запись или блоб отсутствует, либо выборка пуста.
	KindNotFound Kind = "NOT_FOUND"
	// KindUpstream — ошибка хранилища блобов, в том числе посреди потока.
	KindUpstream Kind = "UPSTREAM_STORAGE_ERROR"
	// KindMetadataPersist — блоб записан, но запись метаданных не удалась.
	KindMetadataPersist Kind = "METADATA_PERSIST_ERROR"
	// KindInternal — хранилище метаданных недоступно при чтении.
	KindInternal Kind = "INTERNAL_ERROR"
)

// TransferError — ошибка операции конвейера.
type TransferError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// KindOf возвращает вид ошибки конвейера или KindInternal для прочих ошибок.
func KindOf(err error) Kind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// MessageOf возвращает сообщение для клиента без деталей внутренних ошибок.
func MessageOf(err error) string {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Message
	}
	return "Внутренняя ошибка"
}

func newError(kind Kind, msg string, err error) *TransferError {
	return &TransferError{Kind: kind, Message: msg, Err: err}
}
