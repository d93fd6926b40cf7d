// Пакет repository — слой доступа к метаданным файлов.
// Основная реализация — чистый SQL через pgx, без ORM.
// Пакет docstore реализует тот же контракт поверх MongoDB.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB — DBTX, умеющий открывать транзакции.
type TxDB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// FileRepository — контракт хранилища метаданных файлов.
type FileRepository interface {
	// Create сохраняет запись и обновляет справочник владельцев.
	// Возвращает запись с назначенными FileID и CreatedAt.
	Create(ctx context.Context, rec *model.FileRecord, owner model.Owner) (*model.FileRecord, error)
	// GetByID возвращает запись по UUID или ErrNotFound.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
	// List возвращает все записи в порядке создания.
	List(ctx context.Context) ([]*model.FileRecord, error)
	// Search возвращает записи, у которых имя или описание содержит
	// подстроку без учёта регистра, в порядке создания.
	Search(ctx context.Context, substring string) ([]*model.FileRecord, error)
}
