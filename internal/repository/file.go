package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
)

// fileColumns — столбцы для SELECT-запросов, владелец разрешается через owners.
const fileColumns = `f.file_id, f.original_filename, f.blob_reference, f.location_hint,
	f.content_type, f.size, f.description, f.owner_id,
	COALESCE(o.display_name, f.owner_id), f.created_at`

const fileFrom = `FROM files f LEFT JOIN owners o ON o.owner_id = f.owner_id`

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db TxDB
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db TxDB) FileRepository {
	return &fileRepo{db: db}
}

// Create в одной транзакции обновляет справочник владельцев и вставляет запись.
func (r *fileRepo) Create(ctx context.Context, rec *model.FileRecord, owner model.Owner) (*model.FileRecord, error) {
	out := *rec

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		displayName := owner.DisplayName
		if displayName == "" {
			displayName = owner.OwnerID
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO owners (owner_id, display_name, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (owner_id) DO UPDATE
			SET display_name = EXCLUDED.display_name, updated_at = now()`,
			owner.OwnerID, displayName,
		); err != nil {
			return fmt.Errorf("ошибка обновления владельца: %w", err)
		}

		var id uuid.UUID
		if err := tx.QueryRow(ctx, `
			INSERT INTO files (original_filename, blob_reference, location_hint,
				content_type, size, description, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING file_id, created_at`,
			rec.OriginalFilename, rec.BlobReference, rec.LocationHint,
			rec.ContentType, rec.Size, rec.Description, rec.OwnerID,
		).Scan(&id, &out.CreatedAt); err != nil {
			return fmt.Errorf("ошибка вставки файла: %w", err)
		}
		out.FileID = id.String()
		out.OwnerLabel = displayName
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByID возвращает файл по UUID или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	id, err := uuid.Parse(fileID)
	if err != nil {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s %s WHERE f.file_id = $1`, fileColumns, fileFrom)

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// List возвращает все файлы в порядке загрузки.
func (r *fileRepo) List(ctx context.Context) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s %s ORDER BY f.created_at, f.file_id`, fileColumns, fileFrom)
	return r.queryFiles(ctx, query)
}

// Search ищет подстроку в имени или описании без учёта регистра.
// Метасимволы LIKE в запросе экранируются.
func (r *fileRepo) Search(ctx context.Context, substring string) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s %s
		WHERE f.original_filename ILIKE $1 OR f.description ILIKE $1
		ORDER BY f.created_at, f.file_id`, fileColumns, fileFrom)
	return r.queryFiles(ctx, query, "%"+escapeLike(substring)+"%")
}

func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanFile сканирует строку в порядке fileColumns.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var id uuid.UUID
	f := &model.FileRecord{}
	if err := row.Scan(
		&id, &f.OriginalFilename, &f.BlobReference, &f.LocationHint,
		&f.ContentType, &f.Size, &f.Description, &f.OwnerID,
		&f.OwnerLabel, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	f.FileID = id.String()
	return f, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike экранирует метасимволы шаблона LIKE (escape-символ по умолчанию `\`).
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
