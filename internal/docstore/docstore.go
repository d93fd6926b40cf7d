// Пакет docstore — хранилище метаданных файлов в MongoDB (juju/mgo).
// Реализует repository.FileRepository. Имена полей документов
// совместимы с коллекциями files/users исходной схемы.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/repository"
)

const (
	filesCollection = "files"
	usersCollection = "users"
)

// fileDoc — документ коллекции files.
type fileDoc struct {
	ID               string    `bson:"_id"`
	OriginalFilename string    `bson:"originalFilename"`
	Filename         string    `bson:"filename"`
	Filepath         string    `bson:"filepath"`
	ContentType      string    `bson:"contentType"`
	Size             int64     `bson:"size"`
	Description      *string   `bson:"description,omitempty"`
	UploadedBy       string    `bson:"uploadedBy"`
	UploadDate       time.Time `bson:"uploadDate"`
}

// userDoc — документ коллекции users.
type userDoc struct {
	ID       string    `bson:"_id"`
	Username string    `bson:"username"`
	Updated  time.Time `bson:"updatedAt"`
}

// Store — хранилище метаданных поверх MongoDB.
type Store struct {
	session *mgo.Session
	dbName  string
	logger  *slog.Logger
}

// Dial подключается к MongoDB и создаёт индексы.
func Dial(url, dbName string, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	session, err := mgo.DialWithTimeout(url, timeout)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}
	session.SetSocketTimeout(timeout)
	session.SetMode(mgo.Primary, true)

	s := &Store{
		session: session,
		dbName:  dbName,
		logger:  logger.With(slog.String("component", "docstore")),
	}

	if err := s.ensureIndexes(); err != nil {
		session.Close()
		return nil, err
	}

	s.logger.Info("Подключение к MongoDB установлено",
		slog.String("database", dbName),
	)
	return s, nil
}

func (s *Store) ensureIndexes() error {
	sess := s.session.Copy()
	defer sess.Close()

	if err := sess.DB(s.dbName).C(filesCollection).EnsureIndex(mgo.Index{
		Key: []string{"uploadDate", "_id"},
	}); err != nil {
		return fmt.Errorf("ошибка создания индекса files: %w", err)
	}
	return nil
}

// Close закрывает сессию MongoDB.
func (s *Store) Close() {
	s.session.Close()
}

// CheckReady проверяет доступность MongoDB для readiness probe.
func (s *Store) CheckReady() (status, message string) {
	sess := s.session.Copy()
	defer sess.Close()

	if err := sess.Ping(); err != nil {
		return "fail", fmt.Sprintf("MongoDB недоступна: %v", err)
	}
	return "ok", "подключение активно"
}

// Create обновляет пользователя и вставляет документ файла.
// Транзакции не используются: лишний upsert пользователя безвреден.
func (s *Store) Create(ctx context.Context, rec *model.FileRecord, owner model.Owner) (*model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := s.session.Copy()
	defer sess.Close()
	db := sess.DB(s.dbName)

	displayName := owner.DisplayName
	if displayName == "" {
		displayName = owner.OwnerID
	}
	if _, err := db.C(usersCollection).UpsertId(owner.OwnerID, bson.M{
		"$set": bson.M{"username": displayName, "updatedAt": time.Now().UTC()},
	}); err != nil {
		return nil, fmt.Errorf("ошибка обновления владельца: %w", err)
	}

	doc := fileDoc{
		ID:               uuid.NewString(),
		OriginalFilename: rec.OriginalFilename,
		Filename:         rec.BlobReference,
		Filepath:         rec.LocationHint,
		ContentType:      rec.ContentType,
		Size:             rec.Size,
		Description:      rec.Description,
		UploadedBy:       rec.OwnerID,
		// Mongo хранит время с точностью до миллисекунд
		UploadDate: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := db.C(filesCollection).Insert(doc); err != nil {
		return nil, fmt.Errorf("ошибка вставки файла: %w", err)
	}

	out := doc.toModel()
	out.OwnerLabel = displayName
	return out, nil
}

// GetByID возвращает документ по _id или repository.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := s.session.Copy()
	defer sess.Close()

	var doc fileDoc
	if err := sess.DB(s.dbName).C(filesCollection).FindId(fileID).One(&doc); err != nil {
		if errors.Is(err, mgo.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}

	records, err := s.withLabels(sess, []fileDoc{doc})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// List возвращает все документы в порядке загрузки.
func (s *Store) List(ctx context.Context) ([]*model.FileRecord, error) {
	return s.find(ctx, bson.M{})
}

// Search ищет подстроку в originalFilename или description без учёта регистра.
func (s *Store) Search(ctx context.Context, substring string) ([]*model.FileRecord, error) {
	re := bson.RegEx{Pattern: regexp.QuoteMeta(substring), Options: "i"}
	return s.find(ctx, bson.M{"$or": []bson.M{
		{"originalFilename": re},
		{"description": re},
	}})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]*model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := s.session.Copy()
	defer sess.Close()

	var docs []fileDoc
	if err := sess.DB(s.dbName).C(filesCollection).Find(filter).Sort("uploadDate", "_id").All(&docs); err != nil {
		return nil, fmt.Errorf("ошибка запроса файлов: %w", err)
	}
	return s.withLabels(sess, docs)
}

// withLabels разрешает uploadedBy в username одним запросом к users.
func (s *Store) withLabels(sess *mgo.Session, docs []fileDoc) ([]*model.FileRecord, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if !seen[d.UploadedBy] {
			seen[d.UploadedBy] = true
			ids = append(ids, d.UploadedBy)
		}
	}

	var users []userDoc
	if err := sess.DB(s.dbName).C(usersCollection).Find(bson.M{"_id": bson.M{"$in": ids}}).All(&users); err != nil {
		return nil, fmt.Errorf("ошибка получения владельцев: %w", err)
	}
	labels := make(map[string]string, len(users))
	for _, u := range users {
		labels[u.ID] = u.Username
	}

	out := make([]*model.FileRecord, 0, len(docs))
	for _, d := range docs {
		rec := d.toModel()
		rec.OwnerLabel = labels[d.UploadedBy]
		out = append(out, rec)
	}
	return out, nil
}

func (d fileDoc) toModel() *model.FileRecord {
	return &model.FileRecord{
		FileID:           d.ID,
		OriginalFilename: d.OriginalFilename,
		BlobReference:    d.Filename,
		LocationHint:     d.Filepath,
		ContentType:      d.ContentType,
		Size:             d.Size,
		Description:      d.Description,
		OwnerID:          d.UploadedBy,
		CreatedAt:        d.UploadDate,
	}
}

var _ repository.FileRepository = (*Store)(nil)
