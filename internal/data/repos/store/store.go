package store

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// ErrDuplicate is returned by Insert when a record with the same key already exists.
var ErrDuplicate = errors.New("duplicate record")

type DeleteMode string

const (
	DeleteHard DeleteMode = "hard"
	DeleteSoft DeleteMode = "soft"
)

func (m DeleteMode) Valid() bool { return m == DeleteHard || m == DeleteSoft }

// batchSize bounds the IN list of a single statement.
const batchSize = 500

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ValidField(field string) bool { return fieldPattern.MatchString(field) }

// GenericStore is the persistence primitive shared by materialization and cascade deletion.
type GenericStore interface {
	Insert(dbc dbctx.Context, record interface{}) error
	FindIDs(dbc dbctx.Context, collection, field string, values []uuid.UUID) ([]uuid.UUID, error)
	DeleteMany(dbc dbctx.Context, collection string, ids []uuid.UUID, mode DeleteMode) (int64, error)
	Collections() []string
}

type tableNamer interface{ TableName() string }

type genericStore struct {
	db     *gorm.DB
	log    *logger.Logger
	models map[string]reflect.Type
	names  []string
}

func NewGenericStore(db *gorm.DB, baseLog *logger.Logger, models ...interface{}) GenericStore {
	s := &genericStore{
		db:     db,
		log:    baseLog.With("repo", "GenericStore"),
		models: map[string]reflect.Type{},
	}
	for _, m := range models {
		tn, ok := m.(tableNamer)
		if !ok {
			continue
		}
		t := reflect.TypeOf(m)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		s.models[tn.TableName()] = t
		s.names = append(s.names, tn.TableName())
	}
	return s
}

func (s *genericStore) Collections() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s *genericStore) model(collection string) (interface{}, error) {
	t, ok := s.models[collection]
	if !ok {
		return nil, errs.Invalid("unknown collection %q", collection)
	}
	return reflect.New(t).Interface(), nil
}

func (s *genericStore) Insert(dbc dbctx.Context, record interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	if record == nil {
		return errs.Invalid("nil record")
	}
	// nested so a duplicate inside a caller transaction rolls back to a savepoint
	err := transaction.WithContext(dbc.Context()).Transaction(func(txx *gorm.DB) error {
		return txx.Create(record).Error
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *genericStore) FindIDs(dbc dbctx.Context, collection, field string, values []uuid.UUID) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	if len(values) == 0 {
		return []uuid.UUID{}, nil
	}
	if !ValidField(field) {
		return nil, errs.Invalid("bad reference field %q", field)
	}
	proto, err := s.model(collection)
	if err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]bool{}
	out := []uuid.UUID{}
	for _, chunk := range Chunk(values, batchSize) {
		var ids []uuid.UUID
		if err := transaction.WithContext(dbc.Context()).
			Model(proto).
			Where(fmt.Sprintf("%s IN ?", field), chunk).
			Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("find %s by %s: %w", collection, field, err)
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// DeleteMany removes ids in batches. Without a caller transaction the batches
// run in one transaction of their own, so a step is applied whole or not at all.
func (s *genericStore) DeleteMany(dbc dbctx.Context, collection string, ids []uuid.UUID, mode DeleteMode) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !mode.Valid() {
		return 0, errs.Invalid("bad delete mode %q", mode)
	}
	if _, err := s.model(collection); err != nil {
		return 0, err
	}
	if dbc.Tx != nil {
		return s.deleteBatches(dbc.Tx.WithContext(dbc.Context()), collection, ids, mode)
	}
	var total int64
	err := s.db.WithContext(dbc.Context()).Transaction(func(txx *gorm.DB) error {
		n, err := s.deleteBatches(txx, collection, ids, mode)
		total = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *genericStore) deleteBatches(txx *gorm.DB, collection string, ids []uuid.UUID, mode DeleteMode) (int64, error) {
	var total int64
	for _, chunk := range Chunk(ids, batchSize) {
		proto, err := s.model(collection)
		if err != nil {
			return total, err
		}
		q := txx
		if mode == DeleteHard {
			q = q.Unscoped()
		}
		res := q.Where("id IN ?", chunk).Delete(proto)
		if res.Error != nil {
			return total, fmt.Errorf("delete %s: %w", collection, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// IsUniqueViolation recognizes unique-key violations from postgres and sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func Chunk(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size <= 0 {
		size = batchSize
	}
	out := [][]uuid.UUID{}
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
