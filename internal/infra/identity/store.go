// Package identity хранит идентичность устройства в bbolt-файле: короткое
// отображаемое имя (userId) и постоянный идентификатор экземпляра (instanceId).
// Имя читается один раз при старте и в течение запуска не меняется; SetUserID
// пишет новое значение, которое вступит в силу после перезапуска.
package identity

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"presence-bell/internal/infra/storage"
)

// DefaultUserID — имя устройства, пока его не задали.
const DefaultUserID = "Guest"

const (
	bucketName    = "app-config"
	keyUserID     = "userId"
	keyInstanceID = "instanceId"
	dbOpenTimeout = time.Second
)

var (
	bucketBytes     = []byte(bucketName)
	userIDBytes     = []byte(keyUserID)
	instanceIDBytes = []byte(keyInstanceID)
)

// Identity — снимок идентичности на момент загрузки.
type Identity struct {
	UserID     string
	InstanceID string
}

// Store — bbolt-хранилище идентичности.
type Store struct {
	db *bbolt.DB
}

// Open открывает (или создаёт) файл хранилища. Каталог создаётся при необходимости.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("identity: db path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "identity: ensure dir")
	}
	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "identity: open db")
	}
	return &Store{db: db}, nil
}

// Close закрывает файл базы данных.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load читает идентичность. Отсутствующий instanceId генерируется и сохраняется,
// пустой userId заменяется на DefaultUserID (без записи).
func (s *Store) Load() (Identity, error) {
	var id Identity
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketBytes)
		if err != nil {
			return err
		}
		id.UserID = strings.TrimSpace(string(bucket.Get(userIDBytes)))
		id.InstanceID = string(bucket.Get(instanceIDBytes))
		if id.InstanceID == "" {
			id.InstanceID = uuid.NewString()
			return bucket.Put(instanceIDBytes, []byte(id.InstanceID))
		}
		return nil
	})
	if err != nil {
		return Identity{}, errors.Wrap(err, "identity: load")
	}
	if id.UserID == "" {
		id.UserID = DefaultUserID
	}
	return id, nil
}

// SetUserID сохраняет новое имя устройства.
func (s *Store) SetUserID(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("identity: empty user id")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketBytes)
		if err != nil {
			return err
		}
		return bucket.Put(userIDBytes, []byte(name))
	})
	return errors.Wrap(err, "identity: save user id")
}
