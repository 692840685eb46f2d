// Package db provides the durable key-value store backing TTS job state and
// the router counter, on SQLite via gorm.
package db

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// KVEntry is one durable record. Scope groups the keys of a logical object
// (a TTS job, the router counter); values are JSON-serializable strings.
type KVEntry struct {
	ID    uint   `gorm:"primaryKey"`
	Scope string `gorm:"uniqueIndex:idx_scope_key;size:191"`
	Key   string `gorm:"uniqueIndex:idx_scope_key;size:191"`
	Value string
}

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, err
	}
	return db, nil
}

// WriteRetry controls the backoff applied to durable writes.
type WriteRetry struct {
	Attempts     int
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
}

// DefaultWriteRetry matches the store contract: 200 ms initial, doubling,
// five attempts.
var DefaultWriteRetry = WriteRetry{
	Attempts:     5,
	InitialDelay: 200 * time.Millisecond,
	Factor:       2,
	MaxDelay:     5 * time.Second,
}

// Store wraps the database with per-scope serialization, write retry and an
// inactivity alarm per scope.
type Store struct {
	db    *gorm.DB
	retry WriteRetry

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	alarms map[string]*time.Timer
}

// NewStore creates a Store with the default write-retry policy.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		retry:  DefaultWriteRetry,
		locks:  make(map[string]*sync.Mutex),
		alarms: make(map[string]*time.Timer),
	}
}

// scopeLock returns the mutex serializing one logical object.
func (s *Store) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[scope]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[scope] = lock
	}
	return lock
}

// WithScope runs fn while holding the scope's lock, giving callers an atomic
// read-modify-write cycle against that scope.
func (s *Store) WithScope(scope string, fn func() error) error {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (s *Store) withRetry(op func() error) error {
	delay := s.retry.InitialDelay
	var err error
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == s.retry.Attempts-1 {
			break
		}
		log.Printf("⚠️ store write failed (attempt %d/%d): %v", attempt+1, s.retry.Attempts, err)
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * s.retry.Factor)
		if s.retry.MaxDelay > 0 && delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}
	return err
}

// Get returns the value for scope/key; the second result is false when the
// key does not exist.
func (s *Store) Get(scope, key string) (string, bool, error) {
	var entry KVEntry
	err := s.db.Where("scope = ? AND key = ?", scope, key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// Put upserts scope/key with write retry.
func (s *Store) Put(scope, key, value string) error {
	return s.withRetry(func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&KVEntry{Scope: scope, Key: key, Value: value}).Error
	})
}

// PutAll upserts several keys of one scope in a single transaction.
func (s *Store) PutAll(scope string, values map[string]string) error {
	return s.withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			for key, value := range values {
				err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "scope"}, {Name: "key"}},
					DoUpdates: clause.AssignmentColumns([]string{"value"}),
				}).Create(&KVEntry{Scope: scope, Key: key, Value: value}).Error
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Delete removes one key.
func (s *Store) Delete(scope, key string) error {
	return s.withRetry(func() error {
		return s.db.Where("scope = ? AND key = ?", scope, key).Delete(&KVEntry{}).Error
	})
}

// DeleteAll purges every key of a scope and cancels its alarm.
func (s *Store) DeleteAll(scope string) error {
	s.CancelAlarm(scope)
	return s.withRetry(func() error {
		return s.db.Where("scope = ?", scope).Delete(&KVEntry{}).Error
	})
}

// SetAlarm (re)arms the scope's inactivity timer; fn runs once when it
// fires. Every touch of a live object should re-arm its alarm.
func (s *Store) SetAlarm(scope string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.alarms[scope]; ok {
		timer.Stop()
	}
	s.alarms[scope] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.alarms, scope)
		s.mu.Unlock()
		fn()
	})
}

// CancelAlarm stops the scope's pending alarm, if any.
func (s *Store) CancelAlarm(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.alarms[scope]; ok {
		timer.Stop()
		delete(s.alarms, scope)
	}
}
