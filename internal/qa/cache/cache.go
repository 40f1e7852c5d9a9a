// Package cache memoises QA model answers in a badger database so repeated
// questions over the same documents do not hit the model again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"curioqueries/internal/domain"
)

const keyPrefix = "qa:"

// Store is a badger-backed answer store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the cache database at path. An empty path opens an
// in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached spans for key. ok is false on a miss.
func (s *Store) Get(key string) (spans []domain.Span, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &spans)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return spans, ok, nil
}

// Put stores spans under key. A zero ttl keeps the entry forever.
func (s *Store) Put(key string, spans []domain.Span, ttl time.Duration) error {
	if spans == nil {
		spans = []domain.Span{}
	}
	val, err := json.Marshal(spans)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), val)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Model wraps a QA model and serves repeated requests from the store.
type Model struct {
	inner  domain.QAModel
	store  *Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewModel(inner domain.QAModel, store *Store, ttl time.Duration, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		inner:  inner,
		store:  store,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "qa-cache")),
	}
}

func (m *Model) Name() string { return m.inner.Name() }

// Answer returns cached spans when present. Cache failures are logged and the
// request goes to the wrapped model.
func (m *Model) Answer(ctx context.Context, question, passage string, topK int) ([]domain.Span, error) {
	key := Key(m.inner.Name(), question, passage, topK)
	spans, ok, err := m.store.Get(key)
	if err != nil {
		m.logger.Warn("cache read failed", zap.Error(err))
	} else if ok {
		m.logger.Debug("cache hit", zap.String("key", key))
		return spans, nil
	}

	spans, err = m.inner.Answer(ctx, question, passage, topK)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(key, spans, m.ttl); err != nil {
		m.logger.Warn("cache write failed", zap.Error(err))
	}
	return spans, nil
}

// Key derives a stable cache key from everything that influences the answer.
func Key(model, question, passage string, topK int) string {
	h := sha256.New()
	for _, part := range []string{model, question, passage} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(topK))
	h.Write(k[:])
	return hex.EncodeToString(h.Sum(nil))
}
