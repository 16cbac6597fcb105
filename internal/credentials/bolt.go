package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
	"golang.org/x/oauth2"
)

var sessionsBucket = []byte("sessions")

// BoltStore persists the token of one profile in a BBolt database.
type BoltStore struct {
	db   *bbolt.DB
	name string
	own  bool
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore returns a store for the named profile backed by an open database.
// The caller keeps ownership of db.
func NewBoltStore(db *bbolt.DB, name string) *BoltStore {
	if name == "" {
		name = DefaultProfile
	}
	return &BoltStore{db: db, name: name}
}

// NewBoltStoreFromFile opens a BBolt database at path and returns a store that owns it.
func NewBoltStoreFromFile(path, name string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s := NewBoltStore(db, name)
	s.own = true
	return s, nil
}

// Close closes the database if the store opened it.
func (s *BoltStore) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context) (*oauth2.Token, error) {
	var tok oauth2.Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return ErrNoToken
		}
		data := b.Get([]byte(s.name))
		if data == nil {
			return ErrNoToken
		}
		return json.Unmarshal(data, &tok)
	})
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	return clone(&tok), nil
}

func (s *BoltStore) Set(ctx context.Context, tok *oauth2.Token) error {
	if err := validate(tok); err != nil {
		return err
	}

	data, err := json.Marshal(clone(tok))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(s.name), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	log.Debug().
		Str("profile", s.name).
		Str("fingerprint", Fingerprint(tok.AccessToken)).
		Msg("token stored")

	return nil
}

func (s *BoltStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(s.name))
	})
}
