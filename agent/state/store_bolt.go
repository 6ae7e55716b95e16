package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("conversation_sessions")

// BoltStore keeps sessions in a single local BoltDB file. Used by the CLI when no
// remote store is configured.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("bolt store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt store dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if v == nil {
			return ErrStateNotFound
		}
		// v is only valid inside the transaction.
		payload = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeState(payload)
}

func (s *BoltStore) Save(ctx context.Context, st *ConversationState) error {
	if err := prepareSave(st); err != nil {
		return err
	}
	payload, err := encodeNextVersion(st)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stored int64
		if cur := b.Get([]byte(st.SessionID)); cur != nil {
			prev, err := decodeState(cur)
			if err != nil {
				return err
			}
			stored = prev.Version
		}
		if stored != st.Version {
			return fmt.Errorf("%w: session=%s stored_version=%d expected_version=%d",
				ErrStateConflict, st.SessionID, stored, st.Version)
		}
		return b.Put([]byte(st.SessionID), payload)
	})
	if err != nil {
		return err
	}

	st.Version++
	return nil
}

func (s *BoltStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(sessionID))
	})
}
