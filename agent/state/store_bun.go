package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:conversation_sessions"`

	SessionID string    `bun:"session_id,pk"`
	Version   int64     `bun:"version,notnull"`
	Payload   string    `bun:"payload,notnull,type:text"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunStore persists ConversationState as a versioned JSON blob in a SQL table.
// Works with the Postgres and SQLite bun dialects.
type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *bun.DB) (*BunStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &BunStore{db: db}, nil
}

// Migrate creates the sessions table if it does not exist.
func (s *BunStore) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create conversation_sessions: %w", err)
	}
	return nil
}

func (s *BunStore) Load(ctx context.Context, sessionID string) (*ConversationState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSession
	}

	var row sessionRow
	err := s.db.NewSelect().
		Model(&row).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session %s: %w", sessionID, err)
	}

	st, err := decodeState([]byte(row.Payload))
	if err != nil {
		return nil, err
	}
	st.Version = row.Version
	return st, nil
}

func (s *BunStore) Save(ctx context.Context, st *ConversationState) error {
	if err := prepareSave(st); err != nil {
		return err
	}
	payload, err := encodeNextVersion(st)
	if err != nil {
		return err
	}

	row := &sessionRow{
		SessionID: st.SessionID,
		Version:   st.Version + 1,
		Payload:   string(payload),
		UpdatedAt: st.UpdatedAt,
	}

	var res sql.Result
	if st.Version == 0 {
		res, err = s.db.NewInsert().
			Model(row).
			On("CONFLICT (session_id) DO NOTHING").
			Exec(ctx)
	} else {
		res, err = s.db.NewUpdate().
			Model(row).
			Column("version", "payload", "updated_at").
			Where("session_id = ?", st.SessionID).
			Where("version = ?", st.Version).
			Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("write session %s: %w", st.SessionID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for session %s: %w", st.SessionID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: session=%s expected_version=%d", ErrStateConflict, st.SessionID, st.Version)
	}

	st.Version = row.Version
	return nil
}

func (s *BunStore) Delete(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	if _, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
