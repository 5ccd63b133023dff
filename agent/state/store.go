package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
)

// Store is the persistence contract the Session Orchestrator uses to make
// a SessionState survive a reconnect. AgentState itself is never
// persisted — it lives and dies with one run.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

// sessionRow is the bun model backing the queryflow_sessions table. The
// conversation log and carried context are stored as a single JSONB blob
// rather than normalized, since they are read and written as a unit and
// never queried by field.
type sessionRow struct {
	bun.BaseModel `bun:"table:queryflow_sessions,alias:s"`

	SessionID   string    `bun:"session_id,pk"`
	WorkspaceID string    `bun:"workspace_id,notnull"`
	ChannelType string    `bun:"channel_type,notnull"`
	Payload     string    `bun:"payload,notnull"`
	Version     int       `bun:"version,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// BunStoreConfig configures the Postgres connection backing BunStore.
type BunStoreConfig struct {
	DSN             string        `envconfig:"DSN" required:"true"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" split_words:"true" default:"30m"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"10"`
}

// BunStore persists SessionState in Postgres via uptrace/bun.
type BunStore struct {
	db *bun.DB
}

// NewBunStore opens a pgdriver connection and wraps it in a bun.DB. It does
// not create the backing table; migrations are an operational concern
// outside this package.
func NewBunStore(cfg BunStoreConfig) (*BunStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}, nil
}

// NewBunStoreFromDB wraps an already-configured bun.DB, used by callers
// that want to share a connection pool with the toolkit SQL tool adapter.
func NewBunStoreFromDB(db *bun.DB) (*BunStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &BunStore{db: db}, nil
}

func (s *BunStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrInvalidSession
	}

	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("session_id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var st SessionState
	if err := json.Unmarshal([]byte(row.Payload), &st); err != nil {
		return nil, fmt.Errorf("unmarshal session payload: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return &st, nil
}

func (s *BunStore) Save(ctx context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	id := strings.TrimSpace(st.SessionID)
	if id == "" {
		return ErrInvalidSession
	}
	if st.Version <= 0 {
		st.Version = 1
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	row := &sessionRow{
		SessionID:   id,
		WorkspaceID: st.WorkspaceID,
		ChannelType: st.ChannelType,
		Payload:     string(payload),
		Version:     st.Version,
		UpdatedAt:   st.UpdatedAt,
	}

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (session_id) DO UPDATE").
		Set("workspace_id = EXCLUDED.workspace_id").
		Set("channel_type = EXCLUDED.channel_type").
		Set("payload = EXCLUDED.payload").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *BunStore) Delete(ctx context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrInvalidSession
	}
	_, err := s.db.NewDelete().Model((*sessionRow)(nil)).Where("session_id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InMemoryStore is a process-local Store used by tests and by the
// single-instance deployment mode. It exercises the same interface the
// transport and tests depend on. One InMemoryStore is shared across every
// connected session, and sessions run concurrently (spec.md §5), so every
// access to sessions is guarded by mu.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*SessionState)}
}

func (m *InMemoryStore) Load(_ context.Context, sessionID string) (*SessionState, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *InMemoryStore) Save(_ context.Context, st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return ErrInvalidSession
	}
	cp := *st
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[st.SessionID] = &cp
	return nil
}

func (m *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
