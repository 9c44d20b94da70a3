package store

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// sessionRecord is the gorm model backing persisted sessions. State is
// stored as a JSON blob rather than a normalized schema: SessionState's
// shape is owned by the session package, not by the storage layer, and a
// blob lets the two evolve independently.
type sessionRecord struct {
	ID           string `gorm:"primaryKey"`
	Agent        string
	StateJSON    []byte
	CreatedAt    time.Time
	LastActiveAt time.Time
}

func (sessionRecord) TableName() string { return "proxy_sessions" }

// GormStore is a gorm-backed SessionStore. It keeps the authoritative
// Session handles in memory (so Session's own lock semantics are
// preserved) and persists snapshots to the configured database on every
// Update, matching the "pluggable... persistent storage of sessions"
// clause — the core only depends on the SessionStore interface, not on
// gorm directly.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Session
}

// NewGormStore opens (and migrates) a gorm-backed session store. Callers
// supply an already-configured *gorm.DB (sqlite in the default config).
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, err
	}
	gs := &GormStore{db: db, logger: logger, cache: make(map[string]*Session)}
	if err := gs.loadAll(); err != nil {
		return nil, err
	}
	return gs, nil
}

var _ SessionStore = (*GormStore)(nil)

func (g *GormStore) loadAll() error {
	var records []sessionRecord
	if err := g.db.Find(&records).Error; err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range records {
		st := session.Default()
		if len(r.StateJSON) > 0 {
			if err := json.Unmarshal(r.StateJSON, st); err != nil {
				g.logger.Warn("failed to decode persisted session state, using defaults",
					zap.String("session_id", r.ID), zap.Error(err))
				st = session.Default()
			}
		}
		s := &Session{ID: r.ID, Agent: r.Agent, CreatedAt: r.CreatedAt, LastActiveAt: r.LastActiveAt}
		s.SetState(st)
		g.cache[r.ID] = s
	}
	return nil
}

func (g *GormStore) Get(id string) *Session {
	g.mu.RLock()
	s, ok := g.cache[id]
	g.mu.RUnlock()
	if ok {
		return s
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.cache[id]; ok {
		return s
	}
	s = NewSession(id)
	g.cache[id] = s
	return s
}

func (g *GormStore) Update(s *Session) {
	g.mu.Lock()
	g.cache[s.ID] = s
	g.mu.Unlock()

	data, err := json.Marshal(s.State())
	if err != nil {
		g.logger.Error("failed to encode session state for persistence",
			zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	record := sessionRecord{
		ID:           s.ID,
		Agent:        s.GetAgent(),
		StateJSON:    data,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
	if err := g.db.Save(&record).Error; err != nil {
		g.logger.Error("failed to persist session", zap.String("session_id", s.ID), zap.Error(err))
	}
}

func (g *GormStore) Delete(id string) bool {
	g.mu.Lock()
	_, existed := g.cache[id]
	delete(g.cache, id)
	g.mu.Unlock()

	if err := g.db.Delete(&sessionRecord{}, "id = ?", id).Error; err != nil {
		g.logger.Error("failed to delete persisted session", zap.String("session_id", id), zap.Error(err))
	}
	return existed
}

func (g *GormStore) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}
