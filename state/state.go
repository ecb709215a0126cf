package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"dualstake/core/events"
	"dualstake/core/types"
	"dualstake/storage"
)

var (
	// ErrReadOnly is returned when a mutation is attempted inside View.
	ErrReadOnly = errors.New("state: transaction is read-only")
)

// Manager serialises access to the protocol state. Every public protocol
// operation runs inside exactly one Update or View call; the global mutex plus
// the buffered write overlay give each operation the all-or-nothing semantics
// the engines rely on for their check-then-mutate logic.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
}

// NewManager constructs a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the emitter that receives events buffered during a
// successful Update. Passing nil resets to a no-op emitter.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// Update runs fn against a writable transaction. Writes are buffered in an
// overlay and only flushed to the database when fn returns nil; any error
// discards the overlay and its buffered events entirely.
func (m *Manager) Update(fn func(*State) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	txn := &State{db: m.db, writes: make(map[string][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.writes) > 0 {
		// A single batch write keeps the flush all-or-nothing even when the
		// backend fails mid-commit.
		if err := m.db.WriteBatch(txn.writes); err != nil {
			return fmt.Errorf("state: commit: %w", err)
		}
	}
	for _, evt := range txn.events {
		m.emitter.Emit(evt)
	}
	return nil
}

// View runs fn against a read-only transaction.
func (m *Manager) View(fn func(*State) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&State{db: m.db, readOnly: true})
}

// State is a single-operation view over the database plus an uncommitted write
// overlay. It implements the narrow state interfaces the native engines
// declare for themselves.
type State struct {
	db       storage.Database
	writes   map[string][]byte
	events   []*types.Event
	readOnly bool
}

// KVGet loads and RLP-decodes the value stored under key into out, reporting
// whether the key existed.
func (s *State) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok, err := s.rawGet(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut RLP-encodes value and stages it under key.
func (s *State) KVPut(key []byte, value interface{}) error {
	if s.readOnly {
		return ErrReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	s.writes[string(key)] = encoded
	return nil
}

// KVAppend appends a raw element to the byte-slice list stored under key,
// creating the list when absent.
func (s *State) KVAppend(key []byte, value []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	list, err := s.KVList(key)
	if err != nil {
		return err
	}
	list = append(list, append([]byte(nil), value...))
	return s.KVPut(key, list)
}

// KVList loads the byte-slice list stored under key. A missing key yields an
// empty list.
func (s *State) KVList(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := s.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *State) rawGet(key []byte) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("state: not configured")
	}
	if !s.readOnly {
		if staged, ok := s.writes[string(key)]; ok {
			return staged, true, nil
		}
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	return raw, true, nil
}

// AppendEvent buffers an event for emission after a successful commit. Events
// appended inside a failed or read-only transaction are never delivered.
func (s *State) AppendEvent(evt *types.Event) {
	if s == nil || s.readOnly || evt == nil {
		return
	}
	s.events = append(s.events, evt)
}

func roleKey(role string, addr common.Address) []byte {
	return []byte("roles/" + role + "/" + addr.Hex())
}

// HasRole reports whether addr holds the named capability.
func (s *State) HasRole(role string, addr common.Address) bool {
	ok, err := s.KVGet(roleKey(role, addr), nil)
	return err == nil && ok
}

// GrantRole records a capability grant for addr.
func (s *State) GrantRole(role string, addr common.Address) error {
	return s.KVPut(roleKey(role, addr), true)
}
