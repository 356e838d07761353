package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"greenbonds/core/events"
	"greenbonds/core/state"
	"greenbonds/native/bond"
	nativecommon "greenbonds/native/common"
	"greenbonds/native/token"
	"greenbonds/observability"
	telemetry "greenbonds/observability/otel"
	"greenbonds/storage"
	"greenbonds/storage/trie"
)

var headKey = []byte("ledger/head")

const defaultEventHistory = 4096

// Head identifies the last committed ledger state.
type Head struct {
	Root      string `json:"root"`
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// Node owns the state trie and applies every state-changing call as one
// atomic transaction: all of its writes and events are kept, or none are.
//
// All access is serialised behind a single mutex because trie reads resolve
// nodes in place.
type Node struct {
	mu sync.Mutex

	db      storage.Database
	trie    *trie.Trie
	state   *state.Manager
	ledger  *token.Ledger
	bonds   *bond.Engine
	pauses  *nativecommon.Pauses
	buffer  *events.Buffer
	history *events.Log
	sink    events.Emitter
	logger  *slog.Logger

	clock  func() time.Time
	txTime int64
	head   Head
}

// NewNode opens the ledger stored in db. An empty database is initialised
// from genesis in a first committed transaction.
func NewNode(db storage.Database, genesis *Genesis, logger *slog.Logger) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	head, found, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	var root []byte
	if found {
		root = common.HexToHash(head.Root).Bytes()
	}
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("core: open state trie: %w", err)
	}

	n := &Node{
		db:      db,
		trie:    stateTrie,
		state:   state.NewManager(stateTrie),
		ledger:  token.NewLedger(),
		bonds:   bond.NewEngine(),
		pauses:  nativecommon.NewPauses(),
		buffer:  &events.Buffer{},
		history: events.NewLog(defaultEventHistory),
		sink:    events.NoopEmitter{},
		logger:  logger.With("component", "core"),
		clock:   time.Now,
		head:    head,
	}
	n.ledger.SetState(n.state)
	n.ledger.SetEmitter(n.buffer)
	n.ledger.SetPauses(n.pauses)
	n.bonds.SetState(n.state)
	n.bonds.SetSettlement(n.ledger)
	n.bonds.SetPositions(n.ledger)
	n.bonds.SetEmitter(n.buffer)
	n.bonds.SetPauses(n.pauses)
	n.bonds.SetNowFunc(func() int64 { return n.txTime })

	if !found {
		err := n.apply(context.Background(), "genesis", func() error {
			return n.applyGenesis(genesis)
		})
		if err != nil {
			return nil, err
		}
		n.logger.Info("ledger initialised from genesis", "root", n.head.Root)
	} else {
		n.logger.Info("ledger opened", "root", head.Root, "height", head.Height)
	}
	observability.Ledger().SetHeight(n.head.Height)
	return n, nil
}

func loadHead(db storage.Database) (Head, bool, error) {
	var head Head
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return head, false, nil
	}
	if err != nil {
		return head, false, fmt.Errorf("core: load head: %w", err)
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return head, false, fmt.Errorf("core: decode head: %w", err)
	}
	return head, true, nil
}

// SetClock overrides the wall clock that timestamps transactions.
func (n *Node) SetClock(clock func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	n.clock = clock
}

// SetEventSink forwards committed events to emitter in addition to the
// in-memory history.
func (n *Node) SetEventSink(emitter events.Emitter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.sink = emitter
}

// Pauses exposes the module pause switches.
func (n *Node) Pauses() *nativecommon.Pauses {
	return n.pauses
}

// apply runs fn as one transaction. On failure the trie is restored and the
// buffered events are dropped; on success the trie is committed, the head is
// persisted and the events are published.
func (n *Node) apply(ctx context.Context, op string, fn func() error) (err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, span := telemetry.Tracer("core").Start(ctx, "ledger."+op)
	defer span.End()

	started := time.Now()
	n.txTime = n.clock().Unix()
	snap := n.trie.Snapshot()
	n.buffer.Discard()

	defer func() {
		observability.Ledger().ObserveTransaction(op, err, time.Since(started))
		if err != nil {
			n.trie.Restore(snap)
			n.buffer.Discard()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			n.logger.Debug("transaction rolled back", "op", op, "error", err)
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	parent := common.HexToHash(n.head.Root)
	height := n.head.Height + 1
	root, err := n.trie.Commit(parent, height)
	if err != nil {
		return fmt.Errorf("core: commit state: %w", err)
	}
	next := Head{Root: root.Hex(), Height: height, Timestamp: n.txTime}
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("core: encode head: %w", err)
	}
	if err = n.db.Put(headKey, encoded); err != nil {
		return fmt.Errorf("core: persist head: %w", err)
	}
	n.head = next

	published := n.buffer.Drain()
	for _, evt := range published {
		n.history.Emit(evt)
		n.sink.Emit(evt)
		observability.Events().RecordEvent(evt.EventType())
	}
	observability.Ledger().SetHeight(height)
	span.SetAttributes(
		attribute.Int64("ledger.height", int64(height)),
		attribute.Int("ledger.events", len(published)),
	)
	n.logger.Info("transaction committed",
		"op", op,
		"height", height,
		"root", next.Root,
		"events", len(published))
	return nil
}

// Head returns the last committed ledger head.
func (n *Node) Head() Head {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head
}

// RecentEvents returns up to limit committed events, newest first, whose type
// starts with prefix.
func (n *Node) RecentEvents(prefix string, limit int) []*EventView {
	entries := n.history.Recent(prefix, limit)
	out := make([]*EventView, 0, len(entries))
	for _, evt := range entries {
		out = append(out, &EventView{Type: evt.Type, Attributes: evt.Attributes})
	}
	return out
}

// EventView is a committed event as exposed to clients.
type EventView struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
