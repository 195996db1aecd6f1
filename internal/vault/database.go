// Package vault implements the encrypted hierarchical secret store: a tree
// of named nodes holding sealed values, with per-node history, tombstones
// for removed children and two independent key configurations (one for
// values in memory, one for the file envelope).
package vault

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/cryptox"
	"github.com/dmitrijs2005/parrotkeeper/internal/logging"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/google/uuid"
)

// rootModified is the fixed timestamp of every root node. The root carries
// no name or value, so there is nothing for it to win or lose in a merge.
var rootModified = time.UnixMilli(0)

var dbSeq atomic.Uint64

// Database is an in-memory vault. All methods are safe for concurrent use;
// a single mutex guards the whole tree.
type Database struct {
	mu  sync.Mutex
	seq uint64

	engine *cryptox.Engine
	logger logging.Logger
	events *broker

	memory *CryptoParams
	file   *CryptoParams
	// retired holds memory params replaced during this session, newest
	// last. History entries are not re-encrypted on rotation and are
	// opened with these.
	retired []*CryptoParams

	root   uuid.UUID
	nodes  map[uuid.UUID]*node
	dirty  bool
	closed bool
}

type options struct {
	engine *cryptox.Engine
	logger logging.Logger
	rounds uint32
}

// Option customises a Database.
type Option func(*options)

// WithEngine sets the crypto engine. Tests use it to inject a clock.
func WithEngine(e *cryptox.Engine) Option {
	return func(o *options) { o.engine = e }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRounds sets the PBKDF2 round count for params created by New.
func WithRounds(rounds uint32) Option {
	return func(o *options) { o.rounds = rounds }
}

func buildOptions(opts []Option) options {
	o := options{rounds: common.DefaultKDFRounds}
	for _, fn := range opts {
		fn(&o)
	}
	if o.engine == nil {
		o.engine = cryptox.NewEngine()
	}
	if o.logger == nil {
		o.logger = logging.NewNopLogger()
	}
	return o
}

// New creates an empty vault protected by password. Memory and file params
// get independent salts.
func New(password []byte, opts ...Option) (*Database, error) {
	o := buildOptions(opts)

	memory, err := NewCryptoParams(o.engine, password, o.rounds)
	if err != nil {
		return nil, err
	}
	file, err := NewCryptoParams(o.engine, password, o.rounds)
	if err != nil {
		memory.wipe()
		return nil, err
	}
	return newDatabase(uuid.New(), memory, file, o), nil
}

func newDatabase(rootID uuid.UUID, memory, file *CryptoParams, o options) *Database {
	return &Database{
		seq:    dbSeq.Add(1),
		engine: o.engine,
		logger: o.logger,
		events: newBroker(),
		memory: memory,
		file:   file,
		root:   rootID,
		nodes:  map[uuid.UUID]*node{rootID: newNode(rootID, uuid.Nil, rootModified)},
	}
}

// Root returns the id of the root node.
func (d *Database) Root() uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

// Len returns the number of nodes including the root.
func (d *Database) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

func (d *Database) Engine() *cryptox.Engine { return d.engine }

// MemoryParams returns the params sealing values in memory.
func (d *Database) MemoryParams() *CryptoParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memory
}

// FileParams returns the params sealing the serialized document.
func (d *Database) FileParams() *CryptoParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file
}

// Subscribe registers a listener for database events. The returned function
// unsubscribes and closes the channel.
func (d *Database) Subscribe(buffer int) (<-chan Event, func()) {
	return d.events.subscribe(buffer)
}

// Dirty reports whether there are changes not yet persisted.
func (d *Database) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

func (d *Database) SetDirty(dirty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setDirtyLocked(dirty)
}

func (d *Database) setDirtyLocked(dirty bool) {
	if d.dirty == dirty {
		return
	}
	d.dirty = dirty
	d.events.publish(Event{Kind: EventDirtyChanged, Dirty: dirty})
}

// Close wipes key material and makes every further operation fail with
// common.ErrState. Closing twice is a no-op.
func (d *Database) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.memory.wipe()
	d.file.wipe()
	for _, p := range d.retired {
		p.wipe()
	}
	d.events.publish(Event{Kind: EventClosed, Dirty: d.dirty})
	d.events.closeAll()
}

func (d *Database) checkOpen() error {
	if d.closed {
		return fmt.Errorf("%w: database is closed", common.ErrState)
	}
	return nil
}

func (d *Database) lookupLocked(id uuid.UUID) (*node, error) {
	n, ok := d.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, common.ErrNotFound)
	}
	return n, nil
}

// nonRootLocked fetches a node whose name or value may be changed.
func (d *Database) nonRootLocked(id uuid.UUID) (*node, error) {
	if id == d.root {
		return nil, fmt.Errorf("%w: root node has no name or value", common.ErrState)
	}
	return d.lookupLocked(id)
}

// tick returns a timestamp strictly after prev.
func (d *Database) tick(prev time.Time) time.Time {
	now := d.engine.Now()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// Lookup returns a snapshot of the node with the given id.
func (d *Database) Lookup(id uuid.UUID) (NodeView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return NodeView{}, false
	}
	return n.view(), true
}

// Children returns the ordered child ids of a node.
func (d *Database) Children(id uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return n.view().Children, nil
}

// Walk visits the tree depth-first in child order starting at the root.
// Returning an error from fn stops the walk.
func (d *Database) Walk(fn func(v NodeView, depth int) error) error {
	d.mu.Lock()
	views := make([]NodeView, 0, len(d.nodes))
	depths := make([]int, 0, len(d.nodes))
	var visit func(id uuid.UUID, depth int)
	visit = func(id uuid.UUID, depth int) {
		n := d.nodes[id]
		views = append(views, n.view())
		depths = append(depths, depth)
		for _, c := range n.children {
			visit(c, depth+1)
		}
	}
	visit(d.root, 0)
	d.mu.Unlock()

	for i, v := range views {
		if err := fn(v, depths[i]); err != nil {
			return err
		}
	}
	return nil
}

// AddNode creates a child of parent. A nil secret leaves the node without
// a value.
func (d *Database) AddNode(parent uuid.UUID, name string, secret []byte) (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return uuid.Nil, err
	}
	p, err := d.lookupLocked(parent)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	n := newNode(id, parent, d.tick(time.Time{}))
	n.name = &name
	if secret != nil {
		v, err := d.sealLocked(id, secret, n.modified)
		if err != nil {
			return uuid.Nil, err
		}
		n.value = v
	}

	d.nodes[id] = n
	p.children = append(p.children, id)
	d.setDirtyLocked(true)
	return id, nil
}

// SetName renames a node.
func (d *Database) SetName(id uuid.UUID, name string) error {
	return d.mutate(id, func(n *node, _ time.Time) (bool, error) {
		if n.name != nil && *n.name == name {
			return false, nil
		}
		n.name = &name
		return true, nil
	})
}

// ClearName removes the node's name.
func (d *Database) ClearName(id uuid.UUID) error {
	return d.mutate(id, func(n *node, _ time.Time) (bool, error) {
		if n.name == nil {
			return false, nil
		}
		n.name = nil
		return true, nil
	})
}

// SetValue seals secret as the node's new value. The previous value, if
// any, moves to history.
func (d *Database) SetValue(id uuid.UUID, secret []byte) error {
	return d.mutate(id, func(n *node, at time.Time) (bool, error) {
		v, err := d.sealLocked(n.id, secret, at)
		if err != nil {
			return false, err
		}
		n.history.push(n.value)
		n.value = v
		return true, nil
	})
}

// ClearValue moves the current value to history and leaves the node
// without one.
func (d *Database) ClearValue(id uuid.UUID) error {
	return d.mutate(id, func(n *node, _ time.Time) (bool, error) {
		if n.value == nil {
			return false, nil
		}
		n.history.push(n.value)
		n.value = nil
		return true, nil
	})
}

// sealLocked encrypts secret as the current value of node id. The value id
// is derived the same way a load derives it, so replicas agree on it.
func (d *Database) sealLocked(id uuid.UUID, secret []byte, at time.Time) (*cryptox.EncryptedValue, error) {
	v, err := d.engine.Encrypt(d.memory.key, secret)
	if err != nil {
		return nil, err
	}
	v.ID = valueID(id, v.IV)
	v.Modified = at
	return v, nil
}

// valueID names the current value of a node. The IV is kept on
// re-encryption, so the id survives key rotation and reloads.
func valueID(nodeID uuid.UUID, iv []byte) uuid.UUID {
	return uuid.NewSHA1(nodeID, iv)
}

// mutate applies fn to a non-root node and, when fn reports a change,
// advances the node's timestamp and marks the database dirty.
func (d *Database) mutate(id uuid.UUID, fn func(n *node, at time.Time) (bool, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	n, err := d.nonRootLocked(id)
	if err != nil {
		return err
	}
	at := d.tick(n.modified)
	changed, err := fn(n, at)
	if err != nil || !changed {
		return err
	}
	n.modified = at
	d.setDirtyLocked(true)
	return nil
}

// Secret decrypts the node's current value.
func (d *Database) Secret(id uuid.UUID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	n, err := d.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if n.value == nil {
		return nil, fmt.Errorf("node %s: %w", id, common.ErrNoValue)
	}
	return d.engine.Decrypt(d.memory.key, n.value)
}

// Remove deletes a node and its subtree and records a tombstone on the
// parent so that merges do not bring it back.
func (d *Database) Remove(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	if id == d.root {
		return fmt.Errorf("%w: cannot remove root", common.ErrState)
	}
	n, err := d.lookupLocked(id)
	if err != nil {
		return err
	}
	d.removeLocked(d.nodes[n.parent], id)
	d.setDirtyLocked(true)
	return nil
}

// removeLocked detaches child from parent, tombstones it and drops its
// subtree from the arena.
func (d *Database) removeLocked(parent *node, child uuid.UUID) {
	parent.detach(child)
	parent.deleted.add(child)
	d.dropSubtreeLocked(child)
}

func (d *Database) dropSubtreeLocked(id uuid.UUID) {
	n, ok := d.nodes[id]
	if !ok {
		return
	}
	for _, c := range n.children {
		d.dropSubtreeLocked(c)
	}
	delete(d.nodes, id)
}

// History returns the superseded values of a node, oldest first.
func (d *Database) History(id uuid.UUID) ([]*cryptox.EncryptedValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return n.view().History, nil
}

// HistorySecret decrypts one history entry. Entries sealed before a memory
// key rotation in this session are opened with the retired params.
func (d *Database) HistorySecret(id, entry uuid.UUID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	n, err := d.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	i := n.history.find(entry)
	if i < 0 {
		return nil, fmt.Errorf("history entry %s: %w", entry, common.ErrNotFound)
	}
	return d.decryptAnyLocked(n.history.entries[i])
}

func (d *Database) decryptAnyLocked(v *cryptox.EncryptedValue) ([]byte, error) {
	plain, err := d.engine.Decrypt(d.memory.key, v)
	if err == nil {
		return plain, nil
	}
	for i := len(d.retired) - 1; i >= 0; i-- {
		if plain, rerr := d.engine.Decrypt(d.retired[i].key, v); rerr == nil {
			return plain, nil
		}
	}
	return nil, err
}

// PurgeHistory drops a history entry permanently. The purge propagates on
// merge and the entry is never restored.
func (d *Database) PurgeHistory(id, entry uuid.UUID) error {
	return d.mutate(id, func(n *node, _ time.Time) (bool, error) {
		if !n.history.purge(entry) {
			return false, fmt.Errorf("history entry %s: %w", entry, common.ErrNotFound)
		}
		return true, nil
	})
}

// Encrypt seals plaintext under the current memory key.
func (d *Database) Encrypt(plaintext []byte) (*cryptox.EncryptedValue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.engine.Encrypt(d.memory.key, plaintext)
}

// Decrypt opens a value sealed under the current memory key.
func (d *Database) Decrypt(v *cryptox.EncryptedValue) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.engine.Decrypt(d.memory.key, v)
}

// RotateMemoryKey re-encrypts every current value under newParams with a
// key derived from password. Either all values are re-encrypted or none.
// History keeps its original encryption.
func (d *Database) RotateMemoryKey(ctx context.Context, newParams *CryptoParams, password []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	p, err := newParams.WithPassword(d.engine, password)
	if err != nil {
		return err
	}
	if err := d.adoptMemoryLocked(p); err != nil {
		p.wipe()
		return err
	}
	d.logger.Info(ctx, "memory key rotated", "rounds", p.rounds)
	return nil
}

// adoptMemoryLocked re-encrypts current values from d.memory to p and
// installs p. Nothing changes if any value fails.
func (d *Database) adoptMemoryLocked(p *CryptoParams) error {
	type pending struct {
		n *node
		v *cryptox.EncryptedValue
	}
	var batch []pending
	for _, n := range d.nodes {
		if n.value == nil {
			continue
		}
		v, err := d.transcode(n.value, d.memory, p)
		if err != nil {
			return fmt.Errorf("re-encrypt node %s: %w", n.id, err)
		}
		batch = append(batch, pending{n: n, v: v})
	}
	for _, b := range batch {
		b.n.value = b.v
	}
	d.retired = append(d.retired, d.memory)
	d.memory = p
	d.setDirtyLocked(true)
	return nil
}

// transcode re-seals v from one key to another, keeping its identity,
// timestamp and IV.
func (d *Database) transcode(v *cryptox.EncryptedValue, from, to *CryptoParams) (*cryptox.EncryptedValue, error) {
	plain, err := d.engine.Decrypt(from.key, v)
	if err != nil {
		return nil, err
	}
	defer shared.WipeByteArray(plain)
	fresh, err := d.engine.EncryptWithIV(to.key, v.IV, plain)
	if err != nil {
		return nil, err
	}
	return v.Rekeyed(fresh), nil
}

// RotateFileKey replaces the params used for the file envelope.
func (d *Database) RotateFileKey(ctx context.Context, newParams *CryptoParams, password []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	p, err := newParams.WithPassword(d.engine, password)
	if err != nil {
		return err
	}
	d.file.wipe()
	d.file = p
	d.setDirtyLocked(true)
	d.logger.Info(ctx, "file key rotated", "rounds", p.rounds)
	return nil
}

// ChangePassword rotates both keys to fresh params derived from password.
func (d *Database) ChangePassword(ctx context.Context, password []byte, rounds uint32) error {
	memory, err := NewCryptoParams(d.engine, password, rounds)
	if err != nil {
		return err
	}
	file, err := NewCryptoParams(d.engine, password, rounds)
	if err != nil {
		return err
	}
	if err := d.RotateMemoryKey(ctx, memory, password); err != nil {
		return err
	}
	return d.RotateFileKey(ctx, file, password)
}

// Clone returns an independent deep copy sharing no mutable state. The copy
// has its own event broker and lock.
func (d *Database) Clone() (*Database, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	c := newDatabase(d.root, d.memory.clone(), d.file.clone(), options{engine: d.engine, logger: d.logger})
	for id, n := range d.nodes {
		c.nodes[id] = n.clone()
	}
	for _, p := range d.retired {
		c.retired = append(c.retired, p.clone())
	}
	c.dirty = d.dirty
	return c, nil
}
