package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/parrotkeeper/internal/cryptox"
	"github.com/google/uuid"
)

type ChangeKind int

const (
	ChangeUpdated ChangeKind = iota + 1
	ChangeAdded
	ChangeRemoved
	ChangeTombstones
	ChangeFileParams
	ChangeMemoryParams
	// ChangeSourceStale records that the source lacks something the
	// destination has; the source is marked dirty.
	ChangeSourceStale
	// ChangeConflict records equal timestamps with different content, or a
	// source version that could not be re-sealed. The destination keeps its
	// version.
	ChangeConflict
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeUpdated:
		return "updated"
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeTombstones:
		return "tombstones"
	case ChangeFileParams:
		return "file-params"
	case ChangeMemoryParams:
		return "memory-params"
	case ChangeSourceStale:
		return "source-stale"
	case ChangeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

type Change struct {
	Kind ChangeKind
	Node uuid.UUID
	Note string
}

func (c Change) String() string {
	if c.Node == uuid.Nil {
		return fmt.Sprintf("%s: %s", c.Kind, c.Note)
	}
	return fmt.Sprintf("%s %s: %s", c.Kind, c.Node, c.Note)
}

// MergeLog is the human-readable record of one merge.
type MergeLog struct {
	Changes []Change
}

func (l *MergeLog) add(kind ChangeKind, id uuid.UUID, format string, args ...any) {
	l.Changes = append(l.Changes, Change{Kind: kind, Node: id, Note: fmt.Sprintf(format, args...)})
}

// Empty reports whether the merge found no differences at all.
func (l *MergeLog) Empty() bool { return len(l.Changes) == 0 }

// DestinationChanges counts entries that modified the destination.
func (l *MergeLog) DestinationChanges() int {
	n := 0
	for _, c := range l.Changes {
		if c.Kind != ChangeSourceStale && c.Kind != ChangeConflict {
			n++
		}
	}
	return n
}

func (l *MergeLog) String() string {
	var b strings.Builder
	for _, c := range l.Changes {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Merge folds source into destination. Newer node attributes win, children
// removed on either side stay removed, and children present on only one
// side are copied. Whenever source lacks something destination has, source
// is marked dirty so the caller knows to write it back.
//
// password is the shared password; it is used to derive keys for crypto
// params adopted from source. Both databases are locked for the duration.
func Merge(ctx context.Context, source, destination *Database, password []byte) (*MergeLog, error) {
	log := &MergeLog{}
	if source == destination {
		return log, nil
	}

	first, second := source, destination
	if second.seq < first.seq {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if err := source.checkOpen(); err != nil {
		return nil, err
	}
	if err := destination.checkOpen(); err != nil {
		return nil, err
	}

	m := &merger{src: source, dst: destination, log: log}
	if err := m.reconcileParams(password); err != nil {
		return nil, err
	}
	m.mergeNode(source.nodes[source.root], destination.nodes[destination.root])

	for _, c := range log.Changes {
		destination.logger.Debug(ctx, "merge", "kind", c.Kind.String(), "node", c.Node.String(), "note", c.Note)
	}
	destination.logger.Info(ctx, "merge finished",
		"changes", log.DestinationChanges(),
		"entries", len(log.Changes),
		"source_dirty", source.dirty)
	return log, nil
}

type merger struct {
	src, dst *Database
	log      *MergeLog
	// transcode is set when values copied from src must be re-sealed under
	// dst's memory key.
	transcode bool
}

// reconcileParams adopts whichever params are newer. Nothing is installed
// unless both sides of the reconciliation succeed.
func (m *merger) reconcileParams(password []byte) error {
	src, dst := m.src, m.dst

	var file, memory *CryptoParams
	switch {
	case dst.file.modified.Before(src.file.modified):
		p, err := src.file.WithPassword(dst.engine, password)
		if err != nil {
			return err
		}
		file = p
	case src.file.modified.Before(dst.file.modified):
		src.setDirtyLocked(true)
		m.log.add(ChangeSourceStale, uuid.Nil, "source file params are older")
	}

	switch {
	case dst.memory.modified.Before(src.memory.modified):
		p, err := src.memory.WithPassword(dst.engine, password)
		if err != nil {
			file.wipe()
			return err
		}
		memory = p
	case src.memory.modified.Before(dst.memory.modified):
		src.setDirtyLocked(true)
		m.log.add(ChangeSourceStale, uuid.Nil, "source memory params are older")
	}

	if memory != nil {
		if err := dst.adoptMemoryLocked(memory); err != nil {
			memory.wipe()
			file.wipe()
			return err
		}
		m.log.add(ChangeMemoryParams, uuid.Nil, "adopted newer memory params")
	}
	if file != nil {
		dst.file.wipe()
		dst.file = file
		dst.setDirtyLocked(true)
		m.log.add(ChangeFileParams, uuid.Nil, "adopted newer file params")
	}

	m.transcode = !src.memory.sameKey(dst.memory)
	return nil
}

// value prepares a source value for storage in the destination.
func (m *merger) value(v *cryptox.EncryptedValue) (*cryptox.EncryptedValue, error) {
	if v == nil {
		return nil, nil
	}
	if !m.transcode {
		return v.Clone(), nil
	}
	return m.dst.transcode(v, m.src.memory, m.dst.memory)
}

// history builds the destination history when source wins: source entries
// in source order, purges from both sides applied and remembered.
func (m *merger) history(src, dst history) (history, error) {
	out := newHistory()
	for id := range src.purged {
		out.purged.add(id)
	}
	for id := range dst.purged {
		out.purged.add(id)
	}
	for _, e := range src.entries {
		if out.purged.has(e.ID) {
			continue
		}
		v, err := m.historyValue(e)
		if err != nil {
			return history{}, err
		}
		out.push(v)
	}
	return out, nil
}

// historyValue copies a history entry. Entries that do not open under the
// source memory key were sealed before a rotation and are copied verbatim.
func (m *merger) historyValue(v *cryptox.EncryptedValue) (*cryptox.EncryptedValue, error) {
	if !m.transcode {
		return v.Clone(), nil
	}
	out, err := m.dst.transcode(v, m.src.memory, m.dst.memory)
	if err != nil {
		return v.Clone(), nil
	}
	return out, nil
}

// mergeNode merges one node and its children. A node whose source version
// cannot be re-sealed is logged as a conflict and keeps its destination
// version; the walk goes on.
func (m *merger) mergeNode(src, dst *node) {
	switch {
	case src.modified.After(dst.modified):
		if err := m.takeSource(src, dst); err != nil {
			m.log.add(ChangeConflict, dst.id, "kept destination: %v", err)
			break
		}
		m.dst.setDirtyLocked(true)
		m.log.add(ChangeUpdated, dst.id, "took newer version from source")
	case src.modified.Before(dst.modified):
		m.src.setDirtyLocked(true)
		m.log.add(ChangeSourceStale, dst.id, "destination version is newer")
	default:
		if !m.sameContent(src, dst) {
			m.log.add(ChangeConflict, dst.id, "same timestamp, different content; kept destination")
		}
	}

	for _, c := range append([]uuid.UUID(nil), dst.children...) {
		switch {
		case src.hasChild(c):
			m.mergeNode(m.src.nodes[c], m.dst.nodes[c])
		case src.deleted.has(c):
			m.dst.removeLocked(dst, c)
			m.dst.setDirtyLocked(true)
			m.log.add(ChangeRemoved, c, "removed in source")
		default:
			m.src.setDirtyLocked(true)
			m.log.add(ChangeSourceStale, c, "missing in source")
		}
	}

	for _, c := range src.children {
		if dst.hasChild(c) {
			continue
		}
		if dst.deleted.has(c) {
			m.src.setDirtyLocked(true)
			m.log.add(ChangeSourceStale, c, "removed in destination")
			continue
		}
		if _, elsewhere := m.dst.nodes[c]; elsewhere {
			m.log.add(ChangeConflict, c, "exists under another parent in destination; skipped")
			continue
		}
		if err := m.copySubtree(c, dst); err != nil {
			m.log.add(ChangeConflict, c, "not copied: %v", err)
			continue
		}
		m.dst.setDirtyLocked(true)
		m.log.add(ChangeAdded, c, "copied from source")
	}

	added := 0
	for t := range src.deleted {
		if dst.deleted.add(t) {
			added++
		}
	}
	if added > 0 {
		m.dst.setDirtyLocked(true)
		m.log.add(ChangeTombstones, dst.id, "%d tombstone(s) from source", added)
	}
}

// takeSource overwrites dst's attributes with src's. dst is untouched on
// error.
func (m *merger) takeSource(src, dst *node) error {
	value, err := m.value(src.value)
	if err != nil {
		return fmt.Errorf("node %s: %w", src.id, err)
	}
	h, err := m.history(src.history, dst.history)
	if err != nil {
		return fmt.Errorf("node %s history: %w", src.id, err)
	}
	dst.name = cloneName(src.name)
	dst.value = value
	dst.history = h
	dst.modified = src.modified
	return nil
}

// sameContent compares LWW attributes across databases. Under different
// memory keys ciphertexts are incomparable, so only presence is checked.
func (m *merger) sameContent(src, dst *node) bool {
	if !m.transcode {
		return src.sameContent(dst)
	}
	return equalName(src.name, dst.name) && (src.value == nil) == (dst.value == nil)
}

// copySubtree deep-copies the source subtree rooted at id under parent.
// The subtree is staged first, so a failure leaves the destination as it
// was.
func (m *merger) copySubtree(id uuid.UUID, parent *node) error {
	staged := map[uuid.UUID]*node{}
	if err := m.stageSubtree(id, parent.id, staged); err != nil {
		return err
	}
	for k, n := range staged {
		m.dst.nodes[k] = n
	}
	parent.children = append(parent.children, id)
	return nil
}

func (m *merger) stageSubtree(id, parent uuid.UUID, staged map[uuid.UUID]*node) error {
	s := m.src.nodes[id]
	n := newNode(s.id, parent, s.modified)
	n.name = cloneName(s.name)
	n.deleted = s.deleted.clone()

	value, err := m.value(s.value)
	if err != nil {
		return fmt.Errorf("node %s: %w", id, err)
	}
	n.value = value
	if n.history, err = m.history(s.history, newHistory()); err != nil {
		return fmt.Errorf("node %s history: %w", id, err)
	}

	staged[id] = n
	for _, c := range s.children {
		if err := m.stageSubtree(c, id, staged); err != nil {
			return err
		}
		n.children = append(n.children, c)
	}
	return nil
}
