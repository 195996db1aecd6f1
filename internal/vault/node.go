package vault

import (
	"bytes"
	"slices"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/cryptox"
	"github.com/google/uuid"
)

type idSet map[uuid.UUID]struct{}

func (s idSet) has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) add(id uuid.UUID) bool {
	if s.has(id) {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s idSet) clone() idSet {
	out := make(idSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s idSet) equal(o idSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.has(id) {
			return false
		}
	}
	return true
}

// sorted returns the ids in a stable order so that serialized output is
// deterministic.
func (s idSet) sorted() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

// history is the ordered list of superseded values of a node plus the ids
// of entries that were purged and must never come back.
type history struct {
	entries []*cryptox.EncryptedValue
	purged  idSet
}

func newHistory() history {
	return history{purged: idSet{}}
}

func (h *history) push(v *cryptox.EncryptedValue) {
	if v == nil || h.purged.has(v.ID) || h.find(v.ID) >= 0 {
		return
	}
	h.entries = append(h.entries, v)
}

func (h *history) find(id uuid.UUID) int {
	return slices.IndexFunc(h.entries, func(v *cryptox.EncryptedValue) bool { return v.ID == id })
}

func (h *history) purge(id uuid.UUID) bool {
	i := h.find(id)
	if i < 0 {
		return false
	}
	h.entries = slices.Delete(h.entries, i, i+1)
	h.purged.add(id)
	return true
}

func (h history) clone() history {
	out := history{
		entries: make([]*cryptox.EncryptedValue, 0, len(h.entries)),
		purged:  h.purged.clone(),
	}
	for _, v := range h.entries {
		out.entries = append(out.entries, v.Clone())
	}
	return out
}

func (h history) equal(o history) bool {
	return slices.EqualFunc(h.entries, o.entries, (*cryptox.EncryptedValue).Equal) && h.purged.equal(o.purged)
}

// node is one vault entry. Children are referenced by id and live in the
// owning Database's arena.
type node struct {
	id       uuid.UUID
	parent   uuid.UUID
	name     *string
	modified time.Time
	value    *cryptox.EncryptedValue
	children []uuid.UUID
	deleted  idSet
	history  history
}

func newNode(id, parent uuid.UUID, modified time.Time) *node {
	return &node{
		id:       id,
		parent:   parent,
		modified: modified,
		deleted:  idSet{},
		history:  newHistory(),
	}
}

func (n *node) hasChild(id uuid.UUID) bool {
	return slices.Contains(n.children, id)
}

func (n *node) detach(id uuid.UUID) {
	if i := slices.Index(n.children, id); i >= 0 {
		n.children = slices.Delete(n.children, i, i+1)
	}
}

func (n *node) clone() *node {
	return &node{
		id:       n.id,
		parent:   n.parent,
		name:     cloneName(n.name),
		modified: n.modified,
		value:    n.value.Clone(),
		children: slices.Clone(n.children),
		deleted:  n.deleted.clone(),
		history:  n.history.clone(),
	}
}

// sameContent reports whether the LWW-governed attributes match. The
// current value is compared by ciphertext since its id is not persisted.
func (n *node) sameContent(o *node) bool {
	return equalName(n.name, o.name) && sameSealed(n.value, o.value) && n.history.equal(o.history)
}

func sameSealed(a, b *cryptox.EncryptedValue) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.IV, b.IV) && bytes.Equal(a.Data, b.Data)
}

func (n *node) view() NodeView {
	v := NodeView{
		ID:             n.id,
		Parent:         n.parent,
		Name:           cloneName(n.name),
		Modified:       n.modified,
		Value:          n.value.Clone(),
		Children:       slices.Clone(n.children),
		Deleted:        n.deleted.sorted(),
		DeletedHistory: n.history.purged.sorted(),
	}
	for _, h := range n.history.entries {
		v.History = append(v.History, h.Clone())
	}
	return v
}

// NodeView is a detached snapshot of a node. Mutating it does not affect
// the database.
type NodeView struct {
	ID       uuid.UUID
	Parent   uuid.UUID
	Name     *string
	Modified time.Time
	// Value is the current sealed value, nil when absent.
	Value          *cryptox.EncryptedValue
	Children       []uuid.UUID
	Deleted        []uuid.UUID
	History        []*cryptox.EncryptedValue
	DeletedHistory []uuid.UUID
}

// DisplayName returns the node name or a placeholder when it has none.
func (v NodeView) DisplayName() string {
	if v.Name == nil {
		return "<unnamed>"
	}
	return *v.Name
}

func cloneName(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func equalName(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
