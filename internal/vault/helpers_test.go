package vault

import (
	"bytes"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/cryptox"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testPassword = []byte("correct horse battery staple")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestDB builds a vault with a single KDF round so tests stay fast.
func newTestDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	d, err := New(testPassword, append([]Option{WithRounds(1)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func clockedEngine(c *fakeClock) *cryptox.Engine {
	return cryptox.NewEngine(cryptox.WithClock(c.Now))
}

func mustAdd(t *testing.T, d *Database, parent uuid.UUID, name, secret string) uuid.UUID {
	t.Helper()
	var s []byte
	if secret != "" {
		s = []byte(secret)
	}
	id, err := d.AddNode(parent, name, s)
	require.NoError(t, err)
	return id
}

func mustSecret(t *testing.T, d *Database, id uuid.UUID) string {
	t.Helper()
	s, err := d.Secret(id)
	require.NoError(t, err)
	return string(s)
}

// setModified forces a node timestamp, which scenario tests need to stage
// replicas.
func setModified(d *Database, id uuid.UUID, ms int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[id].modified = time.UnixMilli(ms)
}

type nodeSnapshot struct {
	Parent         uuid.UUID
	Name           string
	HasName        bool
	Modified       int64
	Secret         string
	HasValue       bool
	Children       []uuid.UUID
	Deleted        []uuid.UUID
	DeletedHistory []uuid.UUID
	History        []string
}

// snapshot captures the decrypted logical state of a vault. Children are
// sorted: replicas may order appended children differently.
func snapshot(t *testing.T, d *Database) map[uuid.UUID]nodeSnapshot {
	t.Helper()
	out := map[uuid.UUID]nodeSnapshot{}
	err := d.Walk(func(v NodeView, _ int) error {
		s := nodeSnapshot{
			Parent:         v.Parent,
			Modified:       v.Modified.UnixMilli(),
			Children:       sortedIDs(v.Children),
			Deleted:        v.Deleted,
			DeletedHistory: v.DeletedHistory,
		}
		if v.Name != nil {
			s.Name, s.HasName = *v.Name, true
		}
		if v.Value != nil {
			s.Secret, s.HasValue = mustSecret(t, d, v.ID), true
		}
		for _, h := range v.History {
			plain, err := d.HistorySecret(v.ID, h.ID)
			require.NoError(t, err)
			s.History = append(s.History, string(plain))
		}
		out[v.ID] = s
		return nil
	})
	require.NoError(t, err)
	return out
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}
