package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/cryptox"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/google/uuid"
)

// fileDocument is the outer, file-key envelope. Byte slices are base64 and
// times are Unix milliseconds.
type fileDocument struct {
	Salt     []byte `json:"cryptoParams.salt"`
	Rounds   uint32 `json:"cryptoParams.rounds"`
	Modified int64  `json:"cryptoParams.modified"`
	IV       []byte `json:"iv"`
	Data     []byte `json:"data"`
}

// rootDocument is the plaintext inside the envelope.
type rootDocument struct {
	Salt     []byte         `json:"cryptoParams.salt"`
	Rounds   uint32         `json:"cryptoParams.rounds"`
	Modified int64          `json:"cryptoParams.modified"`
	ID       uuid.UUID      `json:"id"`
	Deleted  []uuid.UUID    `json:"deleted"`
	Children []nodeDocument `json:"children"`
}

type nodeDocument struct {
	ID             uuid.UUID       `json:"id"`
	Name           *string         `json:"name"`
	Modified       int64           `json:"modified"`
	IV             []byte          `json:"iv"`
	Data           []byte          `json:"data"`
	Children       []nodeDocument  `json:"children"`
	Deleted        []uuid.UUID     `json:"deleted"`
	History        []valueDocument `json:"history"`
	DeletedHistory []uuid.UUID     `json:"deleted-history"`
}

type valueDocument struct {
	ID       uuid.UUID `json:"id"`
	Modified int64     `json:"modified"`
	IV       []byte    `json:"iv"`
	Data     []byte    `json:"data"`
}

// Marshal serializes the database and seals it under the file key. It does
// not touch the dirty flag.
func Marshal(d *Database) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.marshalLocked()
}

func (d *Database) marshalLocked() ([]byte, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	root := d.nodes[d.root]
	doc := rootDocument{
		Salt:     d.memory.salt,
		Rounds:   d.memory.rounds,
		Modified: d.memory.modified.UnixMilli(),
		ID:       root.id,
		Deleted:  root.deleted.sorted(),
	}
	for _, c := range root.children {
		doc.Children = append(doc.Children, d.encodeNode(d.nodes[c]))
	}

	plain, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	defer shared.WipeByteArray(plain)

	sealed, err := d.engine.Encrypt(d.file.key, plain)
	if err != nil {
		return nil, fmt.Errorf("seal document: %w", err)
	}

	return json.MarshalIndent(fileDocument{
		Salt:     d.file.salt,
		Rounds:   d.file.rounds,
		Modified: d.file.modified.UnixMilli(),
		IV:       sealed.IV,
		Data:     sealed.Data,
	}, "", "  ")
}

func (d *Database) encodeNode(n *node) nodeDocument {
	doc := nodeDocument{
		ID:             n.id,
		Name:           n.name,
		Modified:       n.modified.UnixMilli(),
		Deleted:        n.deleted.sorted(),
		DeletedHistory: n.history.purged.sorted(),
	}
	if n.value != nil {
		doc.IV, doc.Data = n.value.IV, n.value.Data
	}
	for _, h := range n.history.entries {
		doc.History = append(doc.History, valueDocument{
			ID:       h.ID,
			Modified: h.Modified.UnixMilli(),
			IV:       h.IV,
			Data:     h.Data,
		})
	}
	for _, c := range n.children {
		doc.Children = append(doc.Children, d.encodeNode(d.nodes[c]))
	}
	return doc
}

// Unmarshal opens a serialized database with password. Any failure, from
// bad JSON to a wrong password, is reported as
// common.ErrCorruptedOrWrongPassword. The result is not dirty.
func Unmarshal(ctx context.Context, data, password []byte, opts ...Option) (*Database, error) {
	o := buildOptions(opts)
	d, err := unmarshal(data, password, o)
	if err != nil {
		o.logger.Debug(ctx, "open failed", "error", err)
		return nil, fmt.Errorf("%w", common.ErrCorruptedOrWrongPassword)
	}
	return d, nil
}

func unmarshal(data, password []byte, o options) (*Database, error) {
	var outer fileDocument
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", common.ErrMalformedDocument, err)
	}
	if len(outer.Salt) == 0 || outer.IV == nil || outer.Data == nil {
		return nil, fmt.Errorf("%w: envelope fields missing", common.ErrMalformedDocument)
	}

	file, err := RestoreCryptoParams(o.engine, password, outer.Salt, outer.Rounds, time.UnixMilli(outer.Modified))
	if err != nil {
		return nil, err
	}
	plain, err := o.engine.Decrypt(file.key, &cryptox.EncryptedValue{Cipher: cryptox.AES256CBC, IV: outer.IV, Data: outer.Data})
	if err != nil {
		file.wipe()
		return nil, err
	}
	defer shared.WipeByteArray(plain)

	var doc rootDocument
	if err := json.Unmarshal(plain, &doc); err != nil {
		file.wipe()
		return nil, fmt.Errorf("%w: tree: %v", common.ErrMalformedDocument, err)
	}
	if doc.ID == uuid.Nil || len(doc.Salt) == 0 {
		file.wipe()
		return nil, fmt.Errorf("%w: root fields missing", common.ErrMalformedDocument)
	}

	memory, err := RestoreCryptoParams(o.engine, password, doc.Salt, doc.Rounds, time.UnixMilli(doc.Modified))
	if err != nil {
		file.wipe()
		return nil, err
	}

	d := newDatabase(doc.ID, memory, file, o)
	root := d.nodes[doc.ID]
	if err := d.decodeChildren(root, doc.Children, doc.Deleted); err != nil {
		memory.wipe()
		file.wipe()
		return nil, err
	}
	return d, nil
}

func (d *Database) decodeChildren(parent *node, children []nodeDocument, deleted []uuid.UUID) error {
	for _, t := range deleted {
		parent.deleted.add(t)
	}
	for _, c := range children {
		if c.ID == uuid.Nil {
			return fmt.Errorf("%w: node without id", common.ErrMalformedDocument)
		}
		if _, dup := d.nodes[c.ID]; dup {
			return fmt.Errorf("%w: duplicate node %s", common.ErrMalformedDocument, c.ID)
		}
		if parent.deleted.has(c.ID) {
			return fmt.Errorf("%w: node %s is both child and tombstone", common.ErrMalformedDocument, c.ID)
		}

		n := newNode(c.ID, parent.id, time.UnixMilli(c.Modified))
		n.name = c.Name

		v, err := decodeValue(c.ID, n.modified, c.IV, c.Data)
		if err != nil {
			return err
		}
		n.value = v

		for _, id := range c.DeletedHistory {
			n.history.purged.add(id)
		}
		for _, h := range c.History {
			if h.ID == uuid.Nil || h.IV == nil || h.Data == nil {
				return fmt.Errorf("%w: node %s: bad history entry", common.ErrMalformedDocument, c.ID)
			}
			n.history.push(&cryptox.EncryptedValue{
				ID:       h.ID,
				Modified: time.UnixMilli(h.Modified),
				Cipher:   cryptox.AES256CBC,
				IV:       h.IV,
				Data:     h.Data,
			})
		}

		d.nodes[c.ID] = n
		parent.children = append(parent.children, c.ID)
		if err := d.decodeChildren(n, c.Children, c.Deleted); err != nil {
			return err
		}
	}
	return nil
}

// decodeValue rebuilds a node's current value. Its id is not persisted; it
// is derived with valueID like every in-memory current value.
func decodeValue(nodeID uuid.UUID, modified time.Time, iv, data []byte) (*cryptox.EncryptedValue, error) {
	switch {
	case iv == nil && data == nil:
		return nil, nil
	case iv == nil || data == nil:
		return nil, fmt.Errorf("%w: node %s: partial value", common.ErrMalformedDocument, nodeID)
	}
	return &cryptox.EncryptedValue{
		ID:       valueID(nodeID, iv),
		Modified: modified,
		Cipher:   cryptox.AES256CBC,
		IV:       iv,
		Data:     data,
	}, nil
}

// IsCorrupted reports whether err came from opening an unreadable vault.
func IsCorrupted(err error) bool {
	return errors.Is(err, common.ErrCorruptedOrWrongPassword)
}
