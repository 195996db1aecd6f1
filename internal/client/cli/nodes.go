package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/parrotkeeper/internal/common"
	"github.com/dmitrijs2005/parrotkeeper/internal/shared"
	"github.com/dmitrijs2005/parrotkeeper/internal/vault"
	"github.com/google/uuid"
)

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// resolve maps a node reference to an id. A reference is a uuid, "/" for
// the root, or a slash separated path of names starting at the root; the
// first child with a matching name wins.
func resolve(db *vault.Database, ref string) (uuid.UUID, error) {
	if ref == "" || ref == "/" {
		return db.Root(), nil
	}
	if id, err := uuid.Parse(ref); err == nil {
		if _, ok := db.Lookup(id); !ok {
			return uuid.Nil, fmt.Errorf("node %s: %w", ref, common.ErrNotFound)
		}
		return id, nil
	}

	cur := db.Root()
	for _, part := range strings.Split(strings.Trim(ref, "/"), "/") {
		children, err := db.Children(cur)
		if err != nil {
			return uuid.Nil, err
		}
		next := uuid.Nil
		for _, c := range children {
			if v, ok := db.Lookup(c); ok && v.Name != nil && *v.Name == part {
				next = c
				break
			}
		}
		if next == uuid.Nil {
			return uuid.Nil, fmt.Errorf("node %s: %w", ref, common.ErrNotFound)
		}
		cur = next
	}
	return cur, nil
}

// target returns the open vault and the node named by args[0], or the root
// when args is empty and allowRoot is set.
func (a *App) target(args []string, allowRoot bool) (*vault.Database, uuid.UUID, error) {
	db, err := a.vault.DB()
	if err != nil {
		return nil, uuid.Nil, err
	}
	ref := ""
	if len(args) > 0 {
		ref = args[0]
	} else if !allowRoot {
		return nil, uuid.Nil, usage("a node id or path is required")
	}
	id, err := resolve(db, ref)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return db, id, nil
}

func describe(v vault.NodeView) string {
	kind := "-"
	if v.Value != nil {
		kind = "secret"
	}
	name := v.DisplayName()
	if len(v.Children) > 0 {
		name += "/"
	}
	return fmt.Sprintf("%s  %-24s %-6s %s", v.ID, name, kind, v.Modified.Format("2006-01-02 15:04:05"))
}

// List prints the direct children of a node.
func (a *App) List(_ context.Context, args []string) error {
	db, id, err := a.target(args, true)
	if err != nil {
		return err
	}
	children, err := db.Children(id)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		fmt.Fprintln(a.out, "(empty)")
		return nil
	}
	for _, c := range children {
		if v, ok := db.Lookup(c); ok {
			fmt.Fprintln(a.out, describe(v))
		}
	}
	return nil
}

// Tree prints a subtree, depth first.
func (a *App) Tree(_ context.Context, args []string) error {
	db, id, err := a.target(args, true)
	if err != nil {
		return err
	}
	var walk func(id uuid.UUID, depth int) error
	walk = func(id uuid.UUID, depth int) error {
		v, ok := db.Lookup(id)
		if !ok {
			return fmt.Errorf("node %s: %w", id, common.ErrNotFound)
		}
		label := v.DisplayName()
		if id == db.Root() {
			label = "/"
		}
		fmt.Fprintf(a.out, "%s%s  [%s]\n", strings.Repeat("  ", depth), label, v.ID)
		for _, c := range v.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(id, 0)
}

// readSecret asks for a value: hidden input by default, several visible
// lines with -m. An empty answer means no value.
func (a *App) readSecret(multiline bool) ([]byte, error) {
	if multiline {
		text, err := GetMultiline(a.reader, "Secret", a.out)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, nil
		}
		return []byte(text), nil
	}
	b, err := GetHidden(a.out, "Secret (empty for none): ")
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return b, nil
}

func splitFlag(args []string, flag string) ([]string, bool) {
	out := make([]string, 0, len(args))
	found := false
	for _, arg := range args {
		if arg == flag {
			found = true
			continue
		}
		out = append(out, arg)
	}
	return out, found
}

// Add creates a node under a parent and prompts for its secret.
func (a *App) Add(_ context.Context, args []string) error {
	args, multiline := splitFlag(args, "-m")
	if len(args) < 2 {
		return usage("add <parent> <name> [-m]")
	}
	db, parent, err := a.target(args, false)
	if err != nil {
		return err
	}
	secret, err := a.readSecret(multiline)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(secret)

	id, err := db.AddNode(parent, strings.Join(args[1:], " "), secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Added", id)
	return nil
}

// Show prints the current secret of a node.
func (a *App) Show(_ context.Context, args []string) error {
	db, id, err := a.target(args, false)
	if err != nil {
		return err
	}
	secret, err := db.Secret(id)
	if errors.Is(err, common.ErrNoValue) {
		fmt.Fprintln(a.out, "(no value)")
		return nil
	}
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(secret)
	fmt.Fprintln(a.out, string(secret))
	return nil
}

// Set replaces the secret of a node; the previous one moves to history.
// An empty answer clears the value.
func (a *App) Set(_ context.Context, args []string) error {
	args, multiline := splitFlag(args, "-m")
	db, id, err := a.target(args, false)
	if err != nil {
		return err
	}
	secret, err := a.readSecret(multiline)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(secret)

	if secret == nil {
		err = db.ClearValue(id)
	} else {
		err = db.SetValue(id, secret)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Updated", id)
	return nil
}

// Rename sets a node name; "-" clears it.
func (a *App) Rename(_ context.Context, args []string) error {
	if len(args) < 2 {
		return usage("rename <node> <name|->")
	}
	db, id, err := a.target(args, false)
	if err != nil {
		return err
	}
	if args[1] == "-" && len(args) == 2 {
		err = db.ClearName(id)
	} else {
		err = db.SetName(id, strings.Join(args[1:], " "))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Renamed", id)
	return nil
}

// Remove deletes a node with its subtree and leaves a tombstone.
func (a *App) Remove(_ context.Context, args []string) error {
	db, id, err := a.target(args, false)
	if err != nil {
		return err
	}
	if err := db.Remove(id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Removed", id)
	return nil
}

func historyEntry(db *vault.Database, id uuid.UUID, ref string) (uuid.UUID, error) {
	entries, err := db.History(id)
	if err != nil {
		return uuid.Nil, err
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 || n > len(entries) {
		return uuid.Nil, fmt.Errorf("history entry %q: %w", ref, common.ErrNotFound)
	}
	return entries[n-1].ID, nil
}

// History lists the previous values of a node, or prints entry n.
func (a *App) History(_ context.Context, args []string) error {
	db, id, err := a.target(args, false)
	if err != nil {
		return err
	}
	if len(args) > 1 {
		entry, err := historyEntry(db, id, args[1])
		if err != nil {
			return err
		}
		secret, err := db.HistorySecret(id, entry)
		if err != nil {
			return err
		}
		defer shared.WipeByteArray(secret)
		fmt.Fprintln(a.out, string(secret))
		return nil
	}

	entries, err := db.History(id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "(no history)")
		return nil
	}
	for i, e := range entries {
		fmt.Fprintf(a.out, "%3d  %s  %s\n", i+1, e.ID, e.Modified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// Purge drops history entry n of a node for good.
func (a *App) Purge(_ context.Context, args []string) error {
	if len(args) < 2 {
		return usage("purge <node> <n>")
	}
	db, id, err := a.target(args, false)
	if err != nil {
		return err
	}
	entry, err := historyEntry(db, id, args[1])
	if err != nil {
		return err
	}
	if err := db.PurgeHistory(id, entry); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Purged", entry)
	return nil
}
