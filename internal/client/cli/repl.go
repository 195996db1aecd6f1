package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. Every
// handler receives the words after the command name.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isOpen() bool
	Init(ctx context.Context, args []string) error
	Open(ctx context.Context, args []string) error
	Clone(ctx context.Context, args []string) error
	Close(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Tree(ctx context.Context, args []string) error
	Add(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Set(ctx context.Context, args []string) error
	Rename(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	History(ctx context.Context, args []string) error
	Purge(ctx context.Context, args []string) error
	Save(ctx context.Context, args []string) error
	Passwd(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Abort(ctx context.Context, args []string) error
	Journal(ctx context.Context, args []string) error
}

const (
	helpClosed = "Available commands: init, open, clone, journal, help, exit"
	helpOpen   = "Available commands: ls, tree, add, show, set, rename, rm, history, purge, save, passwd, sync, abort, journal, close, help, exit"
)

// runREPL starts the read-eval-print loop of the parrotkeeper CLI.
//
// It reads a line from reader, parses the first word as the command, and
// dispatches to methods on 'a'. Handler errors are printed and the loop goes
// on. The loop exits on EOF or when the user types "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	No vault open:
//	  - init                   create a vault
//	  - open                   open the local vault
//	  - clone                  download the remote vault as the local one
//	  - journal [n]            show recent syncs
//	  - help | exit | quit
//
//	Vault open:
//	  - ls [node]              list children
//	  - tree [node]            print the subtree
//	  - add <parent> <name>    add a node, prompting for its secret
//	  - show <node>            print the secret
//	  - set <node> [-m]        replace the secret (-m reads several lines)
//	  - rename <node> <name>   rename, "-" clears the name
//	  - rm <node>              remove a subtree
//	  - history <node> [n]     list history, or print entry n
//	  - purge <node> <n>       drop history entry n
//	  - save | passwd | close
//	  - sync | abort           start or cancel a background sync
//
// Nodes are addressed by id or by a slash separated name path from the root.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("pk%s> ", statusFn()))
		line, readErr := reader.ReadString('\n')
		if readErr != nil && (!errors.Is(readErr, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var handler func(context.Context, []string) error
		switch cmd {
		case "help":
			if a.isOpen() {
				printlnFn(helpOpen)
			} else {
				printlnFn(helpClosed)
			}
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "init":
			handler = a.Init
		case "open":
			handler = a.Open
		case "clone":
			handler = a.Clone
		case "close":
			handler = a.Close
		case "ls", "l":
			handler = a.List
		case "tree":
			handler = a.Tree
		case "add":
			handler = a.Add
		case "show":
			handler = a.Show
		case "set":
			handler = a.Set
		case "rename":
			handler = a.Rename
		case "rm":
			handler = a.Remove
		case "history":
			handler = a.History
		case "purge":
			handler = a.Purge
		case "save":
			handler = a.Save
		case "passwd":
			handler = a.Passwd
		case "sync":
			handler = a.Sync
		case "abort":
			handler = a.Abort
		case "journal":
			handler = a.Journal
		default:
			printlnFn("Unknown command:", cmd)
			continue
		}

		if err := handler(ctx, args); err != nil {
			printlnFn("Error:", err)
		}
		if readErr != nil {
			return
		}
	}
}
