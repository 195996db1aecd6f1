// Package cli provides the interactive parrotkeeper command-line client.
//
// It wires configuration, the local vault, the sync journal and the sync
// coordinator into a REPL. Typical flow: open (or init, or clone) the vault,
// edit nodes, and sync with the configured remote in the background.
//
// Key features:
//   - Create, open, clone and close the local vault
//   - Browse and edit the node tree, including value history
//   - Background sync with abort, recorded in a sqlite journal
//   - Autosave of edits after a short delay
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
