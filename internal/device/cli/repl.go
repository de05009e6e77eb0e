package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// commands is the surface the REPL dispatches to. App implements it.
type commands interface {
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	Put(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Status(ctx context.Context, args []string) error
	Devices(ctx context.Context, args []string) error
	Pending(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Syncs(ctx context.Context, args []string) error
	Cancel(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  list [type]              list records, optionally of one type
  show <id>                show a record
  put <type> <id> <json>   create or update a record
  delete <id>              delete a record
  status <id>              sync status of a record
  devices                  known devices
  pending [device]         unsynced changes per type (facility by default)
  sync [device]            start syncing now
  syncs                    progress of every target
  cancel <device>          cancel a running sync
  exit | quit              leave
`

// runREPL reads commands until EOF, exit or ctx is done. Command errors are
// printed and the loop carries on.
func runREPL(ctx context.Context, c commands, in lineReader, out io.Writer) {
	for ctx.Err() == nil {
		line, err := in.ReadLine()
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var fn func(context.Context, []string) error
		switch cmd {
		case "help":
			io.WriteString(out, helpText)
		case "l", "list":
			fn = c.List
		case "show":
			fn = c.Show
		case "put":
			// the payload is the rest of the line, spaces included
			if len(args) >= 2 {
				rest := strings.TrimSpace(line)
				for range 3 {
					_, rest, _ = strings.Cut(rest, " ")
					rest = strings.TrimSpace(rest)
				}
				args = append(args[:2:2], rest)
			}
			fn = c.Put
		case "delete":
			fn = c.Delete
		case "status":
			fn = c.Status
		case "devices":
			fn = c.Devices
		case "pending":
			fn = c.Pending
		case "sync":
			fn = c.Sync
		case "syncs":
			fn = c.Syncs
		case "cancel":
			fn = c.Cancel
		case "exit", "quit":
			io.WriteString(out, "Bye!\n")
			return
		default:
			io.WriteString(out, "Unknown command: "+cmd+"\n")
		}

		if fn == nil {
			continue
		}
		if err := fn(ctx, args); err != nil {
			var u usageError
			if errors.As(err, &u) {
				io.WriteString(out, "Usage: "+string(u)+"\n")
				continue
			}
			io.WriteString(out, "Error: "+err.Error()+"\n")
		}
	}
}

// Run starts the console on stdin/stdout and blocks until the user leaves
// or ctx is done.
func (a *App) Run(ctx context.Context) error {
	in, out, done, err := openInput(os.Stdin, a.out, a.prompt)
	if err != nil {
		return err
	}
	defer done()
	a.setOutput(out)

	a.printf("fieldsync console (type 'help' for commands)\n")
	runREPL(ctx, a, in, out)
	return nil
}
