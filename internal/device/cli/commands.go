package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func (a *App) List(ctx context.Context, args []string) error {
	var t models.RecordType
	if len(args) > 0 {
		t = models.RecordType(args[0])
	}
	n := 0
	for r, err := range a.store.Scan(ctx, t) {
		if err != nil {
			return err
		}
		n++
		a.printf("%-36s %-12s v%-4d %s\n", r.ID, r.Type, r.Version, conflictMark(r))
	}
	if n == 0 {
		a.printf("no records\n")
	}
	return nil
}

func conflictMark(r *models.Record) string {
	if r.HadConflict {
		return "(conflict resolved)"
	}
	return ""
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("show <id>")
	}
	r, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("id:       %s\n", r.ID)
	a.printf("type:     %s\n", r.Type)
	a.printf("version:  %d\n", r.Version)
	a.printf("origin:   %s\n", r.OriginDevice)
	a.printf("updated:  %s\n", r.UpdatedAt.Local().Format(time.DateTime))
	if r.Deleted {
		a.printf("deleted:  yes\n")
	}
	if r.HadConflict {
		a.printf("conflict: resolved by tie-break\n")
	}
	a.printf("payload:  %s\n", r.Payload)
	return nil
}

func (a *App) Put(ctx context.Context, args []string) error {
	if len(args) != 3 || args[2] == "" {
		return usageError("put <type> <id> <json>")
	}
	t, id, payload := models.RecordType(args[0]), args[1], []byte(args[2])
	if !slices.Contains(models.RecordTypes, t) {
		return fmt.Errorf("unknown type %q, want one of %v", t, models.RecordTypes)
	}
	if !json.Valid(payload) {
		return errors.New("payload is not valid JSON")
	}

	var expected uint64
	cur, err := a.store.Get(ctx, id)
	switch {
	case err == nil:
		expected = cur.Version
	case !errors.Is(err, common.ErrNotFound):
		return err
	}

	r, err := a.store.Put(ctx, &models.Record{ID: id, Type: t, Payload: payload}, expected)
	if err != nil {
		return err
	}
	a.printf("saved %s v%d\n", r.ID, r.Version)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("delete <id>")
	}
	cur, err := a.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	r, err := a.store.Delete(ctx, cur.ID, cur.Version)
	if err != nil {
		return err
	}
	a.printf("deleted %s v%d\n", r.ID, r.Version)
	return nil
}

func (a *App) Status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("status <id>")
	}
	st, err := a.syncer.RecordStatus(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("%s: %s\n", args[0], st)
	return nil
}

func (a *App) Devices(ctx context.Context, _ []string) error {
	list, err := a.devices.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		a.printf("no known devices\n")
		return nil
	}
	for _, d := range list {
		a.printf("%-24s %-13s %-15s %-22s pending %d\n",
			d.DeviceID, d.Role, d.Reachability, d.Address, d.PendingChanges)
	}
	return nil
}

func (a *App) Pending(ctx context.Context, args []string) error {
	var id string
	if len(args) > 0 {
		id = args[0]
	} else {
		f, err := a.devices.Facility(ctx)
		if err != nil {
			return fmt.Errorf("no facility known: %w", err)
		}
		id = f.DeviceID
	}
	counts, err := a.syncer.PendingByType(ctx, id)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(models.RecordTypes))
	for _, t := range models.RecordTypes {
		parts = append(parts, fmt.Sprintf("%s %d", t, counts[t]))
	}
	a.printf("pending for %s: %s\n", id, strings.Join(parts, ", "))
	return nil
}

func (a *App) Sync(_ context.Context, args []string) error {
	var id string
	if len(args) > 0 {
		id = args[0]
	}
	if err := a.syncer.TriggerSyncNow(id); err != nil {
		return err
	}
	if id == "" {
		a.printf("sync started (%s mode)\n", a.syncer.Mode())
	} else {
		a.printf("sync with %s started\n", id)
	}
	return nil
}

func (a *App) Syncs(_ context.Context, _ []string) error {
	list := a.syncer.Statuses()
	if len(list) == 0 {
		a.printf("no sync targets yet\n")
		return nil
	}
	for _, st := range list {
		line := fmt.Sprintf("%-24s %-12s %3d%%", st.DeviceID, st.State, st.Progress)
		if !st.LastSuccess.IsZero() {
			line += " last ok " + st.LastSuccess.Local().Format(time.DateTime)
		}
		if st.LastError != "" {
			line += " error: " + st.LastError
		}
		if st.Failures > 0 {
			line += " (failures " + strconv.Itoa(st.Failures) + ")"
		}
		a.printf("%s\n", line)
	}
	return nil
}

func (a *App) Cancel(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("cancel <device>")
	}
	if a.syncer.CancelSync(args[0]) {
		a.printf("cancelling sync with %s\n", args[0])
	} else {
		a.printf("no sync running with %s\n", args[0])
	}
	return nil
}
