package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/engine"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/store"
)

// Syncer is the part of the engine the console drives.
type Syncer interface {
	TriggerSyncNow(deviceID string) error
	CancelSync(deviceID string) bool
	Statuses() []engine.TargetStatus
	Mode() engine.Mode
	RecordStatus(ctx context.Context, id string) (models.SyncStatus, error)
	PendingByType(ctx context.Context, deviceID string) (map[models.RecordType]int, error)
}

// Devices lists what the directory knows.
type Devices interface {
	List(ctx context.Context) ([]*models.DeviceDescriptor, error)
	Facility(ctx context.Context) (*models.DeviceDescriptor, error)
}

type App struct {
	deviceID string
	store    *store.Store
	syncer   Syncer
	devices  Devices

	mu   sync.Mutex
	out  io.Writer
	mode engine.Mode
}

func NewApp(deviceID string, s *store.Store, syncer Syncer, devices Devices, out io.Writer) *App {
	return &App{deviceID: deviceID, store: s, syncer: syncer, devices: devices, out: out}
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) setOutput(w io.Writer) {
	a.mu.Lock()
	a.out = w
	a.mu.Unlock()
}

func (a *App) setMode(mode engine.Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()
	if changed {
		a.printf("Switched to %s mode\n", mode)
	}
}

func (a *App) prompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == "" {
		return fmt.Sprintf("fs %s> ", a.deviceID)
	}
	return fmt.Sprintf("fs %s (%s)> ", a.deviceID, a.mode)
}

// WatchMode reports exchange mode switches until ctx is done.
func (a *App) WatchMode(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.setMode(a.syncer.Mode())
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Observe prints finished and failed sessions. Pass it to the engine with
// engine.WithObserver.
func (a *App) Observe(st engine.TargetStatus) {
	switch {
	case st.State == engine.StateFailed:
		a.printf("sync with %s failed: %s\n", st.DeviceID, st.LastError)
	case st.State == engine.StateIdle && st.Progress == 100:
		a.printf("sync with %s done: %d pulled, %d pushed\n", st.DeviceID, st.Pulled, st.Pushed)
	}
}
