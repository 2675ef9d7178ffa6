package daemon

import (
	"context"
	"time"

	"github.com/mschirtzinger/sitesync/internal/catalog"
)

// FolderStatus is the runtime view of one folder worker.
type FolderStatus struct {
	Path        string       `json:"path"`
	Kind        catalog.Kind `json:"kind"`
	Destination string       `json:"destination,omitempty"`
	State       string       `json:"state"`
}

// Status is the daemon's runtime summary.
type Status struct {
	StartedAt time.Time      `json:"started_at"`
	Dirty     bool           `json:"dirty"`
	Counts    catalog.Counts `json:"counts"`
	Folders   []FolderStatus `json:"folders"`
}

// Status reports catalog counts, the publish signal and each worker's state.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	counts, err := d.db.Counts(ctx)
	if err != nil {
		return Status{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		StartedAt: d.started,
		Dirty:     d.signal.IsDirty(),
		Counts:    counts,
		Folders:   make([]FolderStatus, 0, len(d.workers)),
	}
	for _, fw := range d.workers {
		st.Folders = append(st.Folders, FolderStatus{
			Path:        fw.w.Root(),
			Kind:        fw.folder.Kind,
			Destination: fw.folder.DestinationLabel,
			State:       fw.w.State().String(),
		})
	}
	return st, nil
}

func (d *Daemon) statusFunc(ctx context.Context) (any, error) {
	return d.Status(ctx)
}
