package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	logx "pushbridge/pkg/logx"
)

// Reconciler drives a renderer's channel registry toward desired settings.
// It also remembers the registry state left behind by the last pass, so
// message mapping can resolve channel references without another round-trip.
//
// Reconcile is idempotent: once the registry matches the desired set, another
// call performs no mutating operations.
type Reconciler struct {
	mgr Manager
	log logx.Logger

	mu    sync.RWMutex
	known []Channel
}

func NewReconciler(mgr Manager, log logx.Logger) *Reconciler {
	return &Reconciler{mgr: mgr, log: log.With(logx.String("comp", "channels"))}
}

// Result reports what a reconcile pass actually did.
type Result struct {
	Ensured []string // channels created or updated
	Deleted []string // stale channels removed
	Kept    []string // stale channels retained by the default-channel guard
}

func (r Result) Changed() bool { return len(r.Ensured)+len(r.Deleted) > 0 }

// Reconcile upserts every desired channel and removes registered channels
// that are no longer desired. The desired settings must already be validated.
func (r *Reconciler) Reconcile(ctx context.Context, desired Settings) (Result, error) {
	var res Result

	current, err := r.mgr.Channels(ctx)
	if err != nil {
		return res, fmt.Errorf("list channels: %w", err)
	}
	byID := make(map[string]Channel, len(current))
	for _, ch := range current {
		byID[ch.ID] = ch
	}

	for _, want := range desired.Desired() {
		if have, ok := byID[want.ID]; ok && have == want {
			continue
		}
		if err := r.mgr.EnsureChannel(ctx, want); err != nil {
			r.remember(byID)
			return res, fmt.Errorf("ensure channel %q: %w", want.ID, err)
		}
		byID[want.ID] = want
		res.Ensured = append(res.Ensured, want.ID)
	}

	wanted := make(map[string]struct{}, len(desired.Channels)+1)
	for _, ch := range desired.Desired() {
		wanted[ch.ID] = struct{}{}
	}

	for _, cur := range current {
		if _, ok := wanted[cur.ID]; ok {
			continue
		}
		// Never drop the channel backing the configured default.
		if cur.Name == desired.Default.ID {
			res.Kept = append(res.Kept, cur.ID)
			continue
		}
		if err := r.mgr.DeleteChannel(ctx, cur.ID); err != nil {
			r.remember(byID)
			return res, fmt.Errorf("delete channel %q: %w", cur.ID, err)
		}
		delete(byID, cur.ID)
		res.Deleted = append(res.Deleted, cur.ID)
	}

	r.remember(byID)

	if res.Changed() {
		r.log.Info("channels reconciled",
			logx.Int("ensured", len(res.Ensured)),
			logx.Int("deleted", len(res.Deleted)),
			logx.Int("kept", len(res.Kept)),
		)
	} else {
		r.log.Debug("channels already converged", logx.Int("desired", len(desired.Desired())))
	}
	return res, nil
}

// Known returns the registry as the last Reconcile left it. The view is
// best-effort: mutations made behind the reconciler's back show up only after
// the next pass.
func (r *Reconciler) Known() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Channel(nil), r.known...)
}

func (r *Reconciler) remember(byID map[string]Channel) {
	known := make([]Channel, 0, len(byID))
	for _, ch := range byID {
		known = append(known, ch)
	}
	sort.Slice(known, func(i, j int) bool { return known[i].ID < known[j].ID })
	r.mu.Lock()
	r.known = known
	r.mu.Unlock()
}
