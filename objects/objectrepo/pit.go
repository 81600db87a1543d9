package objectrepo

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anyproto/anytype-object-store/docstore"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

const (
	defaultPITKeepAlive = 5 * time.Minute
	finderPerPage       = 100
)

func (r *objectRepo) OpenPointInTimeForTypes(ctx context.Context, types []string, opts OpenPITOptions) (string, error) {
	var registered []string
	for _, typ := range types {
		if r.registry.IsRegistered(typ) {
			registered = append(registered, typ)
		}
	}
	if len(registered) == 0 {
		return "", soerror.NewBadRequest("no registered types to open a point-in-time for")
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultPITKeepAlive
	}
	pitID, err := r.client.OpenPointInTime(ctx, docstore.OpenPITRequest{
		Indexes:   r.indexesForTypes(registered),
		KeepAlive: keepAlive,
	})
	if err != nil {
		return "", storeError(err)
	}
	return pitID, nil
}

func (r *objectRepo) ClosePointInTime(ctx context.Context, pitID string) error {
	if err := r.client.ClosePointInTime(ctx, pitID); err != nil {
		if errors.Is(err, docstore.ErrPITNotFound) {
			return soerror.NewNotFound("point-in-time", pitID)
		}
		return storeError(err)
	}
	return nil
}

// Finder pages through an entire result set inside one point-in-time
// snapshot. Close is idempotent; Iterate closes a finder-owned snapshot on
// its way out.
type Finder interface {
	Iterate(ctx context.Context, fn func(resp *FindResponse) error) error
	Close(ctx context.Context) error
}

// CreatePointInTimeFinder prepares a finder over the given find options.
// When opts.PIT is set the caller owns the snapshot and its lifetime;
// otherwise the finder opens one on first use and closes it itself.
func (r *objectRepo) CreatePointInTimeFinder(opts FindOptions) Finder {
	return &pitFinder{repo: r, opts: opts}
}

type pitFinder struct {
	repo *objectRepo
	opts FindOptions

	mu      sync.Mutex
	pitID   string
	ownsPIT bool
	closed  bool
}

func (f *pitFinder) Iterate(ctx context.Context, fn func(resp *FindResponse) error) error {
	if err := f.open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := f.Close(ctx); err != nil {
			log.Warn("finder close failed", zap.Error(err))
		}
	}()

	opts := f.opts
	opts.Page = 0
	if opts.PerPage < 1 {
		opts.PerPage = finderPerPage
	}
	opts.PIT = &PITParams{ID: f.pitID}
	for {
		resp, err := f.repo.Find(ctx, opts)
		if err != nil {
			return err
		}
		if len(resp.SavedObjects) == 0 {
			return nil
		}
		if err = fn(resp); err != nil {
			return err
		}
		if len(resp.SavedObjects) < opts.PerPage {
			return nil
		}
		last := resp.SavedObjects[len(resp.SavedObjects)-1]
		if len(last.Sort) == 0 {
			return nil
		}
		opts.SearchAfter = last.Sort
	}
}

func (f *pitFinder) open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pitID != "" {
		return nil
	}
	if f.opts.PIT != nil {
		f.pitID = f.opts.PIT.ID
		return nil
	}
	types := f.opts.Types
	if len(types) == 0 {
		for typ := range f.opts.TypeToNamespacesMap {
			types = append(types, typ)
		}
	}
	pitID, err := f.repo.OpenPointInTimeForTypes(ctx, types, OpenPITOptions{})
	if err != nil {
		return err
	}
	f.pitID = pitID
	f.ownsPIT = true
	return nil
}

func (f *pitFinder) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.ownsPIT {
		f.closed = true
		return nil
	}
	f.closed = true
	return f.repo.ClosePointInTime(ctx, f.pitID)
}
