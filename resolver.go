package connect

import (
	"context"
	"slices"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-connect/metrics"
)

const (
	DefaultRefreshSchedule = "@every 30s"
	DefaultStaleAfter      = 5 * time.Minute
	DefaultRetryDelay      = 5 * time.Second
)

// ResolverOption customizes the authorization resolver
type ResolverOption func(*Resolver)

// WithResolverClock injects a custom clock (useful for tests).
func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithResolverLogger overrides the logger
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithApprovalCache shares the last good snapshot through cache
func WithApprovalCache(cache ApprovalCache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithRefreshSchedule overrides the cron spec of the background refresh
func WithRefreshSchedule(spec string) ResolverOption {
	return func(r *Resolver) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithRetryPolicy sets after how long failures trigger a retry and its delay
func WithRetryPolicy(staleAfter, delay time.Duration) ResolverOption {
	return func(r *Resolver) {
		if staleAfter > 0 {
			r.staleAfter = staleAfter
		}
		if delay > 0 {
			r.retryDelay = delay
		}
	}
}

// WithRetryScheduler replaces time.AfterFunc, returning a stop function
func WithRetryScheduler(fn func(d time.Duration, f func()) func() bool) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.afterFunc = fn
		}
	}
}

// Resolver keeps the role/screen permission list fresh and reconciles
// staff sessions against it. A failed refresh keeps the previous snapshot.
type Resolver struct {
	source     ApprovalSource
	cache      ApprovalCache
	schedule   string
	staleAfter time.Duration
	retryDelay time.Duration
	now        func() time.Time
	afterFunc  func(d time.Duration, f func()) func() bool
	logger     Logger

	mu           sync.RWMutex
	approvals    []Approval
	loaded       bool
	lastUpdate   time.Time
	retryPending bool
	stopRetry    func() bool
	cron         *cron.Cron
	runCtx       context.Context
	cancel       context.CancelFunc
}

// NewResolver returns a resolver reading approvals from source
func NewResolver(source ApprovalSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:     source,
		schedule:   DefaultRefreshSchedule,
		staleAfter: DefaultStaleAfter,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		logger:     defLogger{},
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.lastUpdate = r.now()
	return r
}

// Start runs an initial refresh and schedules the periodic one
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return nil
	}
	r.runCtx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := r.runCtx
	r.mu.Unlock()

	if err := r.Refresh(runCtx); err != nil {
		r.logger.Error("initial approvals refresh failed: %v", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if err := r.Refresh(runCtx); err != nil {
			r.logger.Error("approvals refresh failed: %v", err)
		}
	}); err != nil {
		r.cancel()
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid approvals refresh schedule")
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	r.logger.Info("approvals refresher started with schedule %s", r.schedule)
	return nil
}

// Stop cancels the periodic refresh and any pending retry
func (r *Resolver) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	if r.cancel != nil {
		r.cancel()
	}
	if r.stopRetry != nil {
		r.stopRetry()
		r.stopRetry = nil
	}
	r.retryPending = false
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Refresh fetches the permission list once
func (r *Resolver) Refresh(ctx context.Context) error {
	approvals, err := r.source.UserApprovals(ctx)
	if err != nil {
		metrics.ApprovalRefreshes.WithLabelValues("failure").Inc()
		r.restoreFromCache(ctx)
		r.scheduleRetryIfStale()
		return backendError(err, "failed to refresh user approvals")
	}

	r.mu.Lock()
	r.approvals = slices.Clone(approvals)
	r.loaded = true
	r.lastUpdate = r.now()
	r.mu.Unlock()

	metrics.ApprovalRefreshes.WithLabelValues("success").Inc()

	if r.cache != nil {
		if err := r.cache.Store(ctx, approvals); err != nil {
			r.logger.Error("approvals snapshot store failed: %v", err)
		}
	}
	return nil
}

// Snapshot returns the last good approval list
func (r *Resolver) Snapshot() ([]Approval, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, false
	}
	return slices.Clone(r.approvals), true
}

// LastUpdate is the time of the last successful refresh
func (r *Resolver) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// Reconcile recomputes the screens and portals of user from the snapshot.
// changed is true only when the computed sets differ from what user carries.
func (r *Resolver) Reconcile(user UserData) (UserData, bool) {
	approvals, ok := r.Snapshot()
	if !ok {
		return user, false
	}

	screens, portals := ScreensForRole(approvals, user.UserRole)
	if sameOptions(screens, user.Screens) && sameOptions(portals, user.PortalNames) {
		return user, false
	}

	updated := user
	updated.Screens = screens
	updated.PortalNames = portals
	return updated, true
}

// Session builds the authorization view of user
func (r *Resolver) Session(user UserData) AuthSession {
	return NewAuthSession(user, r.LastUpdate())
}

func (r *Resolver) restoreFromCache(ctx context.Context) {
	if r.cache == nil {
		return
	}

	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return
	}

	approvals, err := r.cache.Load(ctx)
	if err != nil {
		r.logger.Debug("approvals snapshot unavailable: %v", err)
		return
	}

	r.mu.Lock()
	if !r.loaded {
		r.approvals = approvals
		r.loaded = true
	}
	r.mu.Unlock()
}

func (r *Resolver) scheduleRetryIfStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retryPending || r.now().Sub(r.lastUpdate) <= r.staleAfter {
		return
	}

	ctx := r.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	r.retryPending = true
	r.logger.Info("approvals stale since %s, retrying in %s", r.lastUpdate.Format(time.RFC3339), r.retryDelay)
	r.stopRetry = r.afterFunc(r.retryDelay, func() {
		r.mu.Lock()
		r.retryPending = false
		r.stopRetry = nil
		r.mu.Unlock()

		if err := r.Refresh(ctx); err != nil {
			r.logger.Error("approvals retry failed: %v", err)
		}
	})
}
