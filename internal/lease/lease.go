package lease

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/types"
)

// ErrBusy means an unexpired lease is already held for the key.
var ErrBusy = errors.New("lease already held")

// Token proves which acquisition a Release belongs to. Releasing a token that
// no longer matches the persisted flag (expired and re-acquired elsewhere) is
// a no-op.
type Token struct {
	Key      string
	Acquired time.Time
}

// Leaser is an advisory per-key lease with a TTL. It is not a mutex: two
// callers can still race between Held and Acquire, so every writer re-checks
// entity existence before persisting. The TTL exists to recover availability
// after a holder that never released.
type Leaser interface {
	Acquire(ctx context.Context, key string) (Token, error)
	Release(ctx context.Context, tok Token) error
	Held(ctx context.Context, key string) (bool, error)
}

// FlagLeaser persists leases as GenerationFlag entries in the generationFlags
// collection, so the UI can read them back as "is generating" indicators.
type FlagLeaser struct {
	store kv.Store
	log   *logger.Logger
	ttl   time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func NewFlagLeaser(store kv.Store, log *logger.Logger, ttl time.Duration) *FlagLeaser {
	return &FlagLeaser{
		store: store,
		log:   log.With("component", "FlagLeaser"),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (l *FlagLeaser) loadFlags(ctx context.Context) (map[string]types.GenerationFlag, error) {
	raw, err := l.store.Load(ctx, kv.CollectionGenerationFlags)
	if err != nil {
		return nil, err
	}
	flags := make(map[string]types.GenerationFlag)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &flags); err != nil {
			// A corrupt flags blob only blocks generation; start fresh.
			l.log.Warn("generation flags unreadable, resetting", "error", err)
			flags = make(map[string]types.GenerationFlag)
		}
	}
	return flags, nil
}

func (l *FlagLeaser) saveFlags(ctx context.Context, flags map[string]types.GenerationFlag) error {
	raw, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	return l.store.Save(ctx, kv.CollectionGenerationFlags, raw)
}

func (l *FlagLeaser) Acquire(ctx context.Context, key string) (Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	flags, err := l.loadFlags(ctx)
	if err != nil {
		return Token{}, err
	}
	now := l.now()
	if flag, ok := flags[key]; ok && flag.Active && !flag.Expired(l.ttl, now) {
		return Token{}, ErrBusy
	}
	flags[key] = types.GenerationFlag{Active: true, Timestamp: now}
	if err := l.saveFlags(ctx, flags); err != nil {
		return Token{}, err
	}
	return Token{Key: key, Acquired: now}, nil
}

func (l *FlagLeaser) Release(ctx context.Context, tok Token) error {
	if tok.Key == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	flags, err := l.loadFlags(ctx)
	if err != nil {
		return err
	}
	flag, ok := flags[tok.Key]
	if !ok || !flag.Timestamp.Equal(tok.Acquired) {
		return nil
	}
	delete(flags, tok.Key)
	return l.saveFlags(ctx, flags)
}

func (l *FlagLeaser) Held(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	flags, err := l.loadFlags(ctx)
	if err != nil {
		return false, err
	}
	flag, ok := flags[key]
	if !ok || !flag.Active {
		return false, nil
	}
	if flag.Expired(l.ttl, l.now()) {
		// Lazy cleanup of stale flags.
		delete(flags, key)
		if err := l.saveFlags(ctx, flags); err != nil {
			l.log.Warn("stale flag cleanup failed", "key", key, "error", err)
		}
		return false, nil
	}
	return true, nil
}
