package notifications

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineSetKey   = "presence:online"
	presenceLastSeenPrefix = "presence:last_seen:"
	presenceLastSeenTTL    = 90 * time.Second
	presenceOfflineGrace   = 5 * time.Second
	presenceReaperInterval = 60 * time.Second
)

// PresenceConfig tunes recipient presence tracking.
type PresenceConfig struct {
	LastSeenTTL        time.Duration
	OfflineGracePeriod time.Duration
	ReaperInterval     time.Duration
	OnOnline           func(userID uint)
	OnOffline          func(userID uint)
}

// Presence tracks which recipients have a live connection. Local connection
// counts answer fast, and when Redis is available last-seen keys let other
// nodes see the recipient too. Offline transitions are debounced by a grace
// window so a quick reconnect does not flap.
type Presence struct {
	rdb *redis.Client

	mu              sync.RWMutex
	connCounts      map[uint]int
	offlineTimers   map[uint]*time.Timer
	offlineNotified map[uint]bool

	lastSeenTTL    time.Duration
	offlineGrace   time.Duration
	reaperInterval time.Duration

	onOnline  func(userID uint)
	onOffline func(userID uint)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresence creates a tracker. With a Redis client it also starts a reaper
// that clears entries whose last-seen key expired.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:             rdb,
		connCounts:      make(map[uint]int),
		offlineTimers:   make(map[uint]*time.Timer),
		offlineNotified: make(map[uint]bool),
		lastSeenTTL:     presenceLastSeenTTL,
		offlineGrace:    presenceOfflineGrace,
		reaperInterval:  presenceReaperInterval,
		onOnline:        cfg.OnOnline,
		onOffline:       cfg.OnOffline,
		stopCh:          make(chan struct{}),
	}
	if cfg.LastSeenTTL > 0 {
		p.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.OfflineGracePeriod > 0 {
		p.offlineGrace = cfg.OfflineGracePeriod
	}
	if cfg.ReaperInterval > 0 {
		p.reaperInterval = cfg.ReaperInterval
	}

	if p.rdb != nil {
		go p.reaperLoop()
	}
	return p
}

// SetCallbacks replaces the online/offline transition callbacks.
func (p *Presence) SetCallbacks(onOnline, onOffline func(userID uint)) {
	p.mu.Lock()
	p.onOnline = onOnline
	p.onOffline = onOffline
	p.mu.Unlock()
}

// SetOfflineGracePeriod shortens or lengthens the offline debounce. Used by
// tests.
func (p *Presence) SetOfflineGracePeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.offlineGrace = d
	p.mu.Unlock()
}

// Register records one new connection for the recipient.
func (p *Presence) Register(ctx context.Context, userID uint) {
	wasOnline := p.IsOnline(ctx, userID)

	p.mu.Lock()
	if t, ok := p.offlineTimers[userID]; ok {
		t.Stop()
		delete(p.offlineTimers, userID)
	}
	p.connCounts[userID]++
	p.offlineNotified[userID] = false
	p.mu.Unlock()

	p.Touch(ctx, userID)
	if !wasOnline {
		p.notifyOnline(userID)
	}
}

// Unregister drops one connection. When the last connection for a recipient
// closes, the offline callback fires after the grace window unless they
// reconnect first.
func (p *Presence) Unregister(_ context.Context, userID uint) {
	p.mu.Lock()
	if n, ok := p.connCounts[userID]; ok {
		n--
		if n > 0 {
			p.connCounts[userID] = n
			p.mu.Unlock()
			return
		}
		delete(p.connCounts, userID)
	}

	if t, ok := p.offlineTimers[userID]; ok {
		t.Stop()
	}
	p.offlineTimers[userID] = time.AfterFunc(p.offlineGrace, func() {
		p.confirmOffline(context.Background(), userID)
	})
	p.mu.Unlock()
}

// Touch refreshes the recipient's last-seen marker in Redis.
func (p *Presence) Touch(ctx context.Context, userID uint) {
	if p.rdb == nil {
		return
	}
	uid := strconv.FormatUint(uint64(userID), 10)
	if err := p.rdb.SAdd(ctx, presenceOnlineSetKey, uid).Err(); err != nil {
		log.Printf("presence SADD failed for user %d: %v", userID, err)
	}
	if err := p.rdb.SetEx(ctx, lastSeenKey(userID),
		strconv.FormatInt(time.Now().Unix(), 10), p.lastSeenTTL).Err(); err != nil {
		log.Printf("presence SETEX failed for user %d: %v", userID, err)
	}
}

// IsOnline reports whether the recipient has a live connection on this node
// or, per Redis, anywhere in the cluster.
func (p *Presence) IsOnline(ctx context.Context, userID uint) bool {
	p.mu.RLock()
	local := p.connCounts[userID] > 0
	p.mu.RUnlock()
	if local {
		return true
	}

	if p.rdb == nil {
		return false
	}
	exists, err := p.rdb.Exists(ctx, lastSeenKey(userID)).Result()
	return err == nil && exists > 0
}

// Stop halts the reaper and cancels pending offline timers.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		for userID, timer := range p.offlineTimers {
			if timer != nil {
				timer.Stop()
			}
			delete(p.offlineTimers, userID)
		}
		p.mu.Unlock()
	})
}

// reapOnce removes set members whose last-seen key expired. Exposed to tests.
func (p *Presence) reapOnce(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	members, err := p.rdb.SMembers(ctx, presenceOnlineSetKey).Result()
	if err != nil {
		return
	}

	for _, raw := range members {
		id64, parseErr := strconv.ParseUint(raw, 10, 32)
		if parseErr != nil {
			continue
		}
		userID := uint(id64)
		exists, existsErr := p.rdb.Exists(ctx, lastSeenKey(userID)).Result()
		if existsErr != nil || exists > 0 {
			continue
		}

		_ = p.rdb.SRem(ctx, presenceOnlineSetKey, raw).Err()

		p.mu.RLock()
		hasLocal := p.connCounts[userID] > 0
		p.mu.RUnlock()
		if !hasLocal {
			p.notifyOffline(userID)
		}
	}
}

func (p *Presence) reaperLoop() {
	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce(ctx)
		}
	}
}

func (p *Presence) confirmOffline(ctx context.Context, userID uint) {
	p.mu.Lock()
	if p.connCounts[userID] > 0 {
		delete(p.offlineTimers, userID)
		p.mu.Unlock()
		return
	}
	delete(p.offlineTimers, userID)
	p.mu.Unlock()

	if p.rdb != nil {
		exists, err := p.rdb.Exists(ctx, lastSeenKey(userID)).Result()
		if err == nil && exists > 0 {
			// Another node refreshed presence; the recipient is still online.
			return
		}
		_ = p.rdb.SRem(ctx, presenceOnlineSetKey,
			strconv.FormatUint(uint64(userID), 10)).Err()
	}

	p.notifyOffline(userID)
}

func (p *Presence) notifyOnline(userID uint) {
	p.mu.Lock()
	p.offlineNotified[userID] = false
	cb := p.onOnline
	p.mu.Unlock()
	if cb != nil {
		cb(userID)
	}
}

func (p *Presence) notifyOffline(userID uint) {
	p.mu.Lock()
	if p.offlineNotified[userID] {
		p.mu.Unlock()
		return
	}
	p.offlineNotified[userID] = true
	cb := p.onOffline
	p.mu.Unlock()
	if cb != nil {
		cb(userID)
	}
}

func lastSeenKey(userID uint) string {
	return presenceLastSeenPrefix + strconv.FormatUint(uint64(userID), 10)
}
