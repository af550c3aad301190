// Package quota implements QuotaLedger: a two-phase reserve/commit/release
// protocol for an account's per-minute and per-day send limits, scripted in
// Lua so the check-then-reserve and the eventual commit/release each happen
// atomically server-side and concurrent workers never race past a limit.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

// reservationTTLSeconds bounds how long a reservation counts against an
// account's limits before it is evicted unclaimed — a worker that reserves
// a slot and then dies before Commit/Release no longer leaks capacity past
// this window.
const reservationTTLSeconds = 60

// reserveLuaScript evicts expired reservations from the account's pending
// ZSET, sums what remains plus confirmed usage against both window limits,
// and — only if both pass — adds a new reservation member scored by its
// expiry.
const reserveLuaScript = `
local reservedKey = KEYS[1]
local minuteKey = KEYS[2]
local dayKey = KEYS[3]
local count = tonumber(ARGV[1])
local minuteLimit = tonumber(ARGV[2])
local dayLimit = tonumber(ARGV[3])
local minuteTTL = tonumber(ARGV[4])
local dayTTL = tonumber(ARGV[5])
local reservationTTL = tonumber(ARGV[6])
local reservationID = ARGV[7]
local now = tonumber(ARGV[8])

redis.call("ZREMRANGEBYSCORE", reservedKey, "-inf", now)

local members = redis.call("ZRANGE", reservedKey, 0, -1)
local reservedTotal = 0
for _, m in ipairs(members) do
    local sep = string.find(m, ":")
    reservedTotal = reservedTotal + tonumber(string.sub(m, sep + 1))
end

local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dayKey) or "0")

if minCurrent + reservedTotal + count > minuteLimit then
    return {0, 1, minCurrent}
end
if dayCurrent + reservedTotal + count > dayLimit then
    return {0, 2, dayCurrent}
end

redis.call("ZADD", reservedKey, now + reservationTTL, reservationID .. ":" .. count)
redis.call("EXPIRE", reservedKey, reservationTTL + 5)

return {1, 0, 0}
`

// commitLuaScript moves a reservation's count from the pending ZSET into
// the confirmed minute/day usage counters. It returns 0 if the reservation
// is gone (already committed, released, or expired).
const commitLuaScript = `
local reservedKey = KEYS[1]
local minuteKey = KEYS[2]
local dayKey = KEYS[3]
local reservationID = ARGV[1]
local minuteTTL = tonumber(ARGV[2])
local dayTTL = tonumber(ARGV[3])

local members = redis.call("ZRANGE", reservedKey, 0, -1)
local found, count = nil, 0
for _, m in ipairs(members) do
    local sep = string.find(m, ":")
    if string.sub(m, 1, sep - 1) == reservationID then
        found = m
        count = tonumber(string.sub(m, sep + 1))
        break
    end
end
if found == nil then
    return 0
end

redis.call("ZREM", reservedKey, found)

local newMin = redis.call("INCRBY", minuteKey, count)
if newMin == count then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end
local newDay = redis.call("INCRBY", dayKey, count)
if newDay == count then
    redis.call("EXPIRE", dayKey, dayTTL)
end

return 1
`

// releaseLuaScript drops a reservation from the pending ZSET without
// touching confirmed usage, freeing its count back to other reservers. It
// returns 0 if the reservation is gone already.
const releaseLuaScript = `
local reservedKey = KEYS[1]
local reservationID = ARGV[1]

local members = redis.call("ZRANGE", reservedKey, 0, -1)
local found = nil
for _, m in ipairs(members) do
    local sep = string.find(m, ":")
    if string.sub(m, 1, sep - 1) == reservationID then
        found = m
        break
    end
end
if found == nil then
    return 0
end

redis.call("ZREM", reservedKey, found)
return 1
`

// Reservation is the handle returned by Reserve; callers must eventually
// call Commit (on a successful send) or Release (otherwise) exactly once.
type Reservation struct {
	ID        string
	AccountID string
	Plan      domain.AccountPlan
	Count     int
}

// Ledger enforces per-account send quotas atomically via Redis.
type Ledger struct {
	redis         *redis.Client
	reserveScript *redis.Script
	commitScript  *redis.Script
	releaseScript *redis.Script
	windows       map[domain.AccountPlan]domain.QuotaWindow
}

// NewLedger builds a Ledger backed by redisClient. windows overrides the
// domain.DefaultQuotaWindows table; pass nil to use the defaults.
func NewLedger(redisClient *redis.Client, windows map[domain.AccountPlan]domain.QuotaWindow) *Ledger {
	if windows == nil {
		windows = domain.DefaultQuotaWindows
	}
	return &Ledger{
		redis:         redisClient,
		reserveScript: redis.NewScript(reserveLuaScript),
		commitScript:  redis.NewScript(commitLuaScript),
		releaseScript: redis.NewScript(releaseLuaScript),
		windows:       windows,
	}
}

func reservedKey(accountID string) string { return fmt.Sprintf("quota:%s:reserved", accountID) }

func minuteKey(accountID string, now time.Time) string {
	return fmt.Sprintf("quota:%s:min:%d", accountID, now.Unix()/60)
}

func dayKey(accountID string, now time.Time) string {
	return fmt.Sprintf("quota:%s:day:%s", accountID, now.UTC().Format("2006-01-02"))
}

// Reserve atomically reserves `count` send slots for accountID under plan,
// counting both confirmed usage and any other account reservation still
// within its TTL window. It returns *errs.QuotaExceeded (wrapping
// errs.ErrQuotaExceeded) when either window would be exceeded, without
// reserving anything. The reservation expires unclaimed after
// reservationTTLSeconds if neither Commit nor Release is called.
func (l *Ledger) Reserve(ctx context.Context, accountID string, plan domain.AccountPlan, count int) (*Reservation, error) {
	window, ok := l.windows[plan]
	if !ok {
		return nil, fmt.Errorf("quota: unknown plan %q", plan)
	}

	now := time.Now()
	reservationID := uuid.New().String()

	result, err := l.reserveScript.Run(ctx, l.redis,
		[]string{reservedKey(accountID), minuteKey(accountID, now), dayKey(accountID, now)},
		count, window.PerMinuteLimit, window.PerDayLimit,
		120,   // minute usage TTL, 2x the bucket width
		90000, // day usage TTL, a bit over 25h
		reservationTTLSeconds,
		reservationID,
		now.Unix(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("quota: reserve failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	if allowed {
		return &Reservation{ID: reservationID, AccountID: accountID, Plan: plan, Count: count}, nil
	}

	reason := result[1].(int64)
	var qe *errs.QuotaExceeded
	switch reason {
	case 1:
		qe = &errs.QuotaExceeded{Plan: string(plan), Window: "minute", Limit: window.PerMinuteLimit, RetryAfter: int64(60 - now.Second())}
	case 2:
		utc := now.UTC()
		secsLeftInDay := int64(86400 - (utc.Hour()*3600 + utc.Minute()*60 + utc.Second()))
		qe = &errs.QuotaExceeded{Plan: string(plan), Window: "day", Limit: window.PerDayLimit, RetryAfter: secsLeftInDay}
	default:
		return nil, errs.ErrQuotaExceeded
	}
	logDenied(accountID, qe)
	return nil, qe
}

// Commit confirms a reservation after its send succeeded, moving its count
// from pending into the account's confirmed minute/day usage counters. It
// returns errs.ErrReservationUnknown if the reservation was already
// resolved (double commit, or its TTL already expired).
func (l *Ledger) Commit(ctx context.Context, res *Reservation) error {
	now := time.Now()
	n, err := l.commitScript.Run(ctx, l.redis,
		[]string{reservedKey(res.AccountID), minuteKey(res.AccountID, now), dayKey(res.AccountID, now)},
		res.ID, 120, 90000,
	).Int64()
	if err != nil {
		return fmt.Errorf("quota: commit failed: %w", err)
	}
	if n == 0 {
		return errs.ErrReservationUnknown
	}
	return nil
}

// Release returns a reservation's count to the pool without confirming it
// as sent — used when a send attempt is abandoned (permanent failure,
// campaign cancellation, retries exhausted). It returns
// errs.ErrReservationUnknown if the reservation was already resolved.
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	n, err := l.releaseScript.Run(ctx, l.redis, []string{reservedKey(res.AccountID)}, res.ID).Int64()
	if err != nil {
		return fmt.Errorf("quota: release failed: %w", err)
	}
	if n == 0 {
		return errs.ErrReservationUnknown
	}
	return nil
}

// Usage reports the current confirmed minute/day counters for an account,
// for diagnostics and the control-plane's status endpoint. It does not
// include pending reservations.
func (l *Ledger) Usage(ctx context.Context, accountID string) (minute, day int64, err error) {
	now := time.Now()

	pipe := l.redis.Pipeline()
	minCmd := pipe.Get(ctx, minuteKey(accountID, now))
	dayCmd := pipe.Get(ctx, dayKey(accountID, now))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("quota: usage pipeline: %w", err)
	}

	minute, _ = minCmd.Int64()
	day, _ = dayCmd.Int64()
	return minute, day, nil
}

// Close releases the Redis connection.
func (l *Ledger) Close() error {
	if l.redis == nil {
		return nil
	}
	return l.redis.Close()
}

func logDenied(accountID string, e *errs.QuotaExceeded) {
	logger.Warn("quota reservation denied", "account", accountID, "window", e.Window, "limit", e.Limit, "retry_after", e.RetryAfter)
}
