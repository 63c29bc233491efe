package raft

import (
	"math/rand"
	"time"
)

// TimerKind tells the election timer apart from the heartbeat timer.
type TimerKind uint8

// Timer kinds.
const (
	TimerElection TimerKind = iota + 1
	TimerHeartbeat
)

// String returns the name of the timer kind.
func (k TimerKind) String() string {
	switch k {
	case TimerElection:
		return "election"
	case TimerHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// TimerID identifies one scheduled timer instance. IDs grow monotonically
// per node, so a callback holding an older ID is recognisably stale.
type TimerID uint64

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler schedules one-shot callbacks.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler returns a Scheduler backed by the runtime timers.
func RealScheduler() Scheduler {
	return realScheduler{}
}

// timerService owns the single timer of the active mode. The node lock
// guards it.
type timerService struct {
	sched Scheduler
	rng   *rand.Rand

	electionMin time.Duration
	electionMax time.Duration
	override    time.Duration
	heartbeat   time.Duration

	gen    uint64
	id     TimerID
	kind   TimerKind
	timer  Timer
	live   bool
	onFire func(TimerID)
}

func newTimerService(cfg *NodeConfig, sched Scheduler, onFire func(TimerID)) *timerService {
	return &timerService{
		sched:       sched,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID))),
		electionMin: cfg.ElectionTimeoutMin,
		electionMax: cfg.ElectionTimeoutMax,
		override:    cfg.TimeoutOverride,
		heartbeat:   cfg.HeartbeatInterval,
		onFire:      onFire,
	}
}

// electionTimeout picks a fresh timeout in [min, max) unless overridden.
func (ts *timerService) electionTimeout() time.Duration {
	if ts.override > 0 {
		return ts.override
	}
	span := int64(ts.electionMax - ts.electionMin)
	return ts.electionMin + time.Duration(ts.rng.Int63n(span))
}

// schedule cancels the current timer and starts a new one of kind.
func (ts *timerService) schedule(kind TimerKind) TimerID {
	ts.cancel()

	d := ts.heartbeat
	if kind == TimerElection {
		d = ts.electionTimeout()
	}

	ts.gen++
	id := TimerID(ts.gen)
	ts.id = id
	ts.kind = kind
	ts.live = true
	ts.timer = ts.sched.AfterFunc(d, func() { ts.onFire(id) })
	return id
}

// cancel stops the current timer. Calling it again, or after the timer
// fired, has no effect.
func (ts *timerService) cancel() {
	if !ts.live {
		return
	}
	ts.live = false
	ts.timer.Stop()
}

// active reports the kind of the live timer with the given id.
func (ts *timerService) active(id TimerID) (TimerKind, bool) {
	if !ts.live || id != ts.id {
		return 0, false
	}
	return ts.kind, true
}

// current returns the id of the live timer, 0 if none.
func (ts *timerService) current() TimerID {
	if !ts.live {
		return 0
	}
	return ts.id
}
