// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/scaramanga/flowtrack/internal/logging"
	"github.com/scaramanga/flowtrack/internal/memchunk"
	"github.com/scaramanga/flowtrack/internal/objcache"
)

// MinTTL is the default TTL evasion floor (§4.6): packets below this
// are dropped and counted without touching session state.
const MinTTL = 1

// Config configures a Tracker's session table sizing, allocator
// reservation, and timeout policy. The reap policy (§6 Open Question
// decision) is a config knob, not a hardcoded constant.
type Config struct {
	HashBuckets       int // TCPHASH, rounded up to a power of two
	SessionPoolChunks int // chunks reserved from the region for sessions
	MinTTL            uint8
	Poison            bool
	Timeouts          map[TimeoutBucket]time.Duration
}

// DefaultConfig returns sane defaults: a 1024-bucket hash table, a
// 64-chunk session reservation, the TTL floor from §4.6, and a 90
// second-equivalent SYN1 timeout mirroring the original's disabled
// TCP_TMO_SYN1.
func DefaultConfig() Config {
	return Config{
		HashBuckets:       1024,
		SessionPoolChunks: 64,
		MinTTL:            MinTTL,
		Timeouts: map[TimeoutBucket]time.Duration{
			BucketSYN1: 90 * time.Second,
		},
	}
}

// Stats are the tracker's diagnostic counters (§7, §8). All fields are
// updated with sync/atomic so the observability layer can read a
// consistent snapshot concurrently with Track (§5 concurrency notes).
type Stats struct {
	Segments  int64
	TTLErrs   int64
	CsumErrs  int64
	OptsErrs  int64
	Anomalies int64
	Created   int64
	Freed     int64
	Exhausted int64
	MaxActive int64
}

// ClosedSession is a snapshot of a session at the moment it is freed,
// handed to an optional history sink for observability (§7: diagnostic
// surfacing, never a behavioral dependency of the tracker itself).
type ClosedSession struct {
	CAddr, SAddr uint32
	CPort, SPort uint16
	FinalState   SessionState
	Reason       string // graceful | reset | timeout
}

// Tracker is the flow-tracking core (C4-C7): a session table backed by
// a chunk-backed objcache, a timeout queue, and the entry point that
// orchestrates segment parsing, lookup, and the state machine.
type Tracker struct {
	cfg    Config
	sink   logging.Sink
	region *memchunk.Region
	pool   *memchunk.Pool
	cache  *objcache.Cache[Session]
	table  *sessionTable
	tmo    *timeoutQueue

	history func(ClosedSession)

	stats Stats
}

// SetHistorySink installs a callback invoked with a ClosedSession
// snapshot every time a session is freed, whether by graceful close,
// reset, or reap. It is purely observational: Track and Reap never
// consult it, and a nil sink (the default) costs nothing beyond one
// nil check per free.
func (tr *Tracker) SetHistorySink(fn func(ClosedSession)) { tr.history = fn }

// NewTracker constructs a tracker backed by region, reserving its own
// pool of cfg.SessionPoolChunks chunks (§4.7: "tcpflow_init").
func NewTracker(region *memchunk.Region, cfg Config, sink logging.Sink) (*Tracker, error) {
	if sink == nil {
		sink = logging.Discard()
	}
	if cfg.HashBuckets <= 0 {
		cfg = DefaultConfig()
	}

	pool, err := region.NewPool("tcpflow-sessions", cfg.SessionPoolChunks)
	if err != nil {
		return nil, fmt.Errorf("flowtrack: reserving session pool: %w", err)
	}
	cache, err := objcache.New[Session](region, pool, "tcp_session", cfg.Poison)
	if err != nil {
		return nil, fmt.Errorf("flowtrack: creating session cache: %w", err)
	}
	table, err := newSessionTable(cache, cfg.HashBuckets)
	if err != nil {
		return nil, fmt.Errorf("flowtrack: building session table: %w", err)
	}

	return &Tracker{
		cfg:    cfg,
		sink:   sink,
		region: region,
		pool:   pool,
		cache:  cache,
		table:  table,
		tmo:    newTimeoutQueue(cache, cfg.Timeouts),
	}, nil
}

// Close tears down the tracker's session pool (§4.7: "tcpflow_fini").
// Callers must have freed every session first; Close does not force
// teardown of live sessions.
func (tr *Tracker) Close() error {
	tr.cache.Close()
	return tr.pool.Destroy()
}

// Snapshot returns a point-in-time snapshot of the tracker's counters.
func (tr *Tracker) Snapshot() Stats {
	return Stats{
		Segments:  atomic.LoadInt64(&tr.stats.Segments),
		TTLErrs:   atomic.LoadInt64(&tr.stats.TTLErrs),
		CsumErrs:  atomic.LoadInt64(&tr.stats.CsumErrs),
		OptsErrs:  atomic.LoadInt64(&tr.stats.OptsErrs),
		Anomalies: atomic.LoadInt64(&tr.stats.Anomalies),
		Created:   atomic.LoadInt64(&tr.stats.Created),
		Freed:     atomic.LoadInt64(&tr.stats.Freed),
		Exhausted: atomic.LoadInt64(&tr.stats.Exhausted),
		MaxActive: atomic.LoadInt64(&tr.stats.MaxActive),
	}
}

// PoolStats reports the session objcache pool's chunk reservation and
// its current free-chunk count, the pool-watermark figures the
// observability layer surfaces alongside Stats.
func (tr *Tracker) PoolStats() (free, reserve int) {
	return tr.pool.Numfree(), tr.pool.Reserve()
}

// RegionStats reports the backing chunk region's total and globally
// free chunk counts.
func (tr *Tracker) RegionStats() memchunk.Stats {
	return tr.region.Stats()
}

// ActiveSessions returns the current session count, for observability.
func (tr *Tracker) ActiveSessions() int { return tr.table.Count() }

// Track is the entry point (C7, §4.7): build a segment descriptor,
// enforce the TTL floor and checksum, look up or create a session, run
// the state machine, and free the session if it reaches Closed.
//
// Track is not goroutine-safe: exactly one goroutine may call it at a
// time (§5). The maintenance scheduler and observability server read
// state through Snapshot/ActiveSessions, which use atomics rather than
// a tracker-wide lock, so they may run concurrently with Track without
// violating this single-writer contract.
func (tr *Tracker) Track(pkt Packet, dcb DCB) error {
	seg := BuildSegment(pkt, dcb)
	atomic.AddInt64(&tr.stats.Segments, 1)

	if seg.OptsMalformed {
		atomic.AddInt64(&tr.stats.OptsErrs, 1)
		tr.sink.Logf(logging.Debug, logging.RateLimit, "malformed TCP option length, clamped to advance")
	}

	if dcb.IP.TTL() < tr.cfg.MinTTL {
		atomic.AddInt64(&tr.stats.TTLErrs, 1)
		tr.sink.Logf(logging.Warn, logging.RateLimit, "packet dropped: TTL %d below floor %d", dcb.IP.TTL(), tr.cfg.MinTTL)
		return nil
	}
	if !tcpChecksum(dcb.IP, dcb.TCP.Segment(seg.Len)) {
		atomic.AddInt64(&tr.stats.CsumErrs, 1)
		tr.sink.Logf(logging.Warn, logging.RateLimit, "packet dropped: bad TCP checksum")
		return nil
	}

	h, s, toServer := tr.table.lookup(seg.Hash, dcb.IP.SrcAddr(), dcb.TCP.SrcPort(), dcb.IP.DstAddr(), dcb.TCP.DstPort())
	if s == nil {
		if _, _, err := tr.newSession(seg, dcb); err != nil {
			if err == memchunk.ErrExhausted {
				atomic.AddInt64(&tr.stats.Exhausted, 1)
				tr.sink.Logf(logging.Crit, logging.RateLimit, "session allocator exhausted, packet dropped")
				return nil
			}
			// Not a SYN-only opener: a stray non-SYN packet with no
			// matching session (§4.6, E3) is a protocol anomaly, not
			// an error.
			atomic.AddInt64(&tr.stats.Anomalies, 1)
			tr.sink.Logf(logging.Debug, logging.RateLimit, "stray non-SYN packet, no session: %v", err)
		}
		return nil
	}

	snd, rcv := s.direction(toServer)
	newState := advance(s, toServer, seg)
	applySegment(snd, rcv, seg)
	s.State = newState

	if s.State == S1 {
		tr.tmo.Add(h, s, BucketSYN1, seg.TS)
	} else {
		tr.tmo.Remove(h, s)
	}

	if s.State == Closed {
		reason := "graceful"
		if seg.TCPH.Flags().Has(FlagRST) {
			reason = "reset"
		}
		return tr.freeSession(h, s, reason)
	}
	return nil
}

// newSession implements new_session (§4.6): a session is created only
// on a SYN-only packet (flags masked against {SYN,ACK,FIN,RST} equal
// SYN exactly). Anything else returns a plain error, not
// memchunk.ErrExhausted, so Track can tell "no room" apart from "not a
// valid opener."
func (tr *Tracker) newSession(seg Segment, dcb DCB) (objcache.Handle, *Session, error) {
	if seg.TCPH.Flags().Masked() != FlagSYN {
		return objcache.Zero, nil, fmt.Errorf("flowtrack: non-SYN packet with no matching session")
	}

	h, err := tr.cache.Alloc()
	if err != nil {
		return objcache.Zero, nil, err
	}
	s := tr.cache.Get(h)
	*s = Session{
		CAddr: dcb.IP.SrcAddr(),
		CPort: dcb.TCP.SrcPort(),
		SAddr: dcb.IP.DstAddr(),
		SPort: dcb.TCP.DstPort(),
		State: S1,
		self:  h,
	}
	initClientWindow(s, seg)

	tr.table.insert(h, s, seg.Hash)
	tr.tmo.Add(h, s, BucketSYN1, seg.TS)

	atomic.AddInt64(&tr.stats.Created, 1)
	if active := int64(tr.table.Count()); active > atomic.LoadInt64(&tr.stats.MaxActive) {
		atomic.StoreInt64(&tr.stats.MaxActive, active)
	}
	return h, s, nil
}

// freeSession implements session destruction (§3): detach from the
// hash table and LRU, detach from the timeout queue, and return the
// session record to its objcache.
func (tr *Tracker) freeSession(h objcache.Handle, s *Session, reason string) error {
	hash := tupleHash(s.CAddr, s.CPort, s.SAddr, s.SPort)
	tr.tmo.Remove(h, s)
	tr.table.remove(hash, h, s)
	atomic.AddInt64(&tr.stats.Freed, 1)
	if tr.history != nil {
		tr.history(ClosedSession{
			CAddr:      s.CAddr,
			CPort:      s.CPort,
			SAddr:      s.SAddr,
			SPort:      s.SPort,
			FinalState: s.State,
			Reason:     reason,
		})
	}
	return tr.cache.Free(h)
}

// Reap sweeps every configured timeout bucket for sessions expired as
// of now (logical, packet-stream time, never wall clock: §5) and frees
// them. Reap follows the same single-caller discipline as Track: it
// must not be invoked concurrently with Track on the same tracker.
func (tr *Tracker) Reap(now time.Duration) int {
	freed := 0
	for _, bucket := range tr.tmo.Buckets() {
		for _, h := range tr.tmo.Expired(bucket, now) {
			s := tr.cache.Get(h)
			hash := tupleHash(s.CAddr, s.CPort, s.SAddr, s.SPort)
			tr.table.remove(hash, h, s)
			if tr.history != nil {
				tr.history(ClosedSession{
					CAddr:      s.CAddr,
					CPort:      s.CPort,
					SAddr:      s.SAddr,
					SPort:      s.SPort,
					FinalState: s.State,
					Reason:     "timeout",
				})
			}
			if err := tr.cache.Free(h); err == nil {
				freed++
				atomic.AddInt64(&tr.stats.Freed, 1)
			}
		}
	}
	return freed
}

// applySegment folds a processed segment's sequence/ack/window fields
// into the direction states: it advances the sender's snd_nxt to the
// segment end, advances the peer's snd_una to the acknowledged
// sequence, and records the sender's window and timestamp. It runs
// after the state transition so a session that just closed still
// reflects the segment that closed it.
func applySegment(snd, rcv *TCPState, seg Segment) {
	if after(seg.SeqEnd, snd.SndNxt) {
		snd.SndNxt = seg.SeqEnd
	}
	if after(seg.Ack, rcv.SndUna) {
		rcv.SndUna = seg.Ack
	}
	snd.RcvWnd = seg.Win
	if seg.SawTimestamp {
		snd.TSRecent = seg.TSVal
		snd.TSRecentStamp = seg.TS
	}
}
