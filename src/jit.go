package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Just-In-Time TX scheduling queue.
 *
 * Description:	One queue per RF chain holds the downlinks and beacons
 *		waiting for their trigger counter value.  Admission
 *		enforces three things:
 *
 *		  - the target must be far enough in the future to arm
 *		    the radio (TOO_LATE otherwise),
 *		  - it must be near enough that modular comparison is
 *		    unambiguous (TOO_EARLY otherwise),
 *		  - its air window [count_us - pre_delay,
 *		    count_us + post_delay] must not overlap any queued
 *		    entry's window (COLLISION_* otherwise).
 *
 *		Beacons are never pre-empted: a downlink colliding with
 *		a queued beacon is refused with COLLISION_BEACON, and a
 *		beacon wins a tie on equal count_us.
 *
 *		All ordering uses the signed-difference rule of
 *		concentrator_time.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"sync"
)

/* Capacity limits, per queue. */
const JIT_QUEUE_MAX = 8           /* downlink entries */
const JIT_NUM_BEACON_IN_QUEUE = 8 /* beacon entries, on top of downlinks */

/* Scheduling margins, in microseconds. */
const TX_START_DELAY = 1500    /* time for the radio to arm the TX path */
const TX_MARGIN_DELAY = 1000   /* guard between two consecutive packets */
const TX_JIT_DELAY = 40000     /* minimum lead time for a new entry */

/* Beacon air windows are wider: Class B devices own the guard period
   before the beacon and the reserved period after it. */
const BEACON_GUARD = 3000000
const BEACON_RESERVED = 2120000

/* Fallback used for the look-ahead bound when beaconing is disabled. */
const DEFAULT_BEACON_PERIOD_S = 128

type jit_pkt_type_t int

const (
	JIT_PKT_TYPE_BEACON jit_pkt_type_t = iota
	JIT_PKT_TYPE_DOWNLINK_CLASS_A
	JIT_PKT_TYPE_DOWNLINK_CLASS_B
	JIT_PKT_TYPE_DOWNLINK_CLASS_C
)

func (t jit_pkt_type_t) String() string {
	switch t {
	case JIT_PKT_TYPE_BEACON:
		return "BEACON"
	case JIT_PKT_TYPE_DOWNLINK_CLASS_A:
		return "CLASS_A"
	case JIT_PKT_TYPE_DOWNLINK_CLASS_B:
		return "CLASS_B"
	case JIT_PKT_TYPE_DOWNLINK_CLASS_C:
		return "CLASS_C"
	default:
		return "?"
	}
}

type jit_error_t int

const (
	JIT_ERROR_OK jit_error_t = iota
	JIT_ERROR_TOO_LATE
	JIT_ERROR_TOO_EARLY
	JIT_ERROR_FULL
	JIT_ERROR_EMPTY
	JIT_ERROR_COLLISION_PACKET
	JIT_ERROR_COLLISION_BEACON
	JIT_ERROR_TX_FREQ
	JIT_ERROR_TX_POWER
	JIT_ERROR_GPS_UNLOCKED
	JIT_ERROR_INVALID
)

type jit_entry_t struct {
	pkt        tx_packet_t
	pkt_type   jit_pkt_type_t
	pre_delay  uint32 /* microseconds reserved before count_us */
	post_delay uint32 /* microseconds occupied after count_us */
}

type jit_queue_t struct {
	mu         sync.Mutex
	entries    []jit_entry_t
	num_beacon int

	/* Admission refuses targets further out than this, so that the
	   signed difference to "now" stays unambiguous even while the
	   furthest queued beacon waits out its period. */
	max_advance_us int32
}

func jit_queue_init(q *jit_queue_t, beacon_period_s uint32) {
	if beacon_period_s == 0 {
		beacon_period_s = DEFAULT_BEACON_PERIOD_S
	}
	q.mu.Lock()
	q.entries = make([]jit_entry_t, 0, JIT_QUEUE_MAX+JIT_NUM_BEACON_IN_QUEUE)
	q.num_beacon = 0
	q.max_advance_us = int32(uint32(1<<31) - beacon_period_s*1000000)
	q.mu.Unlock()
}

/* windows_overlap tests two air windows in modular counter space.  Both
   windows are shorter than a few seconds, so anchoring the comparison on
   either start point is safe. */
func windows_overlap(a_start, a_end, b_start, b_end concentrator_time) bool {
	// a starts inside b, or b starts inside a.
	return (!a_start.precedes(b_start) && a_start.precedes(b_end)) ||
		(!b_start.precedes(a_start) && b_start.precedes(a_end))
}

/*-------------------------------------------------------------------
 *
 * Name:	jit_enqueue
 *
 * Purpose:	Admit a TX packet into the queue.
 *
 * Inputs:	now	- live concentrator counter, read just before.
 *		pkt	- TX descriptor.  For immediate (Class C)
 *			  packets count_us is assigned here.
 *		pkt_type - packet class.
 *
 * Returns:	JIT_ERROR_OK on success, or the rejection reason.
 *
 *--------------------------------------------------------------------*/

func (q *jit_queue_t) jit_enqueue(now concentrator_time, pkt *tx_packet_t, pkt_type jit_pkt_type_t) jit_error_t {
	if pkt == nil || pkt.preamble == 0 {
		return JIT_ERROR_INVALID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if pkt_type == JIT_PKT_TYPE_BEACON {
		if q.num_beacon >= JIT_NUM_BEACON_IN_QUEUE {
			return JIT_ERROR_FULL
		}
	} else {
		if len(q.entries)-q.num_beacon >= JIT_QUEUE_MAX {
			return JIT_ERROR_FULL
		}
	}

	var e = jit_entry_t{
		pkt:      *pkt,
		pkt_type: pkt_type,
	}
	e.pkt.payload = append([]byte(nil), pkt.payload...)

	var toa = lgw_time_on_air(&e.pkt)
	if toa == 0 {
		return JIT_ERROR_INVALID
	}

	switch pkt_type {
	case JIT_PKT_TYPE_BEACON:
		e.pre_delay = BEACON_GUARD
		e.post_delay = BEACON_RESERVED
	default:
		e.pre_delay = TX_START_DELAY
		e.post_delay = toa + TX_MARGIN_DELAY
	}

	if pkt_type == JIT_PKT_TYPE_DOWNLINK_CLASS_C {
		/* immediate downlinks go through the same machinery,
		   aimed just past the minimum lead time */
		e.pkt.count_us = now.add_us(TX_JIT_DELAY + TX_MARGIN_DELAY)
		e.pkt.tx_mode = TX_TIMESTAMPED
	}

	var dist = now.distance_us(e.pkt.count_us)
	if dist < TX_JIT_DELAY {
		return JIT_ERROR_TOO_LATE
	}
	if dist > q.max_advance_us {
		return JIT_ERROR_TOO_EARLY
	}

	var new_start = e.pkt.count_us.add_us(-int32(e.pre_delay))
	var new_end = e.pkt.count_us.add_us(int32(e.post_delay))
	for i := range q.entries {
		var o = &q.entries[i]
		if !windows_overlap(new_start, new_end,
			o.pkt.count_us.add_us(-int32(o.pre_delay)),
			o.pkt.count_us.add_us(int32(o.post_delay))) {
			continue
		}
		if o.pkt_type == JIT_PKT_TYPE_BEACON {
			return JIT_ERROR_COLLISION_BEACON
		}
		return JIT_ERROR_COLLISION_PACKET
	}

	/* insert in target order, anchored on now; a beacon goes ahead
	   of a downlink sharing its count_us */
	var pos = len(q.entries)
	for i := range q.entries {
		var o = &q.entries[i]
		var d = now.distance_us(o.pkt.count_us)
		if dist < d || (dist == d && pkt_type == JIT_PKT_TYPE_BEACON) {
			pos = i
			break
		}
	}
	q.entries = append(q.entries, jit_entry_t{})
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = e

	if pkt_type == JIT_PKT_TYPE_BEACON {
		q.num_beacon++
	}
	return JIT_ERROR_OK
}

/*-------------------------------------------------------------------
 *
 * Name:	jit_peek
 *
 * Purpose:	Index of the entry whose dispatch window has begun.
 *
 * Description:	An entry is ready once the counter is within
 *		TX_JIT_DELAY of count_us but has not passed it.  The
 *		lead covers radio arming and preamble for any datarate,
 *		and is several times the dispatcher's poll period, so a
 *		window cannot fall between two polls.  Entries whose
 *		count_us already elapsed can no longer be sent; they
 *		are purged here and reported so the owner can count
 *		them.
 *
 * Returns:	(index, purged).  index is -1 when nothing is ready.
 *
 *--------------------------------------------------------------------*/

func (q *jit_queue_t) jit_peek(now concentrator_time) (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	/* purge expired entries first */
	var purged = 0
	for i := 0; i < len(q.entries); {
		if q.entries[i].pkt.count_us.precedes(now) {
			if q.entries[i].pkt_type == JIT_PKT_TYPE_BEACON {
				q.num_beacon--
			}
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			purged++
			continue
		}
		i++
	}

	/* entries are kept in target order, so only the head can be the
	   earliest ready one */
	if len(q.entries) > 0 && now.distance_us(q.entries[0].pkt.count_us) <= TX_JIT_DELAY {
		return 0, purged
	}
	return -1, purged
}

/*-------------------------------------------------------------------
 *
 * Name:	jit_dequeue
 *
 * Purpose:	Remove and return the entry at index.  Not idempotent.
 *
 *--------------------------------------------------------------------*/

func (q *jit_queue_t) jit_dequeue(index int) (tx_packet_t, jit_pkt_type_t, jit_error_t) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.entries) {
		return tx_packet_t{}, 0, JIT_ERROR_EMPTY
	}

	var e = q.entries[index]
	q.entries = append(q.entries[:index], q.entries[index+1:]...)
	if e.pkt_type == JIT_PKT_TYPE_BEACON {
		q.num_beacon--
	}
	return e.pkt, e.pkt_type, JIT_ERROR_OK
}

/* beacon_count returns the number of beacons currently queued. */
func (q *jit_queue_t) beacon_count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.num_beacon
}

/* dump describes the queue contents for the periodic stats report. */
func (q *jit_queue_t) dump() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return []string{"# empty queue"}
	}
	var lines = make([]string, 0, len(q.entries))
	for i := range q.entries {
		var e = &q.entries[i]
		lines = append(lines, fmt.Sprintf("# [%d] count_us=%d type=%s freq=%d size=%d",
			i, uint32(e.pkt.count_us), e.pkt_type, e.pkt.freq_hz, len(e.pkt.payload)))
	}
	return lines
}
