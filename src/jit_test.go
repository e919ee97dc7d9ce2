package laika

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func test_lora_pkt(count_us concentrator_time, size int) *tx_packet_t {
	return &tx_packet_t{
		freq_hz:    868300000,
		tx_mode:    TX_TIMESTAMPED,
		count_us:   count_us,
		rf_chain:   0,
		rf_power:   14,
		modulation: MOD_LORA,
		bandwidth:  BW_125KHZ,
		datarate:   DR_LORA_SF9,
		coderate:   CR_LORA_4_5,
		preamble:   8,
		payload:    make([]byte, size),
	}
}

func new_test_queue() *jit_queue_t {
	var q jit_queue_t
	jit_queue_init(&q, 128)
	return &q
}

func TestJitEnqueueBasic(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0)

	var r = q.jit_enqueue(now, test_lora_pkt(1000000, 32), JIT_PKT_TYPE_DOWNLINK_CLASS_A)
	assert.Equal(t, JIT_ERROR_OK, r)
}

func TestJitTooLate(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(1000000)

	// Inside the minimum lead time.
	var r = q.jit_enqueue(now, test_lora_pkt(now.add_us(TX_JIT_DELAY-1), 16), JIT_PKT_TYPE_DOWNLINK_CLASS_A)
	assert.Equal(t, JIT_ERROR_TOO_LATE, r)

	// Already in the past.
	r = q.jit_enqueue(now, test_lora_pkt(now.add_us(-50000), 16), JIT_PKT_TYPE_DOWNLINK_CLASS_A)
	assert.Equal(t, JIT_ERROR_TOO_LATE, r)
}

func TestJitTooEarly(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0)

	var r = q.jit_enqueue(now, test_lora_pkt(now.add_us(1<<31-128*1000000+1), 16), JIT_PKT_TYPE_DOWNLINK_CLASS_A)
	assert.Equal(t, JIT_ERROR_TOO_EARLY, r)
}

func TestJitInvalid(t *testing.T) {
	var q = new_test_queue()

	var pkt = test_lora_pkt(1000000, 16)
	pkt.preamble = 0
	assert.Equal(t, JIT_ERROR_INVALID, q.jit_enqueue(0, pkt, JIT_PKT_TYPE_DOWNLINK_CLASS_A))
	assert.Equal(t, JIT_ERROR_INVALID, q.jit_enqueue(0, nil, JIT_PKT_TYPE_DOWNLINK_CLASS_A))
}

// A packet at 1 000 000 that is on the air longer than 30 ms collides
// with one starting 30 ms later.
func TestJitCollisionPacket(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0)

	// SF9/BW125 with a 120-byte payload stays on the air for several
	// hundred ms, well past the 30 ms gap.
	var a = test_lora_pkt(1000000, 120) // TOA well above 30 ms at SF9
	require.Greater(t, lgw_time_on_air(a), uint32(30000))
	require.Equal(t, JIT_ERROR_OK, q.jit_enqueue(now, a, JIT_PKT_TYPE_DOWNLINK_CLASS_A))

	var b = test_lora_pkt(1030000, 16)
	assert.Equal(t, JIT_ERROR_COLLISION_PACKET, q.jit_enqueue(now, b, JIT_PKT_TYPE_DOWNLINK_CLASS_A))
}

func TestJitCollisionBeacon(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0)

	var beacon = test_lora_pkt(10000000, 17)
	beacon.tx_mode = TX_ON_GPS
	beacon.no_crc = true
	beacon.no_header = true
	beacon.preamble = 10
	require.Equal(t, JIT_ERROR_OK, q.jit_enqueue(now, beacon, JIT_PKT_TYPE_BEACON))

	// A downlink inside the beacon guard period is refused, and the
	// rejection names the beacon.
	var dl = test_lora_pkt(10000000-1000000, 16)
	assert.Equal(t, JIT_ERROR_COLLISION_BEACON, q.jit_enqueue(now, dl, JIT_PKT_TYPE_DOWNLINK_CLASS_A))

	// The beacon is still there.
	assert.Equal(t, 1, q.beacon_count())
}

func TestJitFullDownlinks(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0)

	for i := 0; i < JIT_QUEUE_MAX; i++ {
		var pkt = test_lora_pkt(now.add_us(int32(10000000*(i+1))), 8)
		require.Equal(t, JIT_ERROR_OK, q.jit_enqueue(now, pkt, JIT_PKT_TYPE_DOWNLINK_CLASS_A), "packet %d", i)
	}
	var r = q.jit_enqueue(now, test_lora_pkt(now.add_us(200000000), 8), JIT_PKT_TYPE_DOWNLINK_CLASS_A)
	assert.Equal(t, JIT_ERROR_FULL, r)
}

// Enqueue near the wrap point: a target past 0x00000000 is accepted and
// becomes ready when the live counter closes in on it.
func TestJitWrap(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0xFFFFF000)

	var pkt = test_lora_pkt(0x00010000, 16)
	require.Equal(t, JIT_ERROR_OK, q.jit_enqueue(now, pkt, JIT_PKT_TYPE_DOWNLINK_CLASS_A))

	var idx, _ = q.jit_peek(now)
	assert.Equal(t, -1, idx, "not ready yet")

	idx, _ = q.jit_peek(concentrator_time(0x00010000).add_us(-TX_JIT_DELAY / 2))
	require.NotEqual(t, -1, idx)

	var out, pkt_type, r = q.jit_dequeue(idx)
	require.Equal(t, JIT_ERROR_OK, r)
	assert.Equal(t, JIT_PKT_TYPE_DOWNLINK_CLASS_A, pkt_type)
	assert.Equal(t, concentrator_time(0x00010000), out.count_us)
}

func TestJitPeekPurgesExpired(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(0)

	require.Equal(t, JIT_ERROR_OK, q.jit_enqueue(now, test_lora_pkt(1000000, 16), JIT_PKT_TYPE_DOWNLINK_CLASS_A))

	// Never dispatched; by the time we look again the target passed.
	var idx, purged = q.jit_peek(concentrator_time(2000000))
	assert.Equal(t, -1, idx)
	assert.Equal(t, 1, purged)
}

func TestJitClassCImmediate(t *testing.T) {
	var q = new_test_queue()
	var now = concentrator_time(5000000)

	var pkt = test_lora_pkt(0, 16)
	pkt.tx_mode = TX_IMMEDIATE
	require.Equal(t, JIT_ERROR_OK, q.jit_enqueue(now, pkt, JIT_PKT_TYPE_DOWNLINK_CLASS_C))

	// Scheduled just past the lead time, so it is ready immediately.
	var idx, _ = q.jit_peek(now.add_us(TX_MARGIN_DELAY + 1))
	require.NotEqual(t, -1, idx)
	var out, _, r = q.jit_dequeue(idx)
	require.Equal(t, JIT_ERROR_OK, r)
	assert.Equal(t, TX_TIMESTAMPED, out.tx_mode)
}

// Property: whatever gets admitted, no two queued air windows overlap.
func TestJitNonOverlapInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var q = new_test_queue()
		var now = concentrator_time(rapid.Uint32().Draw(t, "now"))

		var n = rapid.IntRange(2, 24).Draw(t, "n")
		for i := 0; i < n; i++ {
			var target = now.add_us(rapid.Int32Range(TX_JIT_DELAY, 100000000).Draw(t, "target"))
			var size = rapid.IntRange(1, 200).Draw(t, "size")
			var class = JIT_PKT_TYPE_DOWNLINK_CLASS_A
			if rapid.Bool().Draw(t, "beacon") {
				class = JIT_PKT_TYPE_BEACON
			}
			q.jit_enqueue(now, test_lora_pkt(target, size), class)
		}

		q.mu.Lock()
		defer q.mu.Unlock()
		for i := range q.entries {
			for j := i + 1; j < len(q.entries); j++ {
				var a, b = &q.entries[i], &q.entries[j]
				assert.False(t, windows_overlap(
					a.pkt.count_us.add_us(-int32(a.pre_delay)), a.pkt.count_us.add_us(int32(a.post_delay)),
					b.pkt.count_us.add_us(-int32(b.pre_delay)), b.pkt.count_us.add_us(int32(b.post_delay))))
			}
		}
	})
}

// Property: dequeue order follows count_us in modular order.
func TestJitMonotoneDispatch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var q = new_test_queue()
		var now = concentrator_time(rapid.Uint32().Draw(t, "now"))

		for i := 0; i < rapid.IntRange(2, 12).Draw(t, "n"); i++ {
			var target = now.add_us(rapid.Int32Range(TX_JIT_DELAY, 1000000000).Draw(t, "target"))
			q.jit_enqueue(now, test_lora_pkt(target, 8), JIT_PKT_TYPE_DOWNLINK_CLASS_A)
		}

		var prev concentrator_time
		var have_prev = false
		for {
			q.mu.Lock()
			var empty = len(q.entries) == 0
			q.mu.Unlock()
			if empty {
				break
			}
			var out, _, r = q.jit_dequeue(0)
			require.Equal(t, JIT_ERROR_OK, r)
			if have_prev {
				assert.False(t, out.pkt_sorts_before(prev, now), "dispatch order regressed")
			}
			prev = out.count_us
			have_prev = true
		}
	})
}

// pkt_sorts_before is a test helper: does this packet's target precede
// prev when both are anchored on the enqueue-time counter?
func (p *tx_packet_t) pkt_sorts_before(prev, anchor concentrator_time) bool {
	return anchor.distance_us(p.count_us) < anchor.distance_us(prev)
}
