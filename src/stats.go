package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Traffic measurements and the periodic status report.
 *
 * Description:	Two counter groups, upstream and downstream, each with
 *		its own lock so the RX path never contends with the TX
 *		path.  The reporter snapshots and resets both groups at
 *		each stat interval, prints the console summary, and
 *		leaves the JSON "stat" record in a single-slot mailbox
 *		that the upstream thread drains into its next PUSH_DATA.
 *
 *		The TX-rejection counters and beacon counters are also
 *		accumulated across intervals for the console report, as
 *		ever-since-start totals.
 *
 *		Every counter except the byte counts is mirrored into
 *		a Prometheus counter; the /metrics listener is
 *		optional.
 *
 *---------------------------------------------------------------*/

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type stats_up_t struct {
	mu sync.Mutex

	nb_rx_rcv       uint32 /* packets received */
	nb_rx_ok        uint32 /* ... with payload CRC OK */
	nb_rx_bad       uint32 /* ... with payload CRC error */
	nb_rx_nocrc     uint32 /* ... with no payload CRC */
	up_pkt_fwd      uint32 /* radio packets forwarded to the server */
	up_network_byte uint32 /* UDP bytes sent upstream */
	up_payload_byte uint32 /* radio payload bytes sent upstream */
	up_dgram_sent   uint32 /* PUSH_DATA datagrams sent */
	up_ack_rcv      uint32 /* PUSH_ACK received with matching token */
}

type stats_dw_t struct {
	mu sync.Mutex

	dw_pull_sent    uint32 /* PULL_DATA sent */
	dw_ack_rcv      uint32 /* PULL_ACK received with matching token */
	dw_dgram_rcv    uint32 /* well-formed PULL_RESP received */
	dw_network_byte uint32
	dw_payload_byte uint32
	nb_tx_ok        uint32 /* packets accepted by the radio */
	nb_tx_fail      uint32 /* radio refused or failed the send */
	nb_tx_requested uint32 /* downlink requests from the server */

	nb_tx_rejected_collision_packet uint32
	nb_tx_rejected_collision_beacon uint32
	nb_tx_rejected_too_late         uint32
	nb_tx_rejected_too_early        uint32

	nb_beacon_queued   uint32
	nb_beacon_sent     uint32
	nb_beacon_rejected uint32
}

/* snapshot_and_reset empties the group and returns the old values. */
func (s *stats_up_t) snapshot_and_reset() stats_up_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cp = stats_up_t{
		nb_rx_rcv: s.nb_rx_rcv, nb_rx_ok: s.nb_rx_ok, nb_rx_bad: s.nb_rx_bad,
		nb_rx_nocrc: s.nb_rx_nocrc, up_pkt_fwd: s.up_pkt_fwd,
		up_network_byte: s.up_network_byte, up_payload_byte: s.up_payload_byte,
		up_dgram_sent: s.up_dgram_sent, up_ack_rcv: s.up_ack_rcv,
	}
	s.nb_rx_rcv = 0
	s.nb_rx_ok = 0
	s.nb_rx_bad = 0
	s.nb_rx_nocrc = 0
	s.up_pkt_fwd = 0
	s.up_network_byte = 0
	s.up_payload_byte = 0
	s.up_dgram_sent = 0
	s.up_ack_rcv = 0
	return cp
}

func (s *stats_dw_t) snapshot_and_reset() stats_dw_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cp = stats_dw_t{
		dw_pull_sent: s.dw_pull_sent, dw_ack_rcv: s.dw_ack_rcv,
		dw_dgram_rcv: s.dw_dgram_rcv, dw_network_byte: s.dw_network_byte,
		dw_payload_byte: s.dw_payload_byte, nb_tx_ok: s.nb_tx_ok,
		nb_tx_fail: s.nb_tx_fail, nb_tx_requested: s.nb_tx_requested,
		nb_tx_rejected_collision_packet: s.nb_tx_rejected_collision_packet,
		nb_tx_rejected_collision_beacon: s.nb_tx_rejected_collision_beacon,
		nb_tx_rejected_too_late:         s.nb_tx_rejected_too_late,
		nb_tx_rejected_too_early:        s.nb_tx_rejected_too_early,
		nb_beacon_queued:                s.nb_beacon_queued,
		nb_beacon_sent:                  s.nb_beacon_sent,
		nb_beacon_rejected:              s.nb_beacon_rejected,
	}
	s.reset_locked()
	return cp
}

/* reset_locked zeroes every counter; the caller holds the lock. */
func (s *stats_dw_t) reset_locked() {
	s.dw_pull_sent = 0
	s.dw_ack_rcv = 0
	s.dw_dgram_rcv = 0
	s.dw_network_byte = 0
	s.dw_payload_byte = 0
	s.nb_tx_ok = 0
	s.nb_tx_fail = 0
	s.nb_tx_requested = 0
	s.nb_tx_rejected_collision_packet = 0
	s.nb_tx_rejected_collision_beacon = 0
	s.nb_tx_rejected_too_late = 0
	s.nb_tx_rejected_too_early = 0
	s.nb_beacon_queued = 0
	s.nb_beacon_sent = 0
	s.nb_beacon_rejected = 0
}

/*
 * report_box_t is the single-slot mailbox between the reporter and the
 * upstream thread.  A new report overwrites an unconsumed one.
 */
type report_box_t struct {
	mu     sync.Mutex
	stat   stat_t
	ready  bool
}

func (b *report_box_t) publish(stat stat_t) {
	b.mu.Lock()
	b.stat = stat
	b.ready = true
	b.mu.Unlock()
}

/* peek_ready reports whether a report is pending, without consuming. */
func (b *report_box_t) peek_ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

/* take consumes the pending report, if any. */
func (b *report_box_t) take() (stat_t, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return stat_t{}, false
	}
	b.ready = false
	return b.stat, true
}

/*
 * Prometheus mirrors.  Monotonic by construction, unaffected by the
 * interval reset of the wire counters.
 */
type prom_metrics_t struct {
	rx_rcv       prometheus.Counter
	rx_ok        prometheus.Counter
	rx_bad       prometheus.Counter
	rx_nocrc     prometheus.Counter
	pkt_fwd      prometheus.Counter
	dgram_sent   prometheus.Counter
	ack_rcv      prometheus.Counter
	pull_sent    prometheus.Counter
	pull_ack     prometheus.Counter
	dgram_rcv    prometheus.Counter
	tx_ok        prometheus.Counter
	tx_fail      prometheus.Counter
	tx_requested prometheus.Counter
	tx_rejected  *prometheus.CounterVec
	beacon_queued   prometheus.Counter
	beacon_sent     prometheus.Counter
	beacon_rejected prometheus.Counter
}

func new_prom_metrics(reg prometheus.Registerer) *prom_metrics_t {
	var factory = promauto.With(reg)
	var counter = func(name string, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "laika", Name: name, Help: help,
		})
	}
	return &prom_metrics_t{
		rx_rcv:     counter("rx_received_total", "Radio packets received."),
		rx_ok:      counter("rx_crc_ok_total", "Radio packets received with payload CRC OK."),
		rx_bad:     counter("rx_crc_bad_total", "Radio packets received with payload CRC error."),
		rx_nocrc:   counter("rx_no_crc_total", "Radio packets received without payload CRC."),
		pkt_fwd:    counter("up_packets_forwarded_total", "Radio packets forwarded to the server."),
		dgram_sent: counter("up_datagrams_sent_total", "PUSH_DATA datagrams sent."),
		ack_rcv:    counter("up_acks_received_total", "PUSH_ACK datagrams with a matching token."),
		pull_sent:  counter("down_pull_sent_total", "PULL_DATA datagrams sent."),
		pull_ack:   counter("down_pull_acks_total", "PULL_ACK datagrams with a matching token."),
		dgram_rcv:  counter("down_datagrams_received_total", "Well-formed PULL_RESP datagrams."),
		tx_ok:      counter("tx_ok_total", "Packets accepted by the radio."),
		tx_fail:    counter("tx_fail_total", "Packets the radio refused or failed to send."),
		tx_requested: counter("tx_requested_total", "Downlink requests received."),
		tx_rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "laika", Name: "tx_rejected_total",
			Help: "Downlinks rejected by the scheduler, by reason.",
		}, []string{"reason"}),
		beacon_queued:   counter("beacon_queued_total", "Beacons inserted in the JIT queue."),
		beacon_sent:     counter("beacon_sent_total", "Beacons handed to the radio."),
		beacon_rejected: counter("beacon_rejected_total", "Beacon slots the queue refused."),
	}
}

/* record_jit_rejection bumps the per-reason mirrors. */
func (m *prom_metrics_t) record_jit_rejection(result jit_error_t) {
	if m == nil {
		return
	}
	switch result {
	case JIT_ERROR_FULL, JIT_ERROR_COLLISION_PACKET:
		m.tx_rejected.WithLabelValues("collision_packet").Inc()
	case JIT_ERROR_COLLISION_BEACON:
		m.tx_rejected.WithLabelValues("collision_beacon").Inc()
	case JIT_ERROR_TOO_LATE:
		m.tx_rejected.WithLabelValues("too_late").Inc()
	case JIT_ERROR_TOO_EARLY:
		m.tx_rejected.WithLabelValues("too_early").Inc()
	case JIT_ERROR_TX_FREQ:
		m.tx_rejected.WithLabelValues("tx_freq").Inc()
	case JIT_ERROR_GPS_UNLOCKED:
		m.tx_rejected.WithLabelValues("gps_unlocked").Inc()
	}
}
