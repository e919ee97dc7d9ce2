package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Software model of the concentrator.
 *
 * Description:	Implements the concentrator interface without any
 *		hardware: the counter is derived from the monotonic
 *		clock, transmissions are recorded and aged through
 *		SCHEDULED / EMITTING / FREE according to their trigger
 *		time and time on air, and received packets are whatever
 *		the owner injected.
 *
 *		Selected with "com_type": "SIM".  Tests also reach in
 *		directly (inject_rx, set counter source) to get
 *		deterministic behavior.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"sync"
	"time"
)

type sim_concentrator struct {
	mu      sync.Mutex
	started bool
	eui     uint64

	/* Counter source.  Defaults to the monotonic clock; tests
	   install their own to control time. */
	clock func() concentrator_time

	start_time time.Time

	/* PPS emulation: trigcnt is instcnt rounded down to the last
	   whole emulated second. */

	rx_pending []rx_packet_t

	/* last TX per RF chain */
	tx_pkt  [LGW_RF_CHAIN_NB]*tx_packet_t
	tx_done [LGW_RF_CHAIN_NB]bool

	scan_status  scan_status_t
	scan_started time.Time

	temperature float32
}

func new_sim_concentrator(_ *board_conf_t) *sim_concentrator {
	var s = &sim_concentrator{
		eui:         0x5349_4D30_0000_0001,
		temperature: 25.0,
		scan_status: SCAN_STATUS_NONE,
	}
	s.clock = s.wall_clock
	return s
}

func (s *sim_concentrator) wall_clock() concentrator_time {
	return concentrator_time(time.Since(s.start_time).Microseconds())
}

func (s *sim_concentrator) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("sim: already started")
	}
	s.started = true
	s.start_time = time.Now()
	return nil
}

func (s *sim_concentrator) stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("sim: not started")
	}
	s.started = false
	return nil
}

/* inject_rx queues packets for the next receive() call. */
func (s *sim_concentrator) inject_rx(pkts ...rx_packet_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx_pending = append(s.rx_pending, pkts...)
}

func (s *sim_concentrator) receive(max int) ([]rx_packet_t, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil, errors.New("sim: not started")
	}

	var n = len(s.rx_pending)
	if n > max {
		n = max
	}
	var out = s.rx_pending[:n:n]
	s.rx_pending = s.rx_pending[n:]
	return out, nil
}

func (s *sim_concentrator) send(pkt *tx_packet_t) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("sim: not started")
	}
	if int(pkt.rf_chain) >= LGW_RF_CHAIN_NB {
		return errors.New("sim: bad rf_chain")
	}

	var cp = *pkt
	cp.payload = append([]byte(nil), pkt.payload...)
	if cp.tx_mode == TX_IMMEDIATE {
		cp.count_us = s.clock()
	}
	s.tx_pkt[pkt.rf_chain] = &cp
	s.tx_done[pkt.rf_chain] = false
	return nil
}

func (s *sim_concentrator) tx_status(rf_chain uint8) (tx_status_t, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return TX_OFF, nil
	}
	if int(rf_chain) >= LGW_RF_CHAIN_NB {
		return TX_STATUS_UNKNOWN, errors.New("sim: bad rf_chain")
	}

	var pkt = s.tx_pkt[rf_chain]
	if pkt == nil || s.tx_done[rf_chain] {
		return TX_FREE, nil
	}

	var now = s.clock()
	var toa = lgw_time_on_air(pkt)
	switch {
	case now.precedes(pkt.count_us):
		return TX_SCHEDULED, nil
	case now.precedes(pkt.count_us.add_us(int32(toa))):
		return TX_EMITTING, nil
	default:
		s.tx_done[rf_chain] = true
		return TX_FREE, nil
	}
}

func (s *sim_concentrator) get_instcnt() (concentrator_time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, errors.New("sim: not started")
	}
	return s.clock(), nil
}

func (s *sim_concentrator) get_trigcnt() (concentrator_time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, errors.New("sim: not started")
	}
	var now = uint32(s.clock())
	return concentrator_time(now - now%1000000), nil
}

func (s *sim_concentrator) get_temperature() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature, nil
}

func (s *sim_concentrator) get_eui() (uint64, error) {
	return s.eui, nil
}

func (s *sim_concentrator) spectral_scan_start(_ uint32, _ uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scan_status == SCAN_STATUS_ON_GOING {
		return errors.New("sim: scan already running")
	}
	s.scan_status = SCAN_STATUS_ON_GOING
	s.scan_started = time.Now()
	return nil
}

func (s *sim_concentrator) spectral_scan_get_status() (scan_status_t, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scan_status == SCAN_STATUS_ON_GOING && time.Since(s.scan_started) > 20*time.Millisecond {
		s.scan_status = SCAN_STATUS_COMPLETED
	}
	return s.scan_status, nil
}

func (s *sim_concentrator) spectral_scan_get_results() ([]int16, []uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scan_status != SCAN_STATUS_COMPLETED {
		return nil, nil, errors.New("sim: no scan results")
	}
	var levels = make([]int16, LGW_SPECTRAL_SCAN_RESULT_SIZE)
	var results = make([]uint16, LGW_SPECTRAL_SCAN_RESULT_SIZE)
	for i := range levels {
		levels[i] = int16(-174 + i)
	}
	s.scan_status = SCAN_STATUS_NONE
	return levels, results, nil
}

func (s *sim_concentrator) spectral_scan_abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scan_status == SCAN_STATUS_ON_GOING {
		s.scan_status = SCAN_STATUS_ABORTED
	}
	return nil
}
