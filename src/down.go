package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Downstream thread: PULL keep-alive, downlink requests,
 *		and beacon slot pre-allocation.
 *
 * Description:	Every keepalive_interval a PULL_DATA with a fresh token
 *		opens a listening window on the downstream socket.
 *		Inside the window:
 *
 *		 - PULL_ACK with the matching token marks the link up
 *		   and resets the auto-quit counter.
 *		 - PULL_RESP carries a txpk downlink: parse it into a
 *		   typed request, validate frequency and power, decode
 *		   the payload, enqueue into the chain's JIT queue, and
 *		   answer with a TX_ACK echoing the token.  A request
 *		   that does not parse, targets an RF chain with TX
 *		   disabled, or arrives when the counter cannot be read
 *		   is dropped without a TX_ACK.
 *
 *		Before each receive, beacon slots are topped up in
 *		queue 0 so that beacons always win the race against
 *		incoming downlinks for their air time.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

/* Preamble floors and defaults enforced on downlinks. */
const MIN_LORA_PREAMB = 6
const STD_LORA_PREAMB = 8
const MIN_FSK_PREAMB = 3
const STD_FSK_PREAMB = 5

/* tx_sched_t says how a downlink wants to be timed. */
type tx_sched_t int

const (
	TX_SCHED_IMMEDIATE tx_sched_t = iota /* Class C */
	TX_SCHED_ON_COUNTER                  /* Class A, tmst */
	TX_SCHED_ON_GPS_TIME                 /* Class B, tmms */
)

/* tx_request_t is the validated, typed form of a txpk object.  The
   target counter of an ON_COUNTER request lives in pkt.count_us; an
   ON_GPS_TIME request carries gps_ms until the time reference converts
   it. */
type tx_request_t struct {
	sched  tx_sched_t
	gps_ms uint64
	pkt    tx_packet_t
}

func (f *forwarder_t) thread_down() {
	var buff_down [1000]byte

	var beacon_builder *beacon_builder_t
	if f.conf.gateway.beacon_period > 0 {
		var err error
		beacon_builder, err = new_beacon_builder(
			f.conf.gateway.beacon_datarate,
			f.conf.gateway.beacon_infodesc,
			f.conf.gateway.ref_coord.lat,
			f.conf.gateway.ref_coord.lon)
		if err != nil {
			log_error("[down] %v, beaconing disabled", err)
			beacon_builder = nil
		}
	}

	/* gps time of last enqueued beacon, seconds; 0 = none yet */
	var last_beacon_gps_sec int64
	var beacon_retry = 0

	var autoquit_cnt uint32

	for !f.stopping() {
		/* auto-quit if the threshold is crossed */
		if f.conf.gateway.autoquit_threshold > 0 && autoquit_cnt >= f.conf.gateway.autoquit_threshold {
			f.request_exit()
			log_info("[down] the last %d PULL_DATA were not ACKed, exiting application", f.conf.gateway.autoquit_threshold)
			break
		}

		/* send PULL request and record time */
		var token = random_token()
		var req = make_gateway_datagram(token, PKT_PULL_DATA, f.conf.gateway.gateway_id, nil)
		if _, err := f.sock_down.Write(req); err != nil {
			log_warn("[down] send failed: %v", err)
		}
		var send_time = time.Now()
		f.stats_dw.mu.Lock()
		f.stats_dw.dw_pull_sent++
		f.stats_dw.mu.Unlock()
		var req_ack = false
		autoquit_cnt++

		/* listen until a new PULL request must be sent */
		var window_end = send_time.Add(time.Duration(f.conf.gateway.keepalive_s) * time.Second)
		for time.Now().Before(window_end) && !f.stopping() {
			f.sock_down.SetReadDeadline(time.Now().Add(PULL_TIMEOUT_MS * time.Millisecond))
			var msg_len, recv_err = f.sock_down.Read(buff_down[:])

			/* pre-allocate beacon slots, so they keep priority
			   over whatever just arrived */
			if beacon_builder != nil {
				last_beacon_gps_sec, beacon_retry = f.preallocate_beacons(beacon_builder, last_beacon_gps_sec, beacon_retry)
			}

			if recv_err != nil {
				continue /* timeout, silence is normal */
			}

			var rx_token, pkt_type, body, parse_err = parse_downlink_datagram(buff_down[:msg_len])
			if parse_err != nil {
				log_warn("[down] ignoring invalid packet: %v", parse_err)
				continue
			}

			if pkt_type == PKT_PULL_ACK {
				if rx_token != token {
					log_info("[down] received out-of-sync ACK")
					continue
				}
				if req_ack {
					log_info("[down] duplicate ACK received :)")
					continue
				}
				req_ack = true
				autoquit_cnt = 0
				f.stats_dw.mu.Lock()
				f.stats_dw.dw_ack_rcv++
				f.stats_dw.mu.Unlock()
				log_info("[down] PULL_ACK received in %d ms", time.Since(send_time).Milliseconds())
				continue
			}

			/* the datagram is a PULL_RESP */
			log_info("[down] PULL_RESP received - token %d :)", rx_token)
			f.handle_pull_resp(rx_token, body)
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	handle_pull_resp
 *
 * Purpose:	One downlink request: parse, validate, enqueue, ack.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) handle_pull_resp(token uint16, body []byte) {
	var req, err = parse_tx_request(body)
	if err != nil {
		log_warn("[down] %v, TX aborted", err)
		return
	}

	/* the antenna makes up part of the requested radiated power */
	req.pkt.rf_power -= f.conf.sx130x.antenna_gain

	/* Class B needs a valid time reference to aim at */
	if req.sched == TX_SCHED_ON_GPS_TIME {
		var local_ref, ref_ok = f.timeref.snapshot()
		if !f.gps_enabled || !ref_ok {
			log_warn("[down] no valid GPS time reference, impossible to send packet on GPS time, TX aborted")
			f.send_tx_ack(token, JIT_ERROR_GPS_UNLOCKED, 0)
			return
		}
		req.pkt.count_us = local_ref.gps2cnt(int64(req.gps_ms/1000), int64(req.gps_ms%1000)*1000000)
		log_info("[down] a packet will be sent on timestamp value %d (calculated from GPS time)", uint32(req.pkt.count_us))
	}

	var chain = req.pkt.rf_chain
	if int(chain) >= LGW_RF_CHAIN_NB || !f.conf.sx130x.radios[chain].tx_enable {
		log_warn("[down] TX is not enabled on RF chain %d, TX aborted", chain)
		return
	}
	var radio = &f.conf.sx130x.radios[chain]

	f.stats_dw.mu.Lock()
	f.stats_dw.dw_dgram_rcv++ /* only datagrams with no JSON errors */
	f.stats_dw.dw_network_byte += uint32(len(body))
	f.stats_dw.dw_payload_byte += uint32(len(req.pkt.payload))
	f.stats_dw.mu.Unlock()

	var jit_result = JIT_ERROR_OK
	var warning_result = JIT_ERROR_OK
	var warning_value int32

	/* check TX frequency before trying to queue the packet */
	if req.pkt.freq_hz < radio.tx_freq_min || req.pkt.freq_hz > radio.tx_freq_max {
		jit_result = JIT_ERROR_TX_FREQ
		log_error("packet REJECTED, unsupported frequency - %d (min:%d,max:%d)", req.pkt.freq_hz, radio.tx_freq_min, radio.tx_freq_max)
	}

	/* check TX power, clamping to the closest lower LUT entry with a
	   warning when there is no exact match */
	if jit_result == JIT_ERROR_OK {
		var used, exact = lookup_tx_gain(&radio.tx_gain_lut, req.pkt.rf_power)
		if !exact {
			warning_result = JIT_ERROR_TX_POWER
			warning_value = int32(used)
			log_warn("requested TX power is not supported (%ddBm), actual power used: %ddBm", req.pkt.rf_power, used)
			req.pkt.rf_power = used
		}
	}

	/* insert the packet into the JIT queue */
	if jit_result == JIT_ERROR_OK {
		var downlink_type = req.downlink_type()
		var now, cnt_err = f.instcnt()
		if cnt_err != nil {
			log_error("[down] failed to read concentrator counter: %v", cnt_err)
			return
		}
		jit_result = f.jit_queue[chain].jit_enqueue(now, &req.pkt, downlink_type)
		if jit_result != JIT_ERROR_OK {
			log_error("packet REJECTED (jit error=%d)", jit_result)
		} else {
			/* a warning raised earlier is still notified */
			jit_result = warning_result
		}
		f.stats_dw.mu.Lock()
		f.stats_dw.nb_tx_requested++
		f.stats_dw.mu.Unlock()
	}

	f.send_tx_ack(token, jit_result, warning_value)
}

/* send_tx_ack emits the TX_ACK datagram and keeps the reject stats. */
func (f *forwarder_t) send_tx_ack(token uint16, result jit_error_t, value int32) {
	f.stats_dw.mu.Lock()
	switch result {
	case JIT_ERROR_FULL, JIT_ERROR_COLLISION_PACKET:
		f.stats_dw.nb_tx_rejected_collision_packet++
	case JIT_ERROR_COLLISION_BEACON:
		f.stats_dw.nb_tx_rejected_collision_beacon++
	case JIT_ERROR_TOO_LATE:
		f.stats_dw.nb_tx_rejected_too_late++
	case JIT_ERROR_TOO_EARLY:
		f.stats_dw.nb_tx_rejected_too_early++
	}
	f.stats_dw.mu.Unlock()
	f.prom.record_jit_rejection(result)

	var ack = make_tx_ack(token, f.conf.gateway.gateway_id, result, value)
	if _, err := f.sock_down.Write(ack); err != nil {
		log_warn("[down] TX_ACK send failed: %v", err)
	}
}

func (r *tx_request_t) downlink_type() jit_pkt_type_t {
	switch r.sched {
	case TX_SCHED_IMMEDIATE:
		return JIT_PKT_TYPE_DOWNLINK_CLASS_C
	case TX_SCHED_ON_GPS_TIME:
		return JIT_PKT_TYPE_DOWNLINK_CLASS_B
	default:
		return JIT_PKT_TYPE_DOWNLINK_CLASS_A
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	lookup_tx_gain
 *
 * Purpose:	Find the LUT power to use for a requested power.
 *
 * Returns:	(power, exact).  When no exact entry exists the closest
 *		lower entry is chosen; with nothing lower, the weakest
 *		entry of the table.
 *
 *--------------------------------------------------------------------*/

func lookup_tx_gain(lut *tx_gain_lut_t, rf_power int8) (int8, bool) {
	var best_power int8
	var best_diff = int(^uint(0) >> 1) /* max int */
	var found = false

	for _, g := range lut.lut {
		var diff = int(rf_power) - int(g.rf_power)
		if diff < 0 {
			continue /* selected power must not exceed the request */
		}
		if diff < best_diff {
			best_diff = diff
			best_power = g.rf_power
			found = true
		}
	}
	if !found {
		/* nothing at or below the request, use the weakest entry */
		for i, g := range lut.lut {
			if i == 0 || g.rf_power < best_power {
				best_power = g.rf_power
			}
		}
		return best_power, false
	}
	return best_power, best_diff == 0
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_tx_request
 *
 * Purpose:	PULL_RESP JSON body to a validated typed request.
 *
 * Description:	Scheduling is a tagged choice of imme / tmst / tmms;
 *		one of them is mandatory.  Modulation, datarate,
 *		bandwidth and coderate are rejected here when unknown,
 *		not deep inside the TX path.
 *
 *--------------------------------------------------------------------*/

func parse_tx_request(body []byte) (*tx_request_t, error) {
	var resp pull_resp_body_t
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if resp.Txpk == nil {
		return nil, fmt.Errorf("no \"txpk\" object in JSON")
	}
	var txpk = resp.Txpk
	var req tx_request_t

	switch {
	case txpk.Imme != nil && *txpk.Imme:
		req.sched = TX_SCHED_IMMEDIATE
		req.pkt.tx_mode = TX_IMMEDIATE
		log_info("[down] a packet will be sent in \"immediate\" mode")
	case txpk.Tmst != nil:
		req.sched = TX_SCHED_ON_COUNTER
		req.pkt.tx_mode = TX_TIMESTAMPED
		req.pkt.count_us = concentrator_time(*txpk.Tmst)
	case txpk.Tmms != nil:
		req.sched = TX_SCHED_ON_GPS_TIME
		req.pkt.tx_mode = TX_TIMESTAMPED
		req.gps_ms = *txpk.Tmms
	default:
		return nil, fmt.Errorf("no mandatory \"txpk.imme\", \"txpk.tmst\" or \"txpk.tmms\" field")
	}

	if txpk.Freq == nil {
		return nil, fmt.Errorf("no mandatory \"txpk.freq\" field")
	}
	req.pkt.freq_hz = uint32(*txpk.Freq * 1e6)

	if txpk.Rfch == nil {
		return nil, fmt.Errorf("no mandatory \"txpk.rfch\" field")
	}
	req.pkt.rf_chain = *txpk.Rfch

	if txpk.Powe != nil {
		req.pkt.rf_power = *txpk.Powe
	}

	if txpk.Ncrc != nil {
		req.pkt.no_crc = *txpk.Ncrc
	}
	if txpk.Nhdr != nil {
		req.pkt.no_header = *txpk.Nhdr
	}

	if txpk.Modu == nil {
		return nil, fmt.Errorf("no mandatory \"txpk.modu\" field")
	}
	switch *txpk.Modu {
	case "LORA":
		req.pkt.modulation = MOD_LORA

		if txpk.Datr == nil {
			return nil, fmt.Errorf("no mandatory \"txpk.datr\" field")
		}
		var datr string
		if err := json.Unmarshal(*txpk.Datr, &datr); err != nil {
			return nil, fmt.Errorf("format error in \"txpk.datr\"")
		}
		var sf, bw, err = parse_lora_datr(datr)
		if err != nil {
			return nil, fmt.Errorf("format error in \"txpk.datr\": %w", err)
		}
		req.pkt.datarate = sf
		req.pkt.bandwidth = bw

		if txpk.Codr == nil {
			return nil, fmt.Errorf("no mandatory \"txpk.codr\" field")
		}
		var coderate coderate_t
		coderate, err = parse_codr(*txpk.Codr)
		if err != nil {
			return nil, fmt.Errorf("format error in \"txpk.codr\": %w", err)
		}
		req.pkt.coderate = coderate

		if txpk.Ipol != nil {
			req.pkt.invert_pol = *txpk.Ipol
		}

		req.pkt.preamble = STD_LORA_PREAMB
		if txpk.Prea != nil {
			req.pkt.preamble = max16(*txpk.Prea, MIN_LORA_PREAMB)
		}

	case "FSK":
		req.pkt.modulation = MOD_FSK

		if txpk.Datr == nil {
			return nil, fmt.Errorf("no mandatory \"txpk.datr\" field")
		}
		if err := json.Unmarshal(*txpk.Datr, &req.pkt.datarate_fsk); err != nil {
			return nil, fmt.Errorf("format error in \"txpk.datr\"")
		}

		if txpk.Fdev == nil {
			return nil, fmt.Errorf("no mandatory \"txpk.fdev\" field")
		}
		req.pkt.f_dev = uint8(*txpk.Fdev / 1000) /* Hz on the wire, kHz in the HAL */

		req.pkt.preamble = STD_FSK_PREAMB
		if txpk.Prea != nil {
			req.pkt.preamble = max16(*txpk.Prea, MIN_FSK_PREAMB)
		}

	default:
		return nil, fmt.Errorf("invalid modulation %q in \"txpk.modu\"", *txpk.Modu)
	}

	if txpk.Size == nil {
		return nil, fmt.Errorf("no mandatory \"txpk.size\" field")
	}
	if txpk.Data == nil {
		return nil, fmt.Errorf("no mandatory \"txpk.data\" field")
	}
	var payload, err = base64.StdEncoding.DecodeString(*txpk.Data)
	if err != nil {
		/* some servers omit the padding */
		payload, err = base64.RawStdEncoding.DecodeString(*txpk.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 in \"txpk.data\"")
		}
	}
	if len(payload) != int(*txpk.Size) {
		log_warn("[down] mismatch between .size and .data size once converted to binary")
	}
	req.pkt.payload = payload

	return &req, nil
}

func max16(v uint16, floor uint16) uint16 {
	if v < floor {
		return floor
	}
	return v
}

/*-------------------------------------------------------------------
 *
 * Name:	preallocate_beacons
 *
 * Purpose:	Keep queue 0 topped up with the next beacon slots.
 *
 * Description:	While fewer than JIT_NUM_BEACON_IN_QUEUE beacons are
 *		queued and the reference plus crystal correction are
 *		usable: compute the next slot on the GPS timeline
 *		(periods count from the epoch, so every gateway in the
 *		world beacons together), aim it at the corresponding
 *		counter value, pick the slot's channel, fill the
 *		payload and enqueue.  A COLLISION_BEACON means that
 *		slot is already queued; other failures advance to the
 *		following slot and are counted as rejected.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) preallocate_beacons(builder *beacon_builder_t, last_beacon_gps_sec int64, retry int) (int64, int) {
	var gw = &f.conf.gateway
	var beacon_period = int64(gw.beacon_period)

	for f.jit_queue[0].beacon_count() < JIT_NUM_BEACON_IN_QUEUE {
		var local_ref, ref_ok = f.timeref.snapshot()
		var _, xtal_ok = f.xtal.get()
		if !ref_ok || !xtal_ok {
			break /* wait for GPS before inserting beacons */
		}

		/* next beacon slot on the GPS timeline */
		var next_beacon_gps_sec int64
		if last_beacon_gps_sec == 0 {
			next_beacon_gps_sec = local_ref.gps_sec + (beacon_period - local_ref.gps_sec%beacon_period)
		} else {
			next_beacon_gps_sec = last_beacon_gps_sec + beacon_period
		}
		next_beacon_gps_sec += int64(retry) * beacon_period

		var beacon_pkt = tx_packet_t{
			tx_mode:    TX_ON_GPS, /* send on PPS pulse */
			count_us:   local_ref.gps2cnt(next_beacon_gps_sec, 0),
			rf_chain:   0,
			rf_power:   gw.beacon_power,
			modulation: MOD_LORA,
			datarate:   datarate_t(gw.beacon_datarate),
			coderate:   CR_LORA_4_5,
			invert_pol: false,
			preamble:   10,
			no_crc:     true,
			no_header:  true,
			payload:    builder.fill(next_beacon_gps_sec),
		}
		switch gw.beacon_bw_hz {
		case 125000:
			beacon_pkt.bandwidth = BW_125KHZ
		case 500000:
			beacon_pkt.bandwidth = BW_500KHZ
		default:
			log_error("unsupported bandwidth for beacon")
			return last_beacon_gps_sec, retry
		}

		/* frequency hops across the beacon channels with the slot */
		var beacon_chan uint32
		if gw.beacon_freq_nb > 1 {
			beacon_chan = uint32((next_beacon_gps_sec / beacon_period) % int64(gw.beacon_freq_nb))
		}
		beacon_pkt.freq_hz = gw.beacon_freq_hz + beacon_chan*gw.beacon_freq_step

		var now, err = f.instcnt()
		if err != nil {
			log_warn("[down] failed to read concentrator counter: %v", err)
			return last_beacon_gps_sec, retry
		}
		var jit_result = f.jit_queue[0].jit_enqueue(now, &beacon_pkt, JIT_PKT_TYPE_BEACON)
		switch jit_result {
		case JIT_ERROR_OK:
			f.stats_dw.mu.Lock()
			f.stats_dw.nb_beacon_queued++
			f.stats_dw.mu.Unlock()
			retry = 0
			last_beacon_gps_sec = next_beacon_gps_sec
			log_info("beacon queued (count_us=%d, freq_hz=%d, size=%d)", uint32(beacon_pkt.count_us), beacon_pkt.freq_hz, len(beacon_pkt.payload))

		case JIT_ERROR_COLLISION_BEACON:
			/* that slot is already covered, move on */
			retry++

		default:
			f.stats_dw.mu.Lock()
			f.stats_dw.nb_beacon_rejected++
			f.stats_dw.mu.Unlock()
			/* retry one period later until it succeeds; after a
			   long GPS outage this walks forward to the first
			   valid slot */
			retry++
			log_debug("beacon queuing failed with %d (retry=%d)", jit_result, retry)
		}
	}
	return last_beacon_gps_sec, retry
}
