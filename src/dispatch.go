package laika

/*------------------------------------------------------------------
 *
 * Purpose:	JIT thread: hand due packets to the radio.
 *
 * Description:	Every 10 ms, for each RF chain: read the live counter,
 *		peek the chain's queue, and send whatever is ready.
 *		Beacon frequencies get the crystal correction applied
 *		at the last moment, since the correction keeps moving
 *		while the beacon waits in the queue.
 *
 *		The radio owns at most one scheduled TX per chain: if
 *		it is still EMITTING the dispatch attempt is dropped
 *		(the entry was already dequeued, the following slot
 *		will not be), and a SCHEDULED packet is overwritten
 *		with a warning.
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"time"
)

func (f *forwarder_t) thread_jit() {
	for !f.stopping() {
		time.Sleep(JIT_POLL_MS * time.Millisecond)

		for i := 0; i < LGW_RF_CHAIN_NB; i++ {
			var now, err = f.instcnt()
			if err != nil {
				log_error("[jit%d] failed to read concentrator counter: %v", i, err)
				continue
			}

			var idx, purged = f.jit_queue[i].jit_peek(now)
			if purged > 0 {
				log_warn("[jit%d] %d packet(s) expired in queue", i, purged)
				f.stats_dw.mu.Lock()
				f.stats_dw.nb_tx_fail += uint32(purged)
				f.stats_dw.mu.Unlock()
			}
			if idx < 0 {
				continue
			}

			var pkt, pkt_type, deq_err = f.jit_queue[i].jit_dequeue(idx)
			if deq_err != JIT_ERROR_OK {
				log_error("[jit%d] jit_dequeue failed with %d", i, deq_err)
				continue
			}

			if pkt_type == JIT_PKT_TYPE_BEACON {
				/* compensate beacon frequency with the crystal error */
				var xtal_correct, _ = f.xtal.get()
				pkt.freq_hz = uint32(math.Round(xtal_correct * float64(pkt.freq_hz)))
				log_debug("beacon_pkt.freq_hz=%d (xtal_correct=%.15f)", pkt.freq_hz, xtal_correct)

				f.stats_dw.mu.Lock()
				f.stats_dw.nb_beacon_sent++
				f.stats_dw.mu.Unlock()
				log_info("beacon dequeued (count_us=%d)", uint32(pkt.count_us))
			}

			/* check if the concentrator is free for a new packet */
			f.mx_concent.Lock() /* may have to wait for a fetch to finish */
			var tx_status, status_err = f.concent.tx_status(pkt.rf_chain)
			f.mx_concent.Unlock()
			if status_err != nil {
				log_warn("[jit%d] tx_status failed: %v", i, status_err)
			} else {
				if tx_status == TX_EMITTING {
					log_error("concentrator is currently emitting on rf_chain %d", i)
					continue
				}
				if tx_status == TX_SCHEDULED {
					log_warn("a downlink was already scheduled on rf_chain %d, overwriting it...", i)
				}
			}

			/* send packet to concentrator */
			f.mx_concent.Lock()
			if f.conf.sx130x.sx1261.spectral_scan.enable {
				if err := f.concent.spectral_scan_abort(); err != nil {
					log_warn("[jit%d] spectral_scan_abort failed: %v", i, err)
				}
			}
			var send_err = f.concent.send(&pkt)
			f.mx_concent.Unlock()
			if send_err != nil {
				f.stats_dw.mu.Lock()
				f.stats_dw.nb_tx_fail++
				f.stats_dw.mu.Unlock()
				log_warn("[jit] send failed on rf_chain %d: %v", i, send_err)
				continue
			}
			f.stats_dw.mu.Lock()
			f.stats_dw.nb_tx_ok++
			f.stats_dw.mu.Unlock()
			log_debug("send done on rf_chain %d: count_us=%d", i, uint32(pkt.count_us))
		}
	}
}
