package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Background spectral scan of the configured band.
 *
 * Description:	The SX1261 sweeps one 200 kHz channel at a time,
 *		nb_scan RSSI points per channel, pacing between
 *		sweeps.  A sweep only starts when no TX chain has a
 *		packet scheduled or on the air; the dispatcher aborts
 *		a running sweep if a downlink becomes due.
 *
 *---------------------------------------------------------------*/

import "time"

const SPECTRAL_SCAN_TIMEOUT_MS = 2000
const SPECTRAL_SCAN_POLL_MS = 10
const SPECTRAL_SCAN_STEP_HZ = 200000

func (f *forwarder_t) thread_spectral_scan() {
	var params = &f.conf.sx130x.sx1261.spectral_scan
	var freq_hz = params.freq_hz_start
	var freq_hz_stop = params.freq_hz_start + uint32(params.nb_chan)*SPECTRAL_SCAN_STEP_HZ

	for !f.stopping() {
		/* pace the scan thread (1 sec min) */
		var pace = params.pace_s
		if pace == 0 {
			pace = 1
		}
		sleep_interruptible(f, time.Duration(pace)*time.Second)
		if f.stopping() {
			break
		}

		/* start a sweep only if no downlink is programmed */
		var scan_started = false
		f.mx_concent.Lock()
		var tx_busy = false
		for i := 0; i < LGW_RF_CHAIN_NB; i++ {
			if !f.conf.sx130x.radios[i].tx_enable {
				continue
			}
			var status, err = f.concent.tx_status(uint8(i))
			if err != nil {
				log_error("failed to get TX status on chain %d: %v", i, err)
				continue
			}
			if status == TX_SCHEDULED || status == TX_EMITTING {
				log_info("skip spectral scan (downlink programmed on RF chain %d)", i)
				tx_busy = true
				break
			}
		}
		if !tx_busy {
			if err := f.concent.spectral_scan_start(freq_hz, params.nb_scan); err != nil {
				log_error("spectral scan start failed: %v", err)
				f.mx_concent.Unlock()
				continue
			}
			scan_started = true
		}
		f.mx_concent.Unlock()

		if !scan_started {
			continue
		}

		/* wait for the sweep to complete */
		var status = SCAN_STATUS_UNKNOWN
		var started = time.Now()
		for status != SCAN_STATUS_COMPLETED && status != SCAN_STATUS_ABORTED {
			if time.Since(started) > SPECTRAL_SCAN_TIMEOUT_MS*time.Millisecond {
				log_error("timeout on spectral scan")
				break
			}

			f.mx_concent.Lock()
			var err error
			status, err = f.concent.spectral_scan_get_status()
			f.mx_concent.Unlock()
			if err != nil {
				log_error("spectral scan status failed: %v", err)
				break
			}

			time.Sleep(SPECTRAL_SCAN_POLL_MS * time.Millisecond)
		}

		if status == SCAN_STATUS_ABORTED {
			log_info("spectral scan has been aborted")
			continue
		}
		if status != SCAN_STATUS_COMPLETED {
			continue
		}

		f.mx_concent.Lock()
		var _, results, err = f.concent.spectral_scan_get_results()
		f.mx_concent.Unlock()
		if err != nil {
			log_error("spectral scan get results failed: %v", err)
			continue
		}

		log_info("SPECTRAL SCAN - %d Hz: %v", freq_hz, results)

		/* next channel, wrapping at the end of the band */
		freq_hz += SPECTRAL_SCAN_STEP_HZ
		if freq_hz >= freq_hz_stop {
			freq_hz = params.freq_hz_start
		}
	}
}
