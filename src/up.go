package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Upstream thread: radio packets to PUSH_DATA datagrams.
 *
 * Description:	Each cycle fetches up to 255 packets from the
 *		concentrator.  With nothing to send and no pending
 *		status report, it sleeps 10 ms and retries.  Otherwise
 *		it serializes the surviving packets (CRC filter) plus
 *		the report into one PUSH_DATA, sends it with a random
 *		token, and waits up to push_timeout for the matching
 *		PUSH_ACK, discarding everything else.  Unacknowledged
 *		datagrams are not retried; the loss only shows in the
 *		ACK ratio.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

func (f *forwarder_t) thread_up() {
	var ack_buff [64]byte

	/* per-channel / per-SF RX accounting, kept across cycles */
	var nb_pkt_log [LGW_IF_CHAIN_NB][8]uint32
	var nb_pkt_received_lora uint32
	var nb_pkt_received_fsk uint32
	var nb_pkt_received_ref = make([]uint32, len(f.conf.debug.ref_payload_ids))

	for !f.stopping() {
		/* fetch packets */
		f.mx_concent.Lock()
		var rxpkt, err = f.concent.receive(NB_PKT_MAX)
		f.mx_concent.Unlock()
		if err != nil {
			log_error("[up] failed packet fetch, exiting: %v", err)
			f.request_exit()
			return
		}

		var send_report = f.report.peek_ready()

		/* wait a short time if no packets, nor status report */
		if len(rxpkt) == 0 && !send_report {
			time.Sleep(FETCH_SLEEP_MS * time.Millisecond)
			continue
		}

		/* local copy of the GPS time reference, one lock for the
		   whole batch */
		var local_ref tref_t
		var ref_ok = false
		if len(rxpkt) > 0 && f.gps_enabled {
			local_ref, ref_ok = f.timeref.snapshot()
		}

		var body push_data_body_t
		for i := range rxpkt {
			var p = &rxpkt[i]

			/* mote address and frame counter from the FHDR */
			var mote_addr uint32
			var mote_fcnt uint16
			if len(p.payload) >= 8 {
				mote_addr = binary.LittleEndian.Uint32(p.payload[1:5])
				mote_fcnt = binary.LittleEndian.Uint16(p.payload[6:8])
			}

			/* basic packet filtering */
			f.stats_up.mu.Lock()
			f.stats_up.nb_rx_rcv++
			var forward bool
			switch p.status {
			case STAT_CRC_OK:
				f.stats_up.nb_rx_ok++
				forward = f.conf.gateway.fwd_valid_pkt
			case STAT_CRC_BAD:
				f.stats_up.nb_rx_bad++
				forward = f.conf.gateway.fwd_error_pkt
			case STAT_NO_CRC:
				f.stats_up.nb_rx_nocrc++
				forward = f.conf.gateway.fwd_nocrc_pkt
			default:
				log_warn("[up] received packet with unknown status %d (size %d, modulation %d)", p.status, len(p.payload), p.modulation)
			}
			if forward {
				f.stats_up.up_pkt_fwd++
				f.stats_up.up_payload_byte += uint32(len(p.payload))
			}
			f.stats_up.mu.Unlock()
			if !forward {
				continue
			}

			log_info("received pkt from mote: %08X (fcnt=%d)", mote_addr, mote_fcnt)

			var rxpk, conv_err = f.make_rxpk(p, &local_ref, ref_ok)
			if conv_err != nil {
				log_error("[up] %v", conv_err)
				continue
			}
			body.Rxpk = append(body.Rxpk, rxpk)

			/* per-channel and reference-payload accounting */
			if p.modulation == MOD_LORA {
				if int(p.if_chain) < LGW_IF_CHAIN_NB && p.datarate >= 5 && p.datarate <= 12 {
					nb_pkt_log[p.if_chain][p.datarate-5]++
				}
				nb_pkt_received_lora++
				for k, id := range f.conf.debug.ref_payload_ids {
					if len(p.payload) >= 4 && binary.BigEndian.Uint32(p.payload[0:4]) == id {
						nb_pkt_received_ref[k]++
					}
				}
			} else if p.modulation == MOD_FSK {
				nb_pkt_log[LGW_IF_CHAIN_NB-1][0]++
				nb_pkt_received_fsk++
			}
		}

		log_debug("[up] %d LoRa and %d FSK packets received in total", nb_pkt_received_lora, nb_pkt_received_fsk)
		for chain := range nb_pkt_log {
			log_debug("[up] IF chain %d packets: %v", chain, nb_pkt_log[chain])
		}
		for k, id := range f.conf.debug.ref_payload_ids {
			log_debug("[up] %d packets received from 0x%08X", nb_pkt_received_ref[k], id)
		}

		/* restart the fetch sequence without sending an empty
		   datagram if every packet was filtered out */
		if len(body.Rxpk) == 0 && !send_report {
			continue
		}

		if send_report {
			if stat, ok := f.report.take(); ok {
				body.Stat = &stat
			}
		}

		var payload, marshal_err = json.Marshal(&body)
		if marshal_err != nil {
			log_error("[up] failed to serialize PUSH_DATA body: %v", marshal_err)
			continue
		}

		var token = random_token()
		var dgram = make_gateway_datagram(token, PKT_PUSH_DATA, f.conf.gateway.gateway_id, payload)

		log_debug("[up] JSON up: %s", payload)

		/* send datagram to server */
		if _, err := f.sock_up.Write(dgram); err != nil {
			log_warn("[up] send failed: %v", err)
			continue
		}
		var send_time = time.Now()
		f.stats_up.mu.Lock()
		f.stats_up.up_dgram_sent++
		f.stats_up.up_network_byte += uint32(len(dgram))
		f.stats_up.mu.Unlock()

		/* wait for the matching acknowledge, discarding anything
		   else, until the deadline */
		var deadline = send_time.Add(time.Duration(f.conf.gateway.push_timeout_ms) * time.Millisecond)
		f.sock_up.SetReadDeadline(deadline)
		for {
			var n, recv_err = f.sock_up.Read(ack_buff[:])
			if recv_err != nil {
				break /* timeout or connection error */
			}
			if !is_push_ack(ack_buff[:n], token) {
				continue /* out-of-sync token or not an ACK */
			}
			log_info("[up] PUSH_ACK received in %d ms", time.Since(send_time).Milliseconds())
			f.stats_up.mu.Lock()
			f.stats_up.up_ack_rcv++
			f.stats_up.mu.Unlock()
			break
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	make_rxpk
 *
 * Purpose:	Convert one received packet to its JSON object.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) make_rxpk(p *rx_packet_t, local_ref *tref_t, ref_ok bool) (rxpk_t, error) {
	var rxpk = rxpk_t{
		Jver: PROTOCOL_JSON_RXPK_FRAME_FORMAT,
		Tmst: uint32(p.count_us),
		Chan: p.if_chain,
		Rfch: p.rf_chain,
		Freq: float64(p.freq_hz) / 1e6,
		Mid:  p.modem_id,
		Size: uint16(len(p.payload)),
		Data: base64.StdEncoding.EncodeToString(p.payload),
	}

	switch p.status {
	case STAT_CRC_OK:
		rxpk.Stat = 1
	case STAT_CRC_BAD:
		rxpk.Stat = -1
	case STAT_NO_CRC:
		rxpk.Stat = 0
	}

	/* packet RX time, GPS based */
	if ref_ok {
		var utc_sec, utc_nsec = local_ref.cnt2utc(p.count_us)
		var t = time.Unix(utc_sec, utc_nsec).UTC().Format("2006-01-02T15:04:05.000000Z")
		rxpk.Time = &t

		var gps_sec, gps_nsec = local_ref.cnt2gps(p.count_us)
		var tmms = uint64(gps_sec)*1000 + uint64(gps_nsec)/1000000
		rxpk.Tmms = &tmms
	}

	if p.ftime_received {
		var ftime = p.ftime
		rxpk.Ftime = &ftime
	}

	switch p.modulation {
	case MOD_LORA:
		rxpk.Modu = "LORA"
		if p.datarate < DR_LORA_SF5 || p.datarate > DR_LORA_SF12 {
			return rxpk, fmt.Errorf("lora packet with unknown datarate %d", p.datarate)
		}
		if p.bandwidth != BW_125KHZ && p.bandwidth != BW_250KHZ && p.bandwidth != BW_500KHZ {
			return rxpk, fmt.Errorf("lora packet with unknown bandwidth %d", p.bandwidth)
		}
		rxpk.Datr = format_datr(p.datarate, p.bandwidth)
		rxpk.Codr = format_codr(p.coderate)

		var rssis = int(math.Round(float64(p.rssis)))
		var lsnr = math.Round(float64(p.snr)*10) / 10
		var foff = p.freq_offset
		rxpk.Rssis = &rssis
		rxpk.Lsnr = &lsnr
		rxpk.Foff = &foff

	case MOD_FSK:
		rxpk.Modu = "FSK"
		rxpk.Datr = p.datarate_fsk

	default:
		return rxpk, fmt.Errorf("received packet with unknown modulation %d", p.modulation)
	}

	rxpk.Rssi = int(math.Round(float64(p.rssic)))
	return rxpk, nil
}
