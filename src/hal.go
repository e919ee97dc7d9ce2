package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Interface to the LoRa concentrator hardware abstraction
 *		layer, and the data types shared with it.
 *
 * Description:	The daemon drives an SX1302-class baseband chip through
 *		a small set of operations: start/stop, bulk packet
 *		fetch, single packet send, TX status, the two internal
 *		counters (free-running and PPS-latched), temperature,
 *		and the SX1261 spectral scanner.
 *
 *		The concrete register-level driver is a separate
 *		concern.  Everything in this package talks to the
 *		concentrator interface below, so the whole daemon can
 *		run against the software model in sim.go.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
)

/* Maximum number of packets fetched from the concentrator per cycle. */
const NB_PKT_MAX = 255

/* Number of RF chains (TX paths) on the board. */
const LGW_RF_CHAIN_NB = 2

/* Number of IF chains (multi-SF channels + LoRa-std + FSK). */
const LGW_IF_CHAIN_NB = 10

/* Number of RSSI points returned by one spectral scan. */
const LGW_SPECTRAL_SCAN_RESULT_SIZE = 33

/* Maximum radio payload size. */
const LGW_PKT_MAX_SIZE = 255

type com_type_t int

const (
	COM_SPI com_type_t = iota
	COM_USB
	COM_SIM
)

type modulation_t int

const (
	MOD_UNDEFINED modulation_t = iota
	MOD_LORA
	MOD_FSK
)

// LoRa spreading factors.  Values are the SF itself, which keeps
// datarate arithmetic (channel/SF accounting, "SF9BW125" formatting)
// free of lookup tables.
type datarate_t int

const (
	DR_LORA_SF5  datarate_t = 5
	DR_LORA_SF6  datarate_t = 6
	DR_LORA_SF7  datarate_t = 7
	DR_LORA_SF8  datarate_t = 8
	DR_LORA_SF9  datarate_t = 9
	DR_LORA_SF10 datarate_t = 10
	DR_LORA_SF11 datarate_t = 11
	DR_LORA_SF12 datarate_t = 12
)

type bandwidth_t int

const (
	BW_UNDEFINED bandwidth_t = 0
	BW_125KHZ    bandwidth_t = 125000
	BW_250KHZ    bandwidth_t = 250000
	BW_500KHZ    bandwidth_t = 500000
)

type coderate_t int

const (
	CR_UNDEFINED coderate_t = iota
	CR_LORA_4_5
	CR_LORA_4_6
	CR_LORA_4_7
	CR_LORA_4_8
)

/* CRC status of a received packet. */
type crc_status_t int

const (
	STAT_UNDEFINED crc_status_t = iota
	STAT_NO_CRC
	STAT_CRC_BAD
	STAT_CRC_OK
)

/* TX trigger modes. */
type tx_mode_t int

const (
	TX_IMMEDIATE   tx_mode_t = iota /* send as soon as possible */
	TX_TIMESTAMPED                  /* send when the counter reaches count_us */
	TX_ON_GPS                       /* send on the PPS edge following count_us */
)

/* TX path state as reported by the concentrator. */
type tx_status_t int

const (
	TX_STATUS_UNKNOWN tx_status_t = iota
	TX_OFF
	TX_FREE
	TX_SCHEDULED
	TX_EMITTING
)

func (s tx_status_t) String() string {
	switch s {
	case TX_OFF:
		return "TX_OFF"
	case TX_FREE:
		return "TX_FREE"
	case TX_SCHEDULED:
		return "TX_SCHEDULED"
	case TX_EMITTING:
		return "TX_EMITTING"
	default:
		return fmt.Sprintf("UNKNOWN (%d)", int(s))
	}
}

type scan_status_t int

const (
	SCAN_STATUS_UNKNOWN scan_status_t = iota
	SCAN_STATUS_NONE
	SCAN_STATUS_ON_GOING
	SCAN_STATUS_ABORTED
	SCAN_STATUS_COMPLETED
)

/*
 * A packet demodulated by the concentrator, with RX metadata.
 */
type rx_packet_t struct {
	freq_hz        uint32             /* central frequency of the IF chain */
	freq_offset    int32              /* frequency error in Hz */
	if_chain       uint8              /* IF chain the packet was received on */
	status         crc_status_t       /* CRC verdict */
	count_us       concentrator_time  /* counter value at end of reception */
	rf_chain       uint8              /* RF chain the packet was received on */
	modem_id       uint8              /* demodulator slot */
	modulation     modulation_t       /* LORA or FSK */
	bandwidth      bandwidth_t        /* LoRa only */
	datarate       datarate_t         /* LoRa SF, or FSK bitrate in datarate_fsk */
	datarate_fsk   uint32             /* FSK bitrate in bit/s */
	coderate       coderate_t         /* LoRa only; CR_UNDEFINED on false sync */
	rssic          float32            /* channel RSSI in dBm */
	rssis          float32            /* signal RSSI in dBm (LoRa only) */
	snr            float32            /* average packet SNR in dB (LoRa only) */
	ftime_received bool               /* fine timestamp present */
	ftime          uint32             /* fine timestamp, ns inside the PPS second */
	payload        []byte
}

/*
 * A packet to transmit, with TX parameters.
 */
type tx_packet_t struct {
	freq_hz    uint32            /* TX central frequency */
	tx_mode    tx_mode_t
	count_us   concentrator_time /* TX trigger counter value */
	rf_chain   uint8
	rf_power   int8              /* TX power in dBm */
	modulation modulation_t
	bandwidth  bandwidth_t       /* LoRa only */
	datarate   datarate_t        /* LoRa SF */
	datarate_fsk uint32          /* FSK bitrate in bit/s */
	coderate   coderate_t        /* LoRa only */
	invert_pol bool              /* LoRa only, invert polarity for downlink */
	f_dev      uint8             /* FSK frequency deviation in kHz */
	preamble   uint16            /* preamble length in symbols (LoRa) or bytes (FSK) */
	no_crc     bool              /* do not append a physical-layer CRC */
	no_header  bool              /* LoRa implicit header mode */
	payload    []byte
}

/* One TX gain LUT entry.  Only the requestable power matters here; the
   register fields belong to the driver. */
type tx_gain_t struct {
	rf_power int8
}

type tx_gain_lut_t struct {
	lut []tx_gain_t
}

var ErrHALNotLinked = errors.New("no concentrator driver linked for this com type")

/*
 * The operations the daemon performs against the concentrator.  All of
 * them may block on SPI/USB traffic; callers serialize access with a
 * single mutex (see forwarder.go).
 */
type concentrator interface {
	/* Configure and start the radio.  No RX/TX before this. */
	start() error

	/* Stop the radio.  The instance cannot be restarted. */
	stop() error

	/* Fetch up to max demodulated packets.  Returns an empty slice
	   when nothing is pending. */
	receive(max int) ([]rx_packet_t, error)

	/* Program one TX.  Replaces any previously scheduled TX on the
	   same RF chain. */
	send(pkt *tx_packet_t) error

	/* State of the TX path of one RF chain. */
	tx_status(rf_chain uint8) (tx_status_t, error)

	/* Instantaneous value of the free-running counter. */
	get_instcnt() (concentrator_time, error)

	/* Counter value latched on the last PPS edge. */
	get_trigcnt() (concentrator_time, error)

	/* Board temperature in degrees Celsius. */
	get_temperature() (float32, error)

	/* Concentrator unique identifier. */
	get_eui() (uint64, error)

	/* SX1261 spectral scan control. */
	spectral_scan_start(freq_hz uint32, nb_scan uint16) error
	spectral_scan_get_status() (scan_status_t, error)
	spectral_scan_get_results() (levels []int16, results []uint16, err error)
	spectral_scan_abort() error
}

/*-------------------------------------------------------------------
 *
 * Name:	lgw_open
 *
 * Purpose:	Produce a concentrator for the configured com type.
 *
 * Description:	SPI and USB need the register-level SX1302 driver,
 *		which is linked separately and not part of this
 *		repository.  SIM returns the built-in software model,
 *		useful for development and exercised heavily by tests.
 *
 *--------------------------------------------------------------------*/

func lgw_open(conf *board_conf_t) (concentrator, error) {
	switch conf.com_type {
	case COM_SIM:
		return new_sim_concentrator(conf), nil
	case COM_SPI, COM_USB:
		return nil, fmt.Errorf("com_path %s: %w", conf.com_path, ErrHALNotLinked)
	default:
		return nil, fmt.Errorf("unknown com type %d", conf.com_type)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	lgw_time_on_air
 *
 * Purpose:	Duration of a packet on the air, in microseconds.
 *
 * Description:	LoRa symbol time is 2^SF / BW.  The payload symbol
 *		count follows the usual ceil() formula, with low
 *		datarate optimization implied for SF11/SF12 at 125 kHz.
 *		FSK is byte-counting at the programmed bitrate.
 *
 *--------------------------------------------------------------------*/

func lgw_time_on_air(pkt *tx_packet_t) uint32 {
	switch pkt.modulation {
	case MOD_LORA:
		if pkt.bandwidth == BW_UNDEFINED || pkt.datarate < DR_LORA_SF5 || pkt.datarate > DR_LORA_SF12 {
			return 0
		}

		var sf = int(pkt.datarate)
		var bw = int(pkt.bandwidth)

		/* symbol duration in microseconds */
		var t_sym = float64(int(1)<<sf) * 1e6 / float64(bw)

		/* low datarate optimization */
		var de = 0
		if bw == int(BW_125KHZ) && sf >= 11 {
			de = 1
		}

		var h = 1 /* explicit header */
		if pkt.no_header {
			h = 0
		}

		var crc = 1
		if pkt.no_crc {
			crc = 0
		}

		var cr = int(pkt.coderate) /* CR_LORA_4_5 == 1 ... CR_LORA_4_8 == 4 */

		var payload_nb int
		{
			var num = 8*len(pkt.payload) - 4*sf + 28 + 16*crc - 20*(1-h)
			var den = 4 * (sf - 2*de)
			payload_nb = 8
			if num > 0 {
				payload_nb += ((num + den - 1) / den) * (cr + 4)
			}
		}

		var t_preamble = (float64(pkt.preamble) + 4.25) * t_sym
		var t_payload = float64(payload_nb) * t_sym

		return uint32(t_preamble + t_payload)

	case MOD_FSK:
		if pkt.datarate_fsk == 0 {
			return 0
		}
		/* preamble + sync word (3) + length byte + payload + CRC (2) */
		var nb_bytes = int(pkt.preamble) + 3 + 1 + len(pkt.payload) + 2
		return uint32(float64(nb_bytes) * 8 * 1e6 / float64(pkt.datarate_fsk))

	default:
		return 0
	}
}
