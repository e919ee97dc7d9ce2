package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Read the two JSON configuration files.
 *
 * Description:	global_conf.json holds the full board and gateway
 *		configuration; local_conf.json is read afterwards and
 *		overlays gateway parameters (typically just the
 *		gateway_ID).  The file layout is the one the Semtech
 *		ecosystem shares, so field names are fixed.
 *
 *		Parsing goes JSON -> raw structs (pointers for
 *		optionality) -> validated typed configuration.  Unknown
 *		enum strings are rejected here, not discovered later in
 *		a serving thread.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const JSON_CONF_DEFAULT = "global_conf.json"
const JSON_CONF_LOCAL = "local_conf.json"

const DEFAULT_SERVER = "127.0.0.1"
const DEFAULT_PORT_UP = 1780
const DEFAULT_PORT_DW = 1782
const DEFAULT_KEEPALIVE = 5
const DEFAULT_STAT = 30
const DEFAULT_PUSH_TIMEOUT_MS = 100

const DEFAULT_BEACON_FREQ_HZ = 869525000
const DEFAULT_BEACON_FREQ_NB = 1
const DEFAULT_BEACON_FREQ_STEP = 0
const DEFAULT_BEACON_DATARATE = 9
const DEFAULT_BEACON_BW_HZ = 125000
const DEFAULT_BEACON_POWER = 14
const DEFAULT_BEACON_INFODESC = 0

/* Fine timestamp modes of the SX1302. */
type ftime_mode_t int

const (
	FTIME_MODE_HIGH_CAPACITY ftime_mode_t = iota
	FTIME_MODE_ALL_SF
)

type radio_type_t int

const (
	RADIO_TYPE_SX1255 radio_type_t = iota
	RADIO_TYPE_SX1257
	RADIO_TYPE_SX1250
)

/* board_conf_t is what lgw_open and the driver need. */
type board_conf_t struct {
	com_type       com_type_t
	com_path       string
	lorawan_public bool
	clksrc         uint8
	full_duplex    bool

	ftime_enable bool
	ftime_mode   ftime_mode_t

	/* optional GPIO reset wiring, SPI boards only */
	reset_gpio *reset_gpio_conf_t
}

type reset_gpio_conf_t struct {
	chip         string
	reset_pin    int
	power_en_pin int
}

type rssi_tcomp_t struct {
	coeff_a float64
	coeff_b float64
	coeff_c float64
	coeff_d float64
	coeff_e float64
}

type radio_conf_t struct {
	enable            bool
	freq_hz           uint32
	rssi_offset       float64
	rssi_tcomp        rssi_tcomp_t
	radio_type        radio_type_t
	single_input_mode bool
	tx_enable         bool
	tx_freq_min       uint32
	tx_freq_max       uint32
	tx_gain_lut       tx_gain_lut_t
}

type if_conf_t struct {
	enable   bool
	radio    uint8
	freq_off int32 /* offset from the radio center frequency */
}

type lora_std_conf_t struct {
	if_conf_t
	bandwidth             bandwidth_t
	spread_factor         datarate_t
	implicit_hdr          bool
	implicit_payload_len  uint8
	implicit_crc_en       bool
	implicit_coderate     coderate_t
}

type fsk_conf_t struct {
	if_conf_t
	bandwidth bandwidth_t
	datarate  uint32
}

type spectral_scan_conf_t struct {
	enable        bool
	freq_hz_start uint32
	nb_chan       uint8
	nb_scan       uint16
	pace_s        uint32
}

type sx1261_conf_t struct {
	spi_path      string
	rssi_offset   float64
	spectral_scan spectral_scan_conf_t
	lbt_enable    bool
}

type sx130x_conf_t struct {
	board       board_conf_t
	antenna_gain int8
	radios      [LGW_RF_CHAIN_NB]radio_conf_t
	multisf     [8]if_conf_t
	multisf_sfs []int /* enabled spreading factors for the multi-SF demodulators */
	lora_std    lora_std_conf_t
	fsk         fsk_conf_t
	sx1261      sx1261_conf_t
}

type gateway_conf_t struct {
	gateway_id      uint64
	server_address  string
	serv_port_up    int
	serv_port_down  int
	keepalive_s     int
	stat_interval_s int
	push_timeout_ms int

	fwd_valid_pkt bool
	fwd_error_pkt bool
	fwd_nocrc_pkt bool

	gps_tty_path string
	ref_coord    coord_t
	fake_gps     bool

	beacon_period    uint32
	beacon_freq_hz   uint32
	beacon_freq_nb   uint8
	beacon_freq_step uint32
	beacon_datarate  uint8
	beacon_bw_hz     uint32
	beacon_power     int8
	beacon_infodesc  uint8

	autoquit_threshold uint32

	metrics_address string
}

type debug_conf_t struct {
	ref_payload_ids []uint32
	log_file        string
}

type config_t struct {
	sx130x  sx130x_conf_t
	gateway gateway_conf_t
	debug   debug_conf_t
}

/* ---- raw JSON shapes ---------------------------------------------- */

type raw_rssi_tcomp struct {
	CoeffA *float64 `json:"coeff_a"`
	CoeffB *float64 `json:"coeff_b"`
	CoeffC *float64 `json:"coeff_c"`
	CoeffD *float64 `json:"coeff_d"`
	CoeffE *float64 `json:"coeff_e"`
}

type raw_tx_gain struct {
	RfPower *int8 `json:"rf_power"`
}

type raw_radio struct {
	Enable          *bool           `json:"enable"`
	Freq            *uint32         `json:"freq"`
	RssiOffset      *float64        `json:"rssi_offset"`
	RssiTcomp       *raw_rssi_tcomp `json:"rssi_tcomp"`
	Type            *string         `json:"type"`
	SingleInputMode *bool           `json:"single_input_mode"`
	TxEnable        *bool           `json:"tx_enable"`
	TxFreqMin       *uint32         `json:"tx_freq_min"`
	TxFreqMax       *uint32         `json:"tx_freq_max"`
	TxGainLut       []raw_tx_gain   `json:"tx_gain_lut"`
}

type raw_if_chan struct {
	Enable *bool  `json:"enable"`
	Radio  *uint8 `json:"radio"`
	If     *int32 `json:"if"`
}

type raw_lora_std struct {
	raw_if_chan
	Bandwidth        *uint32 `json:"bandwidth"`
	SpreadFactor     *int    `json:"spread_factor"`
	ImplicitHdr      *bool   `json:"implicit_hdr"`
	ImplicitPayload  *uint8  `json:"implicit_payload_length"`
	ImplicitCrcEn    *bool   `json:"implicit_crc_en"`
	ImplicitCoderate *int    `json:"implicit_coderate"`
}

type raw_fsk struct {
	raw_if_chan
	Bandwidth *uint32 `json:"bandwidth"`
	Datarate  *uint32 `json:"datarate"`
}

type raw_ftime struct {
	Enable *bool   `json:"enable"`
	Mode   *string `json:"mode"`
}

type raw_scan struct {
	Enable    *bool   `json:"enable"`
	FreqStart *uint32 `json:"freq_start"`
	NbChan    *uint8  `json:"nb_chan"`
	NbScan    *uint16 `json:"nb_scan"`
	PaceS     *uint32 `json:"pace_s"`
}

type raw_lbt struct {
	Enable *bool `json:"enable"`
}

type raw_sx1261 struct {
	SpiPath      *string   `json:"spi_path"`
	RssiOffset   *float64  `json:"rssi_offset"`
	SpectralScan *raw_scan `json:"spectral_scan"`
	Lbt          *raw_lbt  `json:"lbt"`
}

type raw_reset_gpio struct {
	Chip       *string `json:"chip"`
	ResetPin   *int    `json:"reset_pin"`
	PowerEnPin *int    `json:"power_en_pin"`
}

type raw_multisf_all struct {
	SpreadingFactorEnable []int `json:"spreading_factor_enable"`
}

type raw_sx130x struct {
	ComType      *string         `json:"com_type"`
	ComPath      *string         `json:"com_path"`
	LorawanPublic *bool          `json:"lorawan_public"`
	Clksrc       *uint8          `json:"clksrc"`
	FullDuplex   *bool           `json:"full_duplex"`
	AntennaGain  *int8           `json:"antenna_gain"`
	FineTimestamp *raw_ftime     `json:"fine_timestamp"`
	Sx1261       *raw_sx1261     `json:"sx1261_conf"`
	ResetGpio    *raw_reset_gpio `json:"reset_gpio"`
	MultiSFAll   *raw_multisf_all `json:"chan_multiSF_All"`
	LoraStd      *raw_lora_std   `json:"chan_Lora_std"`
	Fsk          *raw_fsk        `json:"chan_FSK"`

	/* radio_0..N and chan_multiSF_0..7 have numbered keys */
	Extra map[string]json.RawMessage `json:"-"`
}

type raw_gateway struct {
	GatewayID       *string  `json:"gateway_ID"`
	ServerAddress   *string  `json:"server_address"`
	ServPortUp      *int     `json:"serv_port_up"`
	ServPortDown    *int     `json:"serv_port_down"`
	KeepaliveInterval *int   `json:"keepalive_interval"`
	StatInterval    *int     `json:"stat_interval"`
	PushTimeoutMs   *int     `json:"push_timeout_ms"`
	ForwardCrcValid *bool    `json:"forward_crc_valid"`
	ForwardCrcError *bool    `json:"forward_crc_error"`
	ForwardCrcDisab *bool    `json:"forward_crc_disabled"`
	GpsTtyPath      *string  `json:"gps_tty_path"`
	RefLatitude     *float64 `json:"ref_latitude"`
	RefLongitude    *float64 `json:"ref_longitude"`
	RefAltitude     *int16   `json:"ref_altitude"`
	FakeGps         *bool    `json:"fake_gps"`
	BeaconPeriod    *uint32  `json:"beacon_period"`
	BeaconFreqHz    *uint32  `json:"beacon_freq_hz"`
	BeaconFreqNb    *uint8   `json:"beacon_freq_nb"`
	BeaconFreqStep  *uint32  `json:"beacon_freq_step"`
	BeaconDatarate  *uint8   `json:"beacon_datarate"`
	BeaconBwHz      *uint32  `json:"beacon_bw_hz"`
	BeaconPower     *int8    `json:"beacon_power"`
	BeaconInfodesc  *uint8   `json:"beacon_infodesc"`
	AutoquitThreshold *uint32 `json:"autoquit_threshold"`
	MetricsAddress  *string  `json:"metrics_address"`
}

type raw_ref_payload struct {
	ID *string `json:"id"`
}

type raw_debug struct {
	RefPayload []raw_ref_payload `json:"ref_payload"`
	LogFile    *string           `json:"log_file"`
}

type raw_conf_file struct {
	Sx130x  json.RawMessage `json:"SX130x_conf"`
	Gateway json.RawMessage `json:"gateway_conf"`
	Debug   json.RawMessage `json:"debug_conf"`
}

/*-------------------------------------------------------------------
 *
 * Name:	new_config
 *
 * Purpose:	A configuration with the protocol defaults applied.
 *
 *--------------------------------------------------------------------*/

func new_config() *config_t {
	var c = &config_t{}
	c.gateway.server_address = DEFAULT_SERVER
	c.gateway.serv_port_up = DEFAULT_PORT_UP
	c.gateway.serv_port_down = DEFAULT_PORT_DW
	c.gateway.keepalive_s = DEFAULT_KEEPALIVE
	c.gateway.stat_interval_s = DEFAULT_STAT
	c.gateway.push_timeout_ms = DEFAULT_PUSH_TIMEOUT_MS
	c.gateway.fwd_valid_pkt = true
	c.gateway.fwd_error_pkt = true
	c.gateway.fwd_nocrc_pkt = true
	c.gateway.beacon_freq_hz = DEFAULT_BEACON_FREQ_HZ
	c.gateway.beacon_freq_nb = DEFAULT_BEACON_FREQ_NB
	c.gateway.beacon_freq_step = DEFAULT_BEACON_FREQ_STEP
	c.gateway.beacon_datarate = DEFAULT_BEACON_DATARATE
	c.gateway.beacon_bw_hz = DEFAULT_BEACON_BW_HZ
	c.gateway.beacon_power = DEFAULT_BEACON_POWER
	c.gateway.beacon_infodesc = DEFAULT_BEACON_INFODESC
	return c
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_sx130x_configuration
 *
 * Purpose:	Fill the board half of the configuration from one file.
 *
 *--------------------------------------------------------------------*/

func (c *config_t) parse_sx130x_configuration(data []byte) error {
	var file raw_conf_file
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("not a valid JSON document: %w", err)
	}
	if file.Sx130x == nil {
		return fmt.Errorf("no SX130x_conf object")
	}

	var raw raw_sx130x
	if err := json.Unmarshal(file.Sx130x, &raw); err != nil {
		return fmt.Errorf("SX130x_conf: %w", err)
	}
	if err := json.Unmarshal(file.Sx130x, &raw.Extra); err != nil {
		return fmt.Errorf("SX130x_conf: %w", err)
	}

	var board = &c.sx130x.board
	if raw.ComType == nil {
		return fmt.Errorf("com_type must be configured")
	}
	switch strings.ToUpper(*raw.ComType) {
	case "SPI":
		board.com_type = COM_SPI
	case "USB":
		board.com_type = COM_USB
	case "SIM":
		board.com_type = COM_SIM
	default:
		return fmt.Errorf("invalid com type %q (should be SPI or USB)", *raw.ComType)
	}
	if raw.ComPath != nil {
		board.com_path = *raw.ComPath
	} else if board.com_type != COM_SIM {
		return fmt.Errorf("com_path must be configured")
	}
	if raw.LorawanPublic != nil {
		board.lorawan_public = *raw.LorawanPublic
	}
	if raw.Clksrc != nil {
		board.clksrc = *raw.Clksrc
	}
	if raw.FullDuplex != nil {
		board.full_duplex = *raw.FullDuplex
	}
	if raw.AntennaGain != nil {
		c.sx130x.antenna_gain = *raw.AntennaGain
	}

	if raw.FineTimestamp != nil && raw.FineTimestamp.Enable != nil && *raw.FineTimestamp.Enable {
		board.ftime_enable = true
		if raw.FineTimestamp.Mode == nil {
			return fmt.Errorf("fine_timestamp.mode must be configured when enabled")
		}
		switch *raw.FineTimestamp.Mode {
		case "high_capacity":
			board.ftime_mode = FTIME_MODE_HIGH_CAPACITY
		case "all_sf":
			board.ftime_mode = FTIME_MODE_ALL_SF
		default:
			return fmt.Errorf("invalid fine_timestamp.mode %q", *raw.FineTimestamp.Mode)
		}
	}

	if raw.ResetGpio != nil && raw.ResetGpio.Chip != nil && raw.ResetGpio.ResetPin != nil {
		board.reset_gpio = &reset_gpio_conf_t{
			chip:      *raw.ResetGpio.Chip,
			reset_pin: *raw.ResetGpio.ResetPin,
		}
		if raw.ResetGpio.PowerEnPin != nil {
			board.reset_gpio.power_en_pin = *raw.ResetGpio.PowerEnPin
		} else {
			board.reset_gpio.power_en_pin = -1
		}
	}

	if raw.Sx1261 != nil {
		var s = &c.sx130x.sx1261
		if raw.Sx1261.SpiPath != nil {
			s.spi_path = *raw.Sx1261.SpiPath
		}
		if raw.Sx1261.RssiOffset != nil {
			s.rssi_offset = *raw.Sx1261.RssiOffset
		}
		if raw.Sx1261.Lbt != nil && raw.Sx1261.Lbt.Enable != nil {
			s.lbt_enable = *raw.Sx1261.Lbt.Enable
		}
		if raw.Sx1261.SpectralScan != nil && raw.Sx1261.SpectralScan.Enable != nil && *raw.Sx1261.SpectralScan.Enable {
			var scan = &s.spectral_scan
			scan.enable = true
			if raw.Sx1261.SpectralScan.FreqStart == nil || raw.Sx1261.SpectralScan.NbChan == nil || raw.Sx1261.SpectralScan.NbScan == nil {
				return fmt.Errorf("spectral_scan needs freq_start, nb_chan and nb_scan")
			}
			scan.freq_hz_start = *raw.Sx1261.SpectralScan.FreqStart
			scan.nb_chan = *raw.Sx1261.SpectralScan.NbChan
			scan.nb_scan = *raw.Sx1261.SpectralScan.NbScan
			scan.pace_s = 10
			if raw.Sx1261.SpectralScan.PaceS != nil {
				scan.pace_s = *raw.Sx1261.SpectralScan.PaceS
			}
		}
	}

	/* numbered radio objects */
	for i := 0; i < LGW_RF_CHAIN_NB; i++ {
		var key = "radio_" + strconv.Itoa(i)
		var msg, ok = raw.Extra[key]
		if !ok {
			continue
		}
		var rr raw_radio
		if err := json.Unmarshal(msg, &rr); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		var radio = &c.sx130x.radios[i]
		if rr.Enable == nil || !*rr.Enable {
			radio.enable = false
			continue
		}
		radio.enable = true
		if rr.Freq == nil {
			return fmt.Errorf("%s: freq must be configured", key)
		}
		radio.freq_hz = *rr.Freq
		if rr.RssiOffset != nil {
			radio.rssi_offset = *rr.RssiOffset
		}
		if rr.RssiTcomp != nil {
			var t = rr.RssiTcomp
			radio.rssi_tcomp = rssi_tcomp_t{
				coeff_a: deref_f(t.CoeffA), coeff_b: deref_f(t.CoeffB), coeff_c: deref_f(t.CoeffC),
				coeff_d: deref_f(t.CoeffD), coeff_e: deref_f(t.CoeffE),
			}
		}
		if rr.Type == nil {
			return fmt.Errorf("%s: type must be configured", key)
		}
		switch *rr.Type {
		case "SX1255":
			radio.radio_type = RADIO_TYPE_SX1255
		case "SX1257":
			radio.radio_type = RADIO_TYPE_SX1257
		case "SX1250":
			radio.radio_type = RADIO_TYPE_SX1250
		default:
			return fmt.Errorf("%s: invalid radio type %q", key, *rr.Type)
		}
		if rr.SingleInputMode != nil {
			radio.single_input_mode = *rr.SingleInputMode
		}
		if rr.TxEnable != nil && *rr.TxEnable {
			radio.tx_enable = true
			if rr.TxFreqMin == nil || rr.TxFreqMax == nil {
				return fmt.Errorf("%s: tx_freq_min and tx_freq_max must be configured", key)
			}
			radio.tx_freq_min = *rr.TxFreqMin
			radio.tx_freq_max = *rr.TxFreqMax
			for _, g := range rr.TxGainLut {
				if g.RfPower == nil {
					return fmt.Errorf("%s: tx_gain_lut entry without rf_power", key)
				}
				radio.tx_gain_lut.lut = append(radio.tx_gain_lut.lut, tx_gain_t{rf_power: *g.RfPower})
			}
			if len(radio.tx_gain_lut.lut) == 0 {
				return fmt.Errorf("%s: tx_enable requires a tx_gain_lut", key)
			}
		}
	}

	if raw.MultiSFAll != nil {
		c.sx130x.multisf_sfs = raw.MultiSFAll.SpreadingFactorEnable
	}

	/* numbered multi-SF channels */
	for i := 0; i < 8; i++ {
		var key = "chan_multiSF_" + strconv.Itoa(i)
		var msg, ok = raw.Extra[key]
		if !ok {
			continue
		}
		var rc raw_if_chan
		if err := json.Unmarshal(msg, &rc); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		var ch = &c.sx130x.multisf[i]
		if rc.Enable == nil || !*rc.Enable {
			ch.enable = false
			continue
		}
		if rc.Radio == nil || rc.If == nil {
			return fmt.Errorf("%s: radio and if must be configured", key)
		}
		ch.enable = true
		ch.radio = *rc.Radio
		ch.freq_off = *rc.If
	}

	if raw.LoraStd != nil && raw.LoraStd.Enable != nil && *raw.LoraStd.Enable {
		var std = &c.sx130x.lora_std
		std.enable = true
		if raw.LoraStd.Radio == nil || raw.LoraStd.If == nil || raw.LoraStd.Bandwidth == nil || raw.LoraStd.SpreadFactor == nil {
			return fmt.Errorf("chan_Lora_std: radio, if, bandwidth and spread_factor must be configured")
		}
		std.radio = *raw.LoraStd.Radio
		std.freq_off = *raw.LoraStd.If
		std.bandwidth = bandwidth_t(*raw.LoraStd.Bandwidth)
		std.spread_factor = datarate_t(*raw.LoraStd.SpreadFactor)
		if raw.LoraStd.ImplicitHdr != nil && *raw.LoraStd.ImplicitHdr {
			std.implicit_hdr = true
			std.implicit_payload_len = deref_u8(raw.LoraStd.ImplicitPayload)
			std.implicit_crc_en = raw.LoraStd.ImplicitCrcEn != nil && *raw.LoraStd.ImplicitCrcEn
			std.implicit_coderate = coderate_t(deref_int(raw.LoraStd.ImplicitCoderate))
		}
	}

	if raw.Fsk != nil && raw.Fsk.Enable != nil && *raw.Fsk.Enable {
		var f = &c.sx130x.fsk
		f.enable = true
		if raw.Fsk.Radio == nil || raw.Fsk.If == nil || raw.Fsk.Bandwidth == nil || raw.Fsk.Datarate == nil {
			return fmt.Errorf("chan_FSK: radio, if, bandwidth and datarate must be configured")
		}
		f.radio = *raw.Fsk.Radio
		f.freq_off = *raw.Fsk.If
		f.bandwidth = bandwidth_t(*raw.Fsk.Bandwidth)
		f.datarate = *raw.Fsk.Datarate
	}

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_gateway_configuration
 *
 * Purpose:	Fill (or overlay) the gateway half of the configuration
 *		from one file.  Absent fields keep their current value,
 *		which is what makes local_conf.json an overlay.
 *
 *--------------------------------------------------------------------*/

func (c *config_t) parse_gateway_configuration(data []byte) error {
	var file raw_conf_file
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("not a valid JSON document: %w", err)
	}
	if file.Gateway == nil {
		return fmt.Errorf("no gateway_conf object")
	}

	var raw raw_gateway
	if err := json.Unmarshal(file.Gateway, &raw); err != nil {
		return fmt.Errorf("gateway_conf: %w", err)
	}

	var gw = &c.gateway
	if raw.GatewayID != nil {
		var id, err = strconv.ParseUint(*raw.GatewayID, 16, 64)
		if err != nil {
			return fmt.Errorf("gateway_ID %q is not a hex MAC: %w", *raw.GatewayID, err)
		}
		gw.gateway_id = id
	}
	if raw.ServerAddress != nil {
		gw.server_address = *raw.ServerAddress
	}
	if raw.ServPortUp != nil {
		gw.serv_port_up = *raw.ServPortUp
	}
	if raw.ServPortDown != nil {
		gw.serv_port_down = *raw.ServPortDown
	}
	if raw.KeepaliveInterval != nil {
		gw.keepalive_s = *raw.KeepaliveInterval
	}
	if raw.StatInterval != nil {
		gw.stat_interval_s = *raw.StatInterval
	}
	if raw.PushTimeoutMs != nil {
		gw.push_timeout_ms = *raw.PushTimeoutMs
	}
	if raw.ForwardCrcValid != nil {
		gw.fwd_valid_pkt = *raw.ForwardCrcValid
	}
	if raw.ForwardCrcError != nil {
		gw.fwd_error_pkt = *raw.ForwardCrcError
	}
	if raw.ForwardCrcDisab != nil {
		gw.fwd_nocrc_pkt = *raw.ForwardCrcDisab
	}
	if raw.GpsTtyPath != nil {
		gw.gps_tty_path = *raw.GpsTtyPath
	}
	if raw.RefLatitude != nil {
		gw.ref_coord.lat = *raw.RefLatitude
	}
	if raw.RefLongitude != nil {
		gw.ref_coord.lon = *raw.RefLongitude
	}
	if raw.RefAltitude != nil {
		gw.ref_coord.alt = *raw.RefAltitude
	}
	if raw.FakeGps != nil {
		gw.fake_gps = *raw.FakeGps
	}
	if raw.BeaconPeriod != nil {
		gw.beacon_period = *raw.BeaconPeriod
		if gw.beacon_period > 0 && (gw.beacon_period < 6 || 86400%gw.beacon_period != 0) {
			return fmt.Errorf("beacon_period %d is not a divisor of 86400 of 6 s or more", gw.beacon_period)
		}
	}
	if raw.BeaconFreqHz != nil {
		gw.beacon_freq_hz = *raw.BeaconFreqHz
	}
	if raw.BeaconFreqNb != nil {
		gw.beacon_freq_nb = *raw.BeaconFreqNb
	}
	if raw.BeaconFreqStep != nil {
		gw.beacon_freq_step = *raw.BeaconFreqStep
	}
	if raw.BeaconDatarate != nil {
		gw.beacon_datarate = *raw.BeaconDatarate
	}
	if raw.BeaconBwHz != nil {
		gw.beacon_bw_hz = *raw.BeaconBwHz
	}
	if raw.BeaconPower != nil {
		gw.beacon_power = *raw.BeaconPower
	}
	if raw.BeaconInfodesc != nil {
		gw.beacon_infodesc = *raw.BeaconInfodesc
	}
	if raw.AutoquitThreshold != nil {
		gw.autoquit_threshold = *raw.AutoquitThreshold
	}
	if raw.MetricsAddress != nil {
		gw.metrics_address = *raw.MetricsAddress
	}

	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_debug_configuration
 *
 * Purpose:	Optional debug_conf object: reference payload ids and a
 *		log file name.
 *
 *--------------------------------------------------------------------*/

func (c *config_t) parse_debug_configuration(data []byte) error {
	var file raw_conf_file
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("not a valid JSON document: %w", err)
	}
	if file.Debug == nil {
		return fmt.Errorf("no debug_conf object")
	}

	var raw raw_debug
	if err := json.Unmarshal(file.Debug, &raw); err != nil {
		return fmt.Errorf("debug_conf: %w", err)
	}
	for _, rp := range raw.RefPayload {
		if rp.ID == nil {
			continue
		}
		var id, err = strconv.ParseUint(strings.TrimPrefix(*rp.ID, "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("debug_conf: ref_payload id %q: %w", *rp.ID, err)
		}
		c.debug.ref_payload_ids = append(c.debug.ref_payload_ids, uint32(id))
	}
	if raw.LogFile != nil {
		c.debug.log_file = *raw.LogFile
	}
	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	load_configuration
 *
 * Purpose:	Read the global file then overlay the local one, the
 *		way the ecosystem splits board config from gateway
 *		identity.
 *
 *--------------------------------------------------------------------*/

func load_configuration(global_path string, local_path string) (*config_t, error) {
	var c = new_config()

	var data, err = os.ReadFile(global_path)
	if err != nil {
		return nil, fmt.Errorf("failed to find configuration file %s: %w", global_path, err)
	}
	if err := c.parse_sx130x_configuration(data); err != nil {
		return nil, fmt.Errorf("%s: %w", global_path, err)
	}
	if err := c.parse_gateway_configuration(data); err != nil {
		return nil, fmt.Errorf("%s: %w", global_path, err)
	}
	if err := c.parse_debug_configuration(data); err == nil {
		log_debug("found debug configuration in %s", global_path)
	}

	/* the local file only carries gateway parameters */
	data, err = os.ReadFile(local_path)
	if err != nil {
		return nil, fmt.Errorf("failed to find configuration file %s: %w", local_path, err)
	}
	if err := c.parse_gateway_configuration(data); err != nil {
		return nil, fmt.Errorf("%s: %w", local_path, err)
	}

	if c.gateway.gateway_id == 0 {
		return nil, fmt.Errorf("gateway_ID must be configured")
	}
	return c, nil
}

func deref_f(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func deref_u8(p *uint8) uint8 {
	if p == nil {
		return 0
	}
	return *p
}

func deref_int(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
