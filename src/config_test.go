package laika

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const test_global_conf = `{
  "SX130x_conf": {
    "com_type": "SPI",
    "com_path": "/dev/spidev0.0",
    "lorawan_public": true,
    "clksrc": 0,
    "antenna_gain": 2,
    "full_duplex": false,
    "fine_timestamp": {"enable": true, "mode": "all_sf"},
    "sx1261_conf": {
      "spi_path": "/dev/spidev0.1",
      "rssi_offset": -11.5,
      "spectral_scan": {"enable": true, "freq_start": 867100000, "nb_chan": 8, "nb_scan": 2000, "pace_s": 10},
      "lbt": {"enable": false}
    },
    "radio_0": {
      "enable": true, "type": "SX1250", "freq": 867500000,
      "rssi_offset": -215.4,
      "rssi_tcomp": {"coeff_a": 0, "coeff_b": 0, "coeff_c": 20.41, "coeff_d": 2162.56, "coeff_e": 0},
      "tx_enable": true, "single_input_mode": false,
      "tx_freq_min": 863000000, "tx_freq_max": 870000000,
      "tx_gain_lut": [{"rf_power": 12}, {"rf_power": 14}, {"rf_power": 27}]
    },
    "radio_1": {"enable": true, "type": "SX1250", "freq": 868500000, "rssi_offset": -215.4, "tx_enable": false},
    "chan_multiSF_All": {"spreading_factor_enable": [5, 6, 7, 8, 9, 10, 11, 12]},
    "chan_multiSF_0": {"enable": true, "radio": 1, "if": -400000},
    "chan_multiSF_1": {"enable": true, "radio": 1, "if": -200000},
    "chan_multiSF_2": {"enable": false, "radio": 1, "if": 0},
    "chan_Lora_std": {"enable": true, "radio": 1, "if": -200000, "bandwidth": 250000, "spread_factor": 7, "implicit_hdr": false},
    "chan_FSK": {"enable": true, "radio": 1, "if": 300000, "bandwidth": 125000, "datarate": 50000}
  },
  "gateway_conf": {
    "gateway_ID": "AA555A0000000000",
    "server_address": "127.0.0.1",
    "serv_port_up": 1730,
    "serv_port_down": 1730,
    "keepalive_interval": 10,
    "stat_interval": 30,
    "push_timeout_ms": 100,
    "forward_crc_valid": true,
    "forward_crc_error": false,
    "forward_crc_disabled": false,
    "gps_tty_path": "/dev/ttyS0",
    "ref_latitude": 48.86,
    "ref_longitude": 2.35,
    "ref_altitude": 30,
    "beacon_period": 128,
    "beacon_freq_hz": 869525000,
    "beacon_datarate": 9,
    "autoquit_threshold": 3
  },
  "debug_conf": {
    "ref_payload": [{"id": "0xCAFE1234"}, {"id": "0xCAFE2345"}],
    "log_file": "loragw_hal.log"
  }
}`

const test_local_conf = `{
  "gateway_conf": {
    "gateway_ID": "AA555A0000000101",
    "serv_port_up": 1700,
    "serv_port_down": 1701
  }
}`

func write_conf(t *testing.T, name string, content string) string {
	var path = filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfiguration(t *testing.T) {
	var global = write_conf(t, "global_conf.json", test_global_conf)
	var local = write_conf(t, "local_conf.json", test_local_conf)

	var conf, err = load_configuration(global, local)
	require.NoError(t, err)

	/* board */
	assert.Equal(t, COM_SPI, conf.sx130x.board.com_type)
	assert.Equal(t, "/dev/spidev0.0", conf.sx130x.board.com_path)
	assert.True(t, conf.sx130x.board.lorawan_public)
	assert.True(t, conf.sx130x.board.ftime_enable)
	assert.Equal(t, FTIME_MODE_ALL_SF, conf.sx130x.board.ftime_mode)
	assert.Equal(t, int8(2), conf.sx130x.antenna_gain)

	/* radios */
	require.True(t, conf.sx130x.radios[0].enable)
	assert.Equal(t, uint32(867500000), conf.sx130x.radios[0].freq_hz)
	assert.Equal(t, RADIO_TYPE_SX1250, conf.sx130x.radios[0].radio_type)
	assert.True(t, conf.sx130x.radios[0].tx_enable)
	assert.Len(t, conf.sx130x.radios[0].tx_gain_lut.lut, 3)
	assert.False(t, conf.sx130x.radios[1].tx_enable)

	/* channels */
	assert.True(t, conf.sx130x.multisf[0].enable)
	assert.Equal(t, int32(-400000), conf.sx130x.multisf[0].freq_off)
	assert.False(t, conf.sx130x.multisf[2].enable)
	assert.True(t, conf.sx130x.lora_std.enable)
	assert.Equal(t, BW_250KHZ, conf.sx130x.lora_std.bandwidth)
	assert.True(t, conf.sx130x.fsk.enable)
	assert.Equal(t, uint32(50000), conf.sx130x.fsk.datarate)
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12}, conf.sx130x.multisf_sfs)

	/* spectral scan */
	assert.True(t, conf.sx130x.sx1261.spectral_scan.enable)
	assert.Equal(t, uint8(8), conf.sx130x.sx1261.spectral_scan.nb_chan)

	/* gateway, with the local overlay applied */
	assert.Equal(t, uint64(0xAA555A0000000101), conf.gateway.gateway_id)
	assert.Equal(t, 1700, conf.gateway.serv_port_up)
	assert.Equal(t, 1701, conf.gateway.serv_port_down)
	assert.Equal(t, 10, conf.gateway.keepalive_s)
	assert.False(t, conf.gateway.fwd_error_pkt)
	assert.Equal(t, uint32(128), conf.gateway.beacon_period)
	assert.Equal(t, 48.86, conf.gateway.ref_coord.lat)
	assert.Equal(t, uint32(3), conf.gateway.autoquit_threshold)

	/* debug */
	assert.Equal(t, []uint32{0xCAFE1234, 0xCAFE2345}, conf.debug.ref_payload_ids)
}

func TestConfigRejectsUnknownEnums(t *testing.T) {
	var c = new_config()

	var err = c.parse_sx130x_configuration([]byte(`{"SX130x_conf":{"com_type":"I2C","com_path":"/dev/x"}}`))
	assert.ErrorContains(t, err, "invalid com type")

	err = c.parse_sx130x_configuration([]byte(`{"SX130x_conf":{"com_type":"SPI","com_path":"/dev/x","radio_0":{"enable":true,"freq":868000000,"type":"SX1272"}}}`))
	assert.ErrorContains(t, err, "invalid radio type")

	err = c.parse_sx130x_configuration([]byte(`{"SX130x_conf":{"com_type":"SPI","com_path":"/dev/x","fine_timestamp":{"enable":true,"mode":"sometimes"}}}`))
	assert.ErrorContains(t, err, "fine_timestamp.mode")
}

func TestConfigMandatoryFields(t *testing.T) {
	var c = new_config()

	var err = c.parse_sx130x_configuration([]byte(`{"SX130x_conf":{}}`))
	assert.ErrorContains(t, err, "com_type")

	err = c.parse_sx130x_configuration([]byte(`{"gateway_conf":{}}`))
	assert.ErrorContains(t, err, "no SX130x_conf")

	err = c.parse_gateway_configuration([]byte(`{"gateway_conf":{"gateway_ID":"xyz"}}`))
	assert.ErrorContains(t, err, "hex MAC")

	err = c.parse_gateway_configuration([]byte(`{"gateway_conf":{"beacon_period":7}}`))
	assert.ErrorContains(t, err, "divisor of 86400")
}

func TestConfigDefaults(t *testing.T) {
	var c = new_config()
	assert.Equal(t, DEFAULT_PORT_UP, c.gateway.serv_port_up)
	assert.Equal(t, DEFAULT_KEEPALIVE, c.gateway.keepalive_s)
	assert.Equal(t, DEFAULT_STAT, c.gateway.stat_interval_s)
	assert.Equal(t, uint32(DEFAULT_BEACON_FREQ_HZ), c.gateway.beacon_freq_hz)
	assert.Equal(t, uint8(DEFAULT_BEACON_DATARATE), c.gateway.beacon_datarate)
	assert.True(t, c.gateway.fwd_valid_pkt)
	assert.Equal(t, uint32(0), c.gateway.beacon_period, "beaconing disabled by default")
}

func TestLocalConfRequired(t *testing.T) {
	var global = write_conf(t, "global_conf.json", test_global_conf)

	var _, err = load_configuration(global, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "missing.json")
}
