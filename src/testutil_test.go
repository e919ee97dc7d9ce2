package laika

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

const test_gateway_mac = uint64(0xAA555A0000000101)

// test_config builds a runnable configuration: SIM concentrator, one
// TX-enabled chain with a small gain LUT, short protocol timeouts.
func test_config() *config_t {
	var conf = new_config()
	conf.gateway.gateway_id = test_gateway_mac
	conf.gateway.keepalive_s = 1
	conf.gateway.push_timeout_ms = 50
	conf.sx130x.board.com_type = COM_SIM
	conf.sx130x.radios[0] = radio_conf_t{
		enable:      true,
		freq_hz:     867500000,
		radio_type:  RADIO_TYPE_SX1250,
		tx_enable:   true,
		tx_freq_min: 863000000,
		tx_freq_max: 870000000,
		tx_gain_lut: tx_gain_lut_t{lut: []tx_gain_t{{rf_power: 7}, {rf_power: 10}, {rf_power: 14}}},
	}
	conf.sx130x.radios[1] = radio_conf_t{enable: true, freq_hz: 868500000, radio_type: RADIO_TYPE_SX1250}
	return conf
}

// test_server is one side of a fake network server socket.
type test_server struct {
	conn *net.UDPConn
}

func new_test_server(t *testing.T) *test_server {
	var conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &test_server{conn: conn}
}

func (s *test_server) dial(t *testing.T) net.Conn {
	var conn, err = net.Dial("udp4", s.conn.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// new_test_forwarder wires a forwarder around the SIM concentrator and
// two fake server sockets.  The returned servers receive what the
// forwarder sends and can answer it.
func new_test_forwarder(t *testing.T) (*forwarder_t, *sim_concentrator, *test_server, *test_server) {
	var conf = test_config()
	var f = &forwarder_t{conf: conf}

	for i := range f.jit_queue {
		jit_queue_init(&f.jit_queue[i], conf.gateway.beacon_period)
	}

	var sim = new_sim_concentrator(&conf.sx130x.board)
	require.NoError(t, sim.start())
	t.Cleanup(func() { sim.stop() })
	f.concent = sim

	var up = new_test_server(t)
	var down = new_test_server(t)
	f.sock_up = up.dial(t)
	f.sock_down = down.dial(t)

	t.Cleanup(func() { f.request_quit() })
	return f, sim, up, down
}
