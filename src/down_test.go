package laika

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupTxGain(t *testing.T) {
	var lut = tx_gain_lut_t{lut: []tx_gain_t{{rf_power: 7}, {rf_power: 10}, {rf_power: 14}}}

	var power, exact = lookup_tx_gain(&lut, 14)
	assert.True(t, exact)
	assert.Equal(t, int8(14), power)

	// 12 dBm is not in the table: closest lower entry wins.
	power, exact = lookup_tx_gain(&lut, 12)
	assert.False(t, exact)
	assert.Equal(t, int8(10), power)

	// Below everything: the weakest entry, still inexact.
	power, exact = lookup_tx_gain(&lut, 3)
	assert.False(t, exact)
	assert.Equal(t, int8(7), power)
}

func valid_txpk_json(extra string) []byte {
	var data = base64.StdEncoding.EncodeToString([]byte{0x60, 0x01, 0x02, 0x03, 0x04})
	return []byte(fmt.Sprintf(`{"txpk":{%s"freq":868.1,"rfch":0,"modu":"LORA","datr":"SF9BW125","codr":"4/5","ipol":true,"size":5,"data":"%s"}}`, extra, data))
}

func TestParseTxRequestClassA(t *testing.T) {
	var req, err = parse_tx_request(valid_txpk_json(`"tmst":1000000,`))
	require.NoError(t, err)

	assert.Equal(t, TX_SCHED_ON_COUNTER, req.sched)
	assert.Equal(t, concentrator_time(1000000), req.pkt.count_us)
	assert.Equal(t, TX_TIMESTAMPED, req.pkt.tx_mode)
	assert.Equal(t, uint32(868100000), req.pkt.freq_hz)
	assert.Equal(t, DR_LORA_SF9, req.pkt.datarate)
	assert.Equal(t, BW_125KHZ, req.pkt.bandwidth)
	assert.True(t, req.pkt.invert_pol)
	assert.Equal(t, uint16(STD_LORA_PREAMB), req.pkt.preamble)
	assert.Len(t, req.pkt.payload, 5)
}

func TestParseTxRequestClassBC(t *testing.T) {
	var req, err = parse_tx_request(valid_txpk_json(`"imme":true,`))
	require.NoError(t, err)
	assert.Equal(t, TX_SCHED_IMMEDIATE, req.sched)

	req, err = parse_tx_request(valid_txpk_json(`"tmms":1384036782500,`))
	require.NoError(t, err)
	assert.Equal(t, TX_SCHED_ON_GPS_TIME, req.sched)
	assert.Equal(t, uint64(1384036782500), req.gps_ms)
}

func TestParseTxRequestRejectsBadInput(t *testing.T) {
	var cases = []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"no txpk", `{"rxpk":[]}`},
		{"no scheduling field", `{"txpk":{"freq":868.1,"rfch":0,"modu":"LORA","datr":"SF9BW125","codr":"4/5","size":1,"data":"AA=="}}`},
		{"no freq", `{"txpk":{"tmst":1,"rfch":0,"modu":"LORA","datr":"SF9BW125","codr":"4/5","size":1,"data":"AA=="}}`},
		{"bad modulation", `{"txpk":{"tmst":1,"freq":868.1,"rfch":0,"modu":"OOK","datr":"SF9BW125","codr":"4/5","size":1,"data":"AA=="}}`},
		{"bad datarate", `{"txpk":{"tmst":1,"freq":868.1,"rfch":0,"modu":"LORA","datr":"SF99BW125","codr":"4/5","size":1,"data":"AA=="}}`},
		{"bad coderate", `{"txpk":{"tmst":1,"freq":868.1,"rfch":0,"modu":"LORA","datr":"SF9BW125","codr":"5/6","size":1,"data":"AA=="}}`},
		{"bad base64", `{"txpk":{"tmst":1,"freq":868.1,"rfch":0,"modu":"LORA","datr":"SF9BW125","codr":"4/5","size":1,"data":"@@@"}}`},
		{"fsk without fdev", `{"txpk":{"tmst":1,"freq":868.1,"rfch":0,"modu":"FSK","datr":50000,"size":1,"data":"AA=="}}`},
	}
	for _, tc := range cases {
		var _, err = parse_tx_request([]byte(tc.body))
		assert.Error(t, err, tc.name)
	}
}

func TestParseTxRequestFsk(t *testing.T) {
	var body = `{"txpk":{"tmst":1,"freq":868.8,"rfch":0,"modu":"FSK","datr":50000,"fdev":25000,"size":1,"data":"AA=="}}`
	var req, err = parse_tx_request([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, MOD_FSK, req.pkt.modulation)
	assert.Equal(t, uint32(50000), req.pkt.datarate_fsk)
	assert.Equal(t, uint8(25), req.pkt.f_dev, "Hz on the wire, kHz inside")
	assert.Equal(t, uint16(STD_FSK_PREAMB), req.pkt.preamble)
}

func TestParseTxRequestPreambleFloor(t *testing.T) {
	var req, err = parse_tx_request(valid_txpk_json(`"tmst":1,"prea":2,`))
	require.NoError(t, err)
	assert.Equal(t, uint16(MIN_LORA_PREAMB), req.pkt.preamble)
}

/* read_tx_ack skips PULL_DATA datagrams until a TX_ACK arrives. */
func read_tx_ack(t *testing.T, down *test_server, timeout time.Duration) (uint16, []byte, *net.UDPAddr) {
	var buff [1024]byte
	var deadline = time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		down.conn.SetReadDeadline(deadline)
		var n, addr, err = down.conn.ReadFromUDP(buff[:])
		require.NoError(t, err, "no TX_ACK arrived")
		if buff[3] != PKT_TX_ACK {
			continue
		}
		var token = uint16(buff[1])<<8 | uint16(buff[2])
		return token, append([]byte(nil), buff[12:n]...), addr
	}
	t.Fatal("no TX_ACK arrived")
	return 0, nil, nil
}

/* wait_pull_data reads until a PULL_DATA shows up, returning the
   forwarder's address for replies. */
func wait_pull_data(t *testing.T, down *test_server, timeout time.Duration) *net.UDPAddr {
	var buff [1024]byte
	var deadline = time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		down.conn.SetReadDeadline(deadline)
		var _, addr, err = down.conn.ReadFromUDP(buff[:])
		require.NoError(t, err, "no PULL_DATA arrived")
		if buff[3] == PKT_PULL_DATA {
			return addr
		}
	}
	t.Fatal("no PULL_DATA arrived")
	return nil
}

// A downlink asking for 12 dBm against a {7,10,14} LUT is sent at
// 10 dBm and acknowledged with the TX_POWER warning.
func TestDownstreamTxPowerWarning(t *testing.T) {
	var f, _, _, down = new_test_forwarder(t)

	go f.thread_down()
	var addr = wait_pull_data(t, down, 2*time.Second)

	var resp = append([]byte{PROTOCOL_VERSION, 0x42, 0x43, PKT_PULL_RESP},
		valid_txpk_json(`"tmst":10000000,"powe":12,`)...)
	down.conn.WriteToUDP(resp, addr)

	var token, body, _ = read_tx_ack(t, down, 2*time.Second)
	assert.Equal(t, uint16(0x4243), token, "TX_ACK echoes the PULL_RESP token")
	assert.JSONEq(t, `{"txpk_ack":{"warn":"TX_POWER","value":10}}`, string(body))

	/* the packet was enqueued at the substituted power */
	f.jit_queue[0].mu.Lock()
	require.Len(t, f.jit_queue[0].entries, 1)
	assert.Equal(t, int8(10), f.jit_queue[0].entries[0].pkt.rf_power)
	f.jit_queue[0].mu.Unlock()
}

// Class B downlinks are refused with GPS_UNLOCKED while the time
// reference is invalid, and nothing is enqueued.
func TestDownstreamGpsUnlockedRejection(t *testing.T) {
	var f, _, _, down = new_test_forwarder(t)
	f.gps_enabled = true /* GPS present but no reference yet */

	go f.thread_down()
	var addr = wait_pull_data(t, down, 2*time.Second)

	var resp = append([]byte{PROTOCOL_VERSION, 0x11, 0x22, PKT_PULL_RESP},
		valid_txpk_json(`"tmms":1384036782500,`)...)
	down.conn.WriteToUDP(resp, addr)

	var token, body, _ = read_tx_ack(t, down, 2*time.Second)
	assert.Equal(t, uint16(0x1122), token)
	assert.JSONEq(t, `{"txpk_ack":{"error":"GPS_UNLOCKED"}}`, string(body))

	f.jit_queue[0].mu.Lock()
	assert.Empty(t, f.jit_queue[0].entries)
	f.jit_queue[0].mu.Unlock()
}

// A downlink outside the chain's TX band gets TX_FREQ.
func TestDownstreamTxFreqRejection(t *testing.T) {
	var f, _, _, down = new_test_forwarder(t)

	go f.thread_down()
	var addr = wait_pull_data(t, down, 2*time.Second)

	var data = base64.StdEncoding.EncodeToString([]byte{1})
	var body = fmt.Sprintf(`{"txpk":{"tmst":10000000,"freq":915.0,"rfch":0,"powe":14,"modu":"LORA","datr":"SF9BW125","codr":"4/5","size":1,"data":"%s"}}`, data)
	down.conn.WriteToUDP(append([]byte{PROTOCOL_VERSION, 0, 1, PKT_PULL_RESP}, body...), addr)

	var _, ack, _ = read_tx_ack(t, down, 2*time.Second)
	assert.JSONEq(t, `{"txpk_ack":{"error":"TX_FREQ"}}`, string(ack))
}

// A PULL_ACK with the matching token marks the link and resets the
// auto-quit counter; with autoquit_threshold unanswered PULLs the
// forwarder shuts itself down.
func TestDownstreamAutoquit(t *testing.T) {
	var f, _, _, _ = new_test_forwarder(t)
	f.conf.gateway.autoquit_threshold = 2
	f.conf.gateway.keepalive_s = 0 /* immediate re-PULL for the test */

	go f.thread_down()

	require.Eventually(t, func() bool {
		return f.exit_sig.Load()
	}, 5*time.Second, 10*time.Millisecond, "forwarder should have auto-quit")
}

// Beacon pre-allocation fills queue 0 up to the limit once the time
// reference and crystal correction are usable.
func TestBeaconPreallocation(t *testing.T) {
	var f, _, _, _ = new_test_forwarder(t)
	f.conf.gateway.beacon_period = 128
	jit_queue_init(&f.jit_queue[0], 128)
	f.gps_enabled = true

	/* anchor: counter 10 s, some GPS time with nonzero offset into
	   the beacon period */
	f.timeref.mu.Lock()
	require.NoError(t, f.timeref.ref.gps_sync(10000000, 1700000000, 0, 1384036782, 0))
	f.timeref.valid = true
	f.timeref.mu.Unlock()
	f.xtal.set(1.0, true)

	var builder, err = new_beacon_builder(9, 0, 48.86, 2.35)
	require.NoError(t, err)

	var last, retry = f.preallocate_beacons(builder, 0, 0)
	assert.Equal(t, 0, retry)
	assert.Equal(t, JIT_NUM_BEACON_IN_QUEUE, f.jit_queue[0].beacon_count())

	/* slots are aligned on the beacon period grid */
	assert.Equal(t, int64(0), last%128)

	/* the queued beacons advance by exactly one period */
	f.jit_queue[0].mu.Lock()
	for i := 1; i < len(f.jit_queue[0].entries); i++ {
		var d = f.jit_queue[0].entries[i-1].pkt.count_us.distance_us(f.jit_queue[0].entries[i].pkt.count_us)
		assert.Equal(t, int32(128000000), d)
	}
	f.jit_queue[0].mu.Unlock()

	/* calling again with a full queue is a no-op */
	var last2, _ = f.preallocate_beacons(builder, last, 0)
	assert.Equal(t, last, last2)
}

// json round trip of the txpk pointer struct keeps absent fields absent.
func TestTxpkOptionalFields(t *testing.T) {
	var txpk txpk_t
	require.NoError(t, json.Unmarshal([]byte(`{"tmst":5,"freq":868.1}`), &txpk))
	assert.NotNil(t, txpk.Tmst)
	assert.Nil(t, txpk.Imme)
	assert.Nil(t, txpk.Tmms)
	assert.Nil(t, txpk.Powe)
}
