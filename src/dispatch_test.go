package laika

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A queued downlink is handed to the radio once its window opens.
func TestDispatcherSendsDuePacket(t *testing.T) {
	var f, sim, _, _ = new_test_forwarder(t)

	var now, err = f.instcnt()
	require.NoError(t, err)

	var pkt = test_lora_pkt(now.add_us(100000), 16) /* 100 ms out */
	require.Equal(t, JIT_ERROR_OK, f.jit_queue[0].jit_enqueue(now, pkt, JIT_PKT_TYPE_DOWNLINK_CLASS_A))

	go f.thread_jit()

	require.Eventually(t, func() bool {
		f.stats_dw.mu.Lock()
		defer f.stats_dw.mu.Unlock()
		return f.stats_dw.nb_tx_ok == 1
	}, 3*time.Second, 10*time.Millisecond, "packet never dispatched")

	sim.mu.Lock()
	defer sim.mu.Unlock()
	require.NotNil(t, sim.tx_pkt[0])
	assert.Equal(t, pkt.count_us, sim.tx_pkt[0].count_us)
}

// Beacon frequencies are corrected by the crystal estimate at dispatch
// time, not at enqueue time.
func TestDispatcherAppliesXtalCorrectionToBeacons(t *testing.T) {
	var f, sim, _, _ = new_test_forwarder(t)
	f.xtal.set(1.00001, true)

	var now, err = f.instcnt()
	require.NoError(t, err)

	var beacon = test_lora_pkt(now.add_us(100000), 17)
	beacon.tx_mode = TX_ON_GPS
	beacon.freq_hz = 869525000
	beacon.no_crc = true
	beacon.no_header = true
	beacon.preamble = 10
	require.Equal(t, JIT_ERROR_OK, f.jit_queue[0].jit_enqueue(now, beacon, JIT_PKT_TYPE_BEACON))

	go f.thread_jit()

	require.Eventually(t, func() bool {
		f.stats_dw.mu.Lock()
		defer f.stats_dw.mu.Unlock()
		return f.stats_dw.nb_beacon_sent == 1
	}, 3*time.Second, 10*time.Millisecond)

	sim.mu.Lock()
	defer sim.mu.Unlock()
	require.NotNil(t, sim.tx_pkt[0])
	/* 869525000 * 1.00001, rounded */
	assert.Equal(t, uint32(869533695), sim.tx_pkt[0].freq_hz)
}

func TestTimeOnAir(t *testing.T) {
	/* SF7/BW125, CR4/5, 8-symbol preamble, 10 bytes: tens of ms */
	var pkt = test_lora_pkt(0, 10)
	pkt.datarate = DR_LORA_SF7
	var toa = lgw_time_on_air(pkt)
	assert.Greater(t, toa, uint32(20000))
	assert.Less(t, toa, uint32(60000))

	/* same payload at SF12 takes far longer */
	pkt.datarate = DR_LORA_SF12
	var toa12 = lgw_time_on_air(pkt)
	assert.Greater(t, toa12, 10*toa)

	/* FSK 50 kbit/s */
	var fsk = &tx_packet_t{
		modulation:   MOD_FSK,
		datarate_fsk: 50000,
		preamble:     5,
		payload:      make([]byte, 10),
	}
	/* (5+3+1+10+2) bytes * 8 bits / 50 kbit/s = 3.36 ms */
	assert.Equal(t, uint32(3360), lgw_time_on_air(fsk))

	/* malformed descriptors have no airtime */
	assert.Equal(t, uint32(0), lgw_time_on_air(&tx_packet_t{modulation: MOD_LORA}))
}
