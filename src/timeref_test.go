package laika

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed installs an anchor: counter 10 000 000 at UTC 1 700 000 000.0,
// GPS 1 384 036 782.0 (a fixed test value, not derived from that UTC).
func seeded_tref(xtal_err float64) tref_t {
	var ref tref_t
	require_no_err(ref.gps_sync(10000000, 1700000000, 0, 1384036782, 0))
	ref.xtal_err = xtal_err
	return ref
}

func require_no_err(err error) {
	if err != nil {
		panic(err)
	}
}

func TestGpsSyncFirstSample(t *testing.T) {
	var ref tref_t
	var err = ref.gps_sync(5000000, 1700000000, 0, 1384036782, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ref.xtal_err)
	assert.Equal(t, concentrator_time(5000000), ref.count_us)
}

func TestGpsSyncMeasuresXtalError(t *testing.T) {
	var ref tref_t
	require.NoError(t, ref.gps_sync(5000000, 1700000000, 0, 1384036782, 0))

	// One UTC second later the counter advanced 1 000 100 us: the
	// counter runs fast, so real/counter is just under 1.
	require.NoError(t, ref.gps_sync(6000100, 1700000001, 0, 1384036783, 0))
	assert.InDelta(t, 1.0/1.0001, ref.xtal_err, 1e-9)
}

func TestGpsSyncRejectsMissedPulse(t *testing.T) {
	var ref tref_t
	require.NoError(t, ref.gps_sync(5000000, 1700000000, 0, 1384036782, 0))

	// Counter jumped 3 seconds: pulses were missed.
	var err = ref.gps_sync(8000000, 1700000003, 0, 1384036785, 0)
	assert.ErrorIs(t, err, ErrGpsDesync)

	// Anchor unchanged.
	assert.Equal(t, concentrator_time(5000000), ref.count_us)
}

func TestCnt2Utc(t *testing.T) {
	var ref = seeded_tref(1.0)

	var sec, nsec = ref.cnt2utc(10500000)
	assert.Equal(t, int64(1700000000), sec)
	assert.Equal(t, int64(500000000), nsec)

	// A packet 2 s before the anchor.
	sec, nsec = ref.cnt2utc(8000000)
	assert.Equal(t, int64(1699999998), sec)
	assert.Equal(t, int64(0), nsec)
}

func TestCnt2UtcAppliesXtalError(t *testing.T) {
	var ref = seeded_tref(1.0001)

	// 10 counter-seconds after the anchor is 10.001 real seconds.
	var sec, nsec = ref.cnt2utc(ref.count_us.add_us(10000000))
	assert.Equal(t, int64(1700000010), sec)
	assert.InDelta(t, 1000000, nsec, 1000)
}

func TestGps2CntRoundtrip(t *testing.T) {
	var ref = seeded_tref(1.0)

	var target = ref.count_us.add_us(64000000) // 64 s out
	var gps_sec, gps_nsec = ref.cnt2gps(target)
	assert.Equal(t, target, ref.gps2cnt(gps_sec, gps_nsec))
}

func TestGps2CntAcrossWrap(t *testing.T) {
	var ref tref_t
	require.NoError(t, ref.gps_sync(0xFFF00000, 1700000000, 0, 1384036782, 0))

	// 128 s later the counter has wrapped.
	var cnt = ref.gps2cnt(1384036782+128, 0)
	assert.Equal(t, ref.count_us.add_us(128000000), cnt)
	assert.True(t, ref.count_us.precedes(cnt))
}

func TestTimerefBoxSnapshot(t *testing.T) {
	var box timeref_box_t
	box.mu.Lock()
	box.ref = seeded_tref(1.0)
	box.valid = true
	box.mu.Unlock()

	var ref, ok = box.snapshot()
	assert.True(t, ok)
	assert.Equal(t, concentrator_time(10000000), ref.count_us)

	box.set_valid(false)
	_, ok = box.snapshot()
	assert.False(t, ok)
}

func TestXtalBoxDefaults(t *testing.T) {
	var box xtal_box_t
	var correct, ok = box.get()
	assert.False(t, ok)
	assert.Equal(t, 1.0, correct)

	box.set(0.999958, true)
	correct, ok = box.get()
	assert.True(t, ok)
	assert.Equal(t, 0.999958, correct)
}
