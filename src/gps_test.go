package laika

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The GPS thread is fed through a pseudo-terminal, the way a real
// receiver feeds the TTY: a NAV-TIMEGPS frame anchors the time
// reference on the simulated PPS latch, and an RMC sentence updates
// the coordinates.
func TestGpsThreadEndToEnd(t *testing.T) {
	var f, _, _, _ = new_test_forwarder(t)

	var master, tty, err = pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })
	t.Cleanup(func() { tty.Close() })

	f.gps_fd, err = serial_port_open(tty.Name(), 0)
	require.NoError(t, err)
	f.gps_enabled = true
	t.Cleanup(func() { serial_port_close(f.gps_fd) })

	go f.thread_gps()

	/* a time frame: week 2290, 12 345 s into the week */
	master.Write(build_ubx_nav_timegps(12345000, 0, 2290, 18, 0x07))

	require.Eventually(t, func() bool {
		f.timeref.mu.Lock()
		defer f.timeref.mu.Unlock()
		return !f.timeref.ref.systime.IsZero()
	}, 3*time.Second, 20*time.Millisecond, "time reference never anchored")

	f.timeref.mu.Lock()
	var gps_sec = f.timeref.ref.gps_sec
	f.timeref.mu.Unlock()
	assert.Equal(t, int64(2290)*7*86400+12345, gps_sec)

	/* a position fix */
	master.Write([]byte(nmea_with_checksum("$GPRMC,003413.710,A,4237.1240,N,07120.8333,W,5.07,291.42,160614,,,A") + "\r\n"))

	require.Eventually(t, func() bool {
		var _, ok = f.coord.get()
		return ok
	}, 3*time.Second, 20*time.Millisecond, "coordinates never updated")

	var coord, _ = f.coord.get()
	assert.InDelta(t, 42.618733, coord.lat, 1e-5)
	assert.InDelta(t, -71.347222, coord.lon, 1e-5)
}

// Frames split across reads reassemble through the rolling buffer.
func TestGpsThreadFragmentedFrames(t *testing.T) {
	var f, _, _, _ = new_test_forwarder(t)

	var master, tty, err = pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })
	t.Cleanup(func() { tty.Close() })

	f.gps_fd, err = serial_port_open(tty.Name(), 0)
	require.NoError(t, err)
	f.gps_enabled = true
	t.Cleanup(func() { serial_port_close(f.gps_fd) })

	go f.thread_gps()

	var frame = build_ubx_nav_timegps(1000, 0, 2290, 18, 0x07)
	/* garbage, then the frame in two pieces */
	master.Write([]byte{0x00, 0xFF, 0x13})
	master.Write(frame[:5])
	time.Sleep(50 * time.Millisecond)
	master.Write(frame[5:])

	require.Eventually(t, func() bool {
		f.timeref.mu.Lock()
		defer f.timeref.mu.Unlock()
		return !f.timeref.ref.systime.IsZero()
	}, 3*time.Second, 20*time.Millisecond)
}

// The OS clock is never touched for implausible GPS dates, and the
// "already set" latch only arms inside the plausible range.
func TestModifyOsTimeGuards(t *testing.T) {
	var f, _, _, _ = new_test_forwarder(t)

	/* cold receiver reporting 1980: ignored, latch still open */
	f.modify_os_time(UNIX_GPS_EPOCH_OFFSET)
	assert.False(t, f.os_clock_set.Load())

	/* sane GPS time close to the system clock: nothing to fix, but
	   the once-per-lifetime latch closes */
	f.modify_os_time(time.Now().Unix())
	assert.True(t, f.os_clock_set.Load())
}
