package laika

/*------------------------------------------------------------------
 *
 * Purpose:	GPS time reference: the (counter, UTC, GPS) anchor and
 *		the linear conversions built on it.
 *
 * Description:	Every PPS edge gives us three simultaneous readings of
 *		the same instant: the concentrator counter latched on
 *		the pulse, and the UTC and GPS-epoch times the receiver
 *		reported for it.  Between pulses, any counter value
 *		converts to absolute time by linear extrapolation from
 *		the anchor, scaled by the measured crystal error.
 *
 *		The reference goes stale when no PPS has been accepted
 *		for GPS_REF_MAX_AGE seconds; consumers must check
 *		validity under the owning lock.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"sync"
	"time"
)

/* Maximum age in seconds before the reference is unusable. */
const GPS_REF_MAX_AGE = 30

/* Seconds between the Unix epoch (1970-01-01) and the GPS epoch
   (1980-01-06). */
const UNIX_GPS_EPOCH_OFFSET = 315964800

var ErrGpsDesync = errors.New("PPS interval implausible, reference not updated")

/* Geographic position. */
type coord_t struct {
	lat float64 /* degrees, North positive */
	lon float64 /* degrees, East positive */
	alt int16   /* meters above sea level */
}

/*
 * tref_t anchors the counter to absolute time.  utc and gps carry
 * nanosecond precision as timespec-like pairs.
 */
type tref_t struct {
	systime     time.Time         /* wall clock when last updated */
	count_us    concentrator_time /* counter latched on the PPS */
	utc_sec     int64
	utc_nsec    int64
	gps_sec     int64 /* seconds since the GPS epoch */
	gps_nsec    int64
	xtal_err    float64 /* real seconds per counter second */
}

/*-------------------------------------------------------------------
 *
 * Name:	gps_sync
 *
 * Purpose:	Fold a new PPS reading into the reference.
 *
 * Inputs:	trig	- counter latched on this pulse.
 *		utc_*	- UTC of the pulse.
 *		gps_*	- GPS-epoch time of the pulse.
 *
 * Description:	The crystal error is the measured UTC interval divided
 *		by the counter interval since the previous pulse.  An
 *		interval outside (0.9, 1.1) counter-seconds means a
 *		pulse was missed or the counter glitched; the sample is
 *		rejected and the old anchor kept.  The first sync after
 *		startup has no previous pulse and assumes a perfect
 *		crystal.
 *
 *--------------------------------------------------------------------*/

func (ref *tref_t) gps_sync(trig concentrator_time, utc_sec int64, utc_nsec int64, gps_sec int64, gps_nsec int64) error {
	var xtal_err = 1.0

	if !ref.systime.IsZero() {
		var cnt_diff = float64(ref.count_us.distance_us(trig)) / 1e6
		var utc_diff = float64(utc_sec-ref.utc_sec) + float64(utc_nsec-ref.utc_nsec)/1e9

		if cnt_diff < 0.9 || cnt_diff > 1.1 {
			return ErrGpsDesync
		}
		xtal_err = utc_diff / cnt_diff
		if xtal_err < 0.9 || xtal_err > 1.1 {
			return ErrGpsDesync
		}
	}

	ref.systime = time.Now()
	ref.count_us = trig
	ref.utc_sec = utc_sec
	ref.utc_nsec = utc_nsec
	ref.gps_sec = gps_sec
	ref.gps_nsec = gps_nsec
	ref.xtal_err = xtal_err
	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	cnt2utc / cnt2gps
 *
 * Purpose:	Absolute time of a counter value, by linear
 *		extrapolation from the anchor.
 *
 * Returns:	(seconds, nanoseconds) in the respective epoch.
 *
 *--------------------------------------------------------------------*/

func (ref *tref_t) cnt2utc(count concentrator_time) (int64, int64) {
	return extrapolate(ref.utc_sec, ref.utc_nsec, ref.delta_sec(count))
}

func (ref *tref_t) cnt2gps(count concentrator_time) (int64, int64) {
	return extrapolate(ref.gps_sec, ref.gps_nsec, ref.delta_sec(count))
}

func (ref *tref_t) delta_sec(count concentrator_time) float64 {
	return float64(ref.count_us.distance_us(count)) * ref.xtal_err / 1e6
}

func extrapolate(sec int64, nsec int64, delta float64) (int64, int64) {
	var total_nsec = sec*1000000000 + nsec + int64(delta*1e9)
	return total_nsec / 1000000000, total_nsec % 1000000000
}

/*-------------------------------------------------------------------
 *
 * Name:	gps2cnt
 *
 * Purpose:	Counter value at a given GPS-epoch time (the inverse of
 *		cnt2gps).  Used to aim beacons and Class B downlinks.
 *
 *--------------------------------------------------------------------*/

func (ref *tref_t) gps2cnt(gps_sec int64, gps_nsec int64) concentrator_time {
	var delta = float64(gps_sec-ref.gps_sec) + float64(gps_nsec-ref.gps_nsec)/1e9
	var xtal = ref.xtal_err
	if xtal == 0 {
		xtal = 1.0
	}
	return ref.count_us.add_us(int32(delta / xtal * 1e6))
}

/*
 * timeref_box_t is the shared reference: written by the GPS thread,
 * validated every second by the XTAL tracker, read by the upstream
 * and downstream threads and the stats report.
 */
type timeref_box_t struct {
	mu    sync.Mutex
	ref   tref_t
	valid bool
}

/* snapshot returns a private copy of the reference and its validity. */
func (b *timeref_box_t) snapshot() (tref_t, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref, b.valid
}

/* age reports seconds since the last accepted PPS, negative if the
   clock stepped backwards over it. */
func (b *timeref_box_t) age() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ref.systime.IsZero() {
		return float64(GPS_REF_MAX_AGE + 1)
	}
	return time.Since(b.ref.systime).Seconds()
}

func (b *timeref_box_t) set_valid(valid bool) {
	b.mu.Lock()
	b.valid = valid
	b.mu.Unlock()
}

/*
 * xtal_box_t publishes the low-pass filtered crystal correction.
 * Written by the XTAL tracker, read by the dispatcher when it corrects
 * beacon frequencies.
 */
type xtal_box_t struct {
	mu      sync.Mutex
	correct float64
	ok      bool
}

func (b *xtal_box_t) get() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ok {
		return 1.0, false
	}
	return b.correct, true
}

func (b *xtal_box_t) set(correct float64, ok bool) {
	b.mu.Lock()
	b.correct = correct
	b.ok = ok
	b.mu.Unlock()
}

/*
 * coord_box_t holds the latest GPS position.  Written by the GPS
 * thread, read by the stats reporter.
 */
type coord_box_t struct {
	mu    sync.Mutex
	coord coord_t
	err   coord_t /* estimated position error */
	valid bool
}

func (b *coord_box_t) get() (coord_t, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coord, b.valid
}

func (b *coord_box_t) set(coord coord_t, err coord_t, valid bool) {
	b.mu.Lock()
	b.coord = coord
	b.err = err
	b.valid = valid
	b.mu.Unlock()
}
