package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Validation thread: age the time reference and track
 *		the crystal correction.
 *
 * Description:	Once a second:
 *
 *		1. If the reference is older than GPS_REF_MAX_AGE (or
 *		   the clock stepped over it), invalidate it and reset
 *		   the correction to 1.0.
 *
 *		2. Otherwise take the per-PPS crystal error sample.
 *		   The first 16 samples after (re)locking are averaged
 *		   into the initial correction; after that a low-pass
 *		   filter with coefficient 1/256 tracks slow drift.
 *
 *		The correction multiplies beacon TX frequencies in the
 *		dispatcher, so it must only be published once stable.
 *
 *---------------------------------------------------------------*/

import "time"

/* Samples averaged for the initial correction value. */
const XERR_INIT_AVG = 16

/* Low-pass filter coefficient for tracking. */
const XERR_FILT_COEF = 256

/* xtal_tracker_t is the estimator state between ticks. */
type xtal_tracker_t struct {
	init_cpt int
	init_acc float64
	correct  float64
	ok       bool
}

/*-------------------------------------------------------------------
 *
 * Name:	update
 *
 * Purpose:	Fold one tick into the tracker.
 *
 * Inputs:	ref_valid - is the time reference usable right now.
 *		xtal_err  - the reference's per-PPS error sample.
 *
 * Returns:	(correction, valid) to publish.
 *
 *--------------------------------------------------------------------*/

func (tr *xtal_tracker_t) update(ref_valid bool, xtal_err float64) (float64, bool) {
	if !ref_valid {
		/* couldn't sync, or sync too old */
		tr.init_cpt = 0
		tr.init_acc = 0.0
		tr.correct = 1.0
		tr.ok = false
		return tr.correct, tr.ok
	}

	if tr.init_cpt < XERR_INIT_AVG {
		/* initial accumulation */
		tr.init_acc += xtal_err
		tr.init_cpt++

		if tr.init_cpt == XERR_INIT_AVG {
			/* initial average */
			tr.correct = float64(XERR_INIT_AVG) / tr.init_acc
			tr.ok = true
		}
	} else {
		/* tracking with low-pass filter */
		tr.correct = tr.correct - tr.correct/XERR_FILT_COEF + (1/xtal_err)/XERR_FILT_COEF
	}
	return tr.correct, tr.ok
}

func (f *forwarder_t) thread_valid() {
	var tracker xtal_tracker_t

	for !f.stopping() {
		sleep_interruptible(f, 1*time.Second)
		if f.stopping() {
			break
		}

		var gps_ref_age = f.timeref.age()
		var ref_valid_local = gps_ref_age >= 0 && gps_ref_age <= GPS_REF_MAX_AGE
		f.timeref.set_valid(ref_valid_local)

		f.timeref.mu.Lock()
		var xtal_err_cpy = f.timeref.ref.xtal_err
		f.timeref.mu.Unlock()

		var correct, ok = tracker.update(ref_valid_local, xtal_err_cpy)
		f.xtal.set(correct, ok)
	}
}
