package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Arithmetic on the concentrator's free-running counter.
 *
 * Description:	The SX1302 maintains a 32-bit microsecond counter that
 *		wraps about every 71.6 minutes.  All TX scheduling is
 *		done in this space, so every comparison must be modular.
 *
 *		Two counter values can only be ordered relative to each
 *		other: a precedes b iff the signed 32-bit difference
 *		(a - b) is negative.  That rule is unambiguous as long
 *		as the two values are less than 2^31 microseconds
 *		apart, which the JIT queue enforces on admission.
 *
 *---------------------------------------------------------------*/

// concentrator_time is a value of the concentrator's internal 32-bit
// microsecond counter.  Plain == works; < and > do not.  Use precedes()
// and distance_us().
type concentrator_time uint32

// precedes reports whether t comes before other in modular counter order.
func (t concentrator_time) precedes(other concentrator_time) bool {
	return int32(uint32(t)-uint32(other)) < 0
}

// distance_us returns the signed distance from t to other in microseconds.
// Positive means other is in t's future.
func (t concentrator_time) distance_us(other concentrator_time) int32 {
	return int32(uint32(other) - uint32(t))
}

// add_us offsets t by a (possibly negative) number of microseconds.
func (t concentrator_time) add_us(us int32) concentrator_time {
	return concentrator_time(uint32(t) + uint32(us))
}
