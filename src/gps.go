package laika

/*------------------------------------------------------------------
 *
 * Purpose:	GPS thread: keep the gateway synchronized on GPS time.
 *
 * Description:	Bytes from the TTY accumulate in one rolling buffer.
 *		Each pass scans for a UBX or NMEA sync character and
 *		decodes what follows.  A NAV-TIMEGPS frame means the
 *		receiver just described the latest PPS edge: the
 *		counter value the concentrator latched on that edge is
 *		read back and the three simultaneous readings become
 *		the new time reference.  Only RMC sentences refresh
 *		the gateway coordinates.
 *
 *		Processed frames are dropped from the buffer; if the
 *		tail fills up without a complete frame, the head is
 *		sliced off so the buffer cannot overflow.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"time"

	"golang.org/x/sys/unix"
)

/* Don't touch the OS clock for GPS dates before 2020-03-05 18:00 UTC;
   a receiver without almanac reports the epoch. */
const OS_CLOCK_MIN_UTC = 1583431200

/* Step the OS clock only when it is off by at least this much. */
const OS_CLOCK_MAX_DRIFT_S = 10

func (f *forwarder_t) thread_gps() {
	var serial_buff = make([]byte, 0, 128)
	var gps_data gps_data_t
	var read_chunk [GPS_MIN_MSG_SIZE]byte

	for !f.stopping() {
		var nb_char, err = serial_port_read(f.gps_fd, read_chunk[:])
		if err != nil {
			log_error("[gps] lost communication with GPS receiver: %v", err)
			break
		}
		if nb_char == 0 {
			continue
		}
		serial_buff = append(serial_buff, read_chunk[:nb_char]...)

		/* scan buffer for sync chars and decode frames */
		var rd_idx = 0
		var frame_end_idx = 0
		for rd_idx < len(serial_buff) {
			var frame_size = 0

			switch serial_buff[rd_idx] {
			case GPS_UBX_SYNC_CHAR:
				var msg, size = parse_ubx(serial_buff[rd_idx:], &gps_data)
				switch msg {
				case GPS_MSG_UBX_NAV_TIMEGPS:
					frame_size = size
					f.gps_process_sync(&gps_data)
				case GPS_MSG_IGNORED:
					frame_size = size
				case GPS_MSG_INVALID:
					log_warn("[gps] could not get a valid message from GPS (no time)")
				}

			case GPS_NMEA_SYNC_CHAR:
				var end = bytes.IndexByte(serial_buff[rd_idx:], '\n')
				if end >= 0 {
					frame_size = end + 1
					var msg = parse_nmea(string(serial_buff[rd_idx:rd_idx+frame_size]), &gps_data)
					if msg == GPS_MSG_INVALID {
						frame_size = 0
					} else if msg == GPS_MSG_NMEA_RMC {
						f.gps_process_coords(&gps_data)
					}
				}
			}

			if frame_size > 0 {
				/* checksum-verified frame processed or ignored,
				   drop it from the buffer */
				rd_idx += frame_size
				frame_end_idx = rd_idx
			} else {
				rd_idx++
			}
		}

		if frame_end_idx > 0 {
			serial_buff = append(serial_buff[:0], serial_buff[frame_end_idx:]...)
		}

		/* prevent unbounded growth on garbage input: keep the
		   buffer inside its original capacity by slicing off
		   the head once the tail gets too tight */
		if 128-len(serial_buff) < GPS_MIN_MSG_SIZE {
			serial_buff = append(serial_buff[:0], serial_buff[GPS_MIN_MSG_SIZE:]...)
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	gps_process_sync
 *
 * Purpose:	Fold a NAV-TIMEGPS reading into the time reference.
 *
 * Description:	The concentrator latched its counter on the PPS edge
 *		this frame describes; read that latch and update the
 *		anchor.  A desync (missed pulse) keeps the previous
 *		reference.  While the reference is fresh, discipline
 *		the OS clock once if it is badly off.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) gps_process_sync(data *gps_data_t) {
	if !data.time_ok {
		return
	}

	f.mx_concent.Lock()
	var trig_tstamp, err = f.concent.get_trigcnt()
	f.mx_concent.Unlock()
	if err != nil {
		log_warn("[gps] failed to read concentrator timestamp: %v", err)
		return
	}

	f.timeref.mu.Lock()
	var sync_err = f.timeref.ref.gps_sync(trig_tstamp, data.utc_sec, data.utc_nsec, data.gps_sec, data.gps_nsec)
	f.timeref.mu.Unlock()
	if sync_err != nil {
		log_warn("[gps] GPS out of sync, keeping previous time reference")
		return
	}

	f.modify_os_time(data.utc_sec)
}

/*-------------------------------------------------------------------
 *
 * Name:	modify_os_time
 *
 * Purpose:	Set the system clock from GPS, at most once per
 *		process lifetime.
 *
 * Description:	Gateways without an RTC boot decades in the past; step
 *		the clock once when GPS proves it wrong by 10 s or
 *		more.  A plausible GPS date is required so a cold
 *		receiver cannot reset the clock to 1980.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) modify_os_time(gps_utc_sec int64) {
	if f.os_clock_set.Load() {
		return
	}
	if gps_utc_sec < OS_CLOCK_MIN_UTC {
		return
	}

	var sys_sec = time.Now().Unix()
	var diff = gps_utc_sec - sys_sec
	if diff < 0 {
		diff = -diff
	}
	log_info("[gps] local_time=%d, gps_time=%d", sys_sec, gps_utc_sec)

	if diff < OS_CLOCK_MAX_DRIFT_S {
		f.os_clock_set.Store(true)
		log_info("[gps] system time within %d s of GPS time, keeping it", OS_CLOCK_MAX_DRIFT_S)
		return
	}

	var tv = unix.Timespec{Sec: gps_utc_sec, Nsec: 0}
	if err := unix.ClockSettime(unix.CLOCK_REALTIME, &tv); err != nil {
		log_warn("[gps] failed to set system time: %v", err)
		return
	}
	f.os_clock_set.Store(true)
	log_info("[gps] system time has been synchronized via GPS")
}

/*-------------------------------------------------------------------
 *
 * Name:	gps_process_coords
 *
 * Purpose:	Update the gateway coordinates from the latest fix.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) gps_process_coords(data *gps_data_t) {
	if !data.coord_ok || data.fix == GPS_FIX_NONE {
		f.coord.set(coord_t{}, coord_t{}, false)
		return
	}
	f.coord.set(coord_t{
		lat: data.lat,
		lon: data.lon,
		alt: int16(data.alt),
	}, coord_t{}, true)
}
