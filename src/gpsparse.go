package laika

/*------------------------------------------------------------------
 *
 * Purpose:   	Parse the frames a u-blox GPS receiver emits.
 *
 * Description:	Two framings share the serial line:
 *
 *		NMEA sentences ('$' ... CR LF, XOR checksum after '*').
 *		RMC gives the fix status and position; GGA adds
 *		altitude.  Other talkers than GP are welcome, so only
 *		the sentence type is matched.
 *
 *		UBX binary frames (0xB5 0x62, class, id, little-endian
 *		length, payload, 8-bit Fletcher checksum).  The one we
 *		need is NAV-TIMEGPS (0x01 0x20): GPS week + time of
 *		week, which anchors the time reference on each PPS.
 *
 *---------------------------------------------------------------*/

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const GPS_NMEA_SYNC_CHAR = byte('$')
const GPS_UBX_SYNC_CHAR = byte(0xB5)

/* Smallest frame worth scanning for (UBX header + checksum). */
const GPS_MIN_MSG_SIZE = 8

/* Fallback GPS-UTC leap seconds when the receiver does not say. */
const DEFAULT_GPS_LEAP_SECONDS = 18

type gps_msg_t int

const (
	GPS_MSG_UNKNOWN gps_msg_t = iota
	GPS_MSG_INCOMPLETE
	GPS_MSG_INVALID
	GPS_MSG_IGNORED
	GPS_MSG_UBX_NAV_TIMEGPS
	GPS_MSG_NMEA_RMC
	GPS_MSG_NMEA_GGA
)

type gps_fix_t int

const (
	GPS_FIX_NONE gps_fix_t = iota
	GPS_FIX_2D
	GPS_FIX_3D
)

/* gps_data_t accumulates whatever the last parsed frames provided. */
type gps_data_t struct {
	/* from NAV-TIMEGPS */
	gps_sec  int64 /* seconds since the GPS epoch */
	gps_nsec int64
	utc_sec  int64
	utc_nsec int64
	time_ok  bool

	/* from RMC/GGA */
	fix      gps_fix_t
	lat      float64
	lon      float64
	alt      float64
	coord_ok bool
}

/*-------------------------------------------------------------------
 *
 * Name:	nmea_remove_checksum
 *
 * Purpose:	Validate the XOR checksum and strip it.
 *
 * Returns:	The sentence without "*hh", or an error.
 *
 *--------------------------------------------------------------------*/

func nmea_remove_checksum(sentence string) (string, error) {
	var msg, checksum_str, found = strings.Cut(sentence, "*")
	if !found {
		return "", errors.New("missing NMEA checksum")
	}

	var calculated int64
	for _, r := range msg[1:] {
		calculated ^= int64(r)
	}

	var checksum, err = strconv.ParseInt(strings.TrimSpace(checksum_str), 16, 0)
	if err != nil || calculated != checksum {
		return "", fmt.Errorf("NMEA checksum error, expected %02x found %q", calculated, checksum_str)
	}

	return msg, nil
}

/* latitude_from_nmea converts ddmm.mmmm plus hemisphere to degrees. */
func latitude_from_nmea(field string, hemi byte) (float64, error) {
	var v, err = strconv.ParseFloat(field, 64)
	if err != nil || v < 0 || v > 9000 {
		return 0, fmt.Errorf("bad NMEA latitude %q", field)
	}
	var deg = float64(int(v / 100))
	var min = v - deg*100
	var lat = deg + min/60
	if hemi == 'S' {
		lat = -lat
	}
	return lat, nil
}

/* longitude_from_nmea converts dddmm.mmmm plus hemisphere to degrees. */
func longitude_from_nmea(field string, hemi byte) (float64, error) {
	var v, err = strconv.ParseFloat(field, 64)
	if err != nil || v < 0 || v > 18000 {
		return 0, fmt.Errorf("bad NMEA longitude %q", field)
	}
	var deg = float64(int(v / 100))
	var min = v - deg*100
	var lon = deg + min/60
	if hemi == 'W' {
		lon = -lon
	}
	return lon, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_nmea
 *
 * Purpose:	Process one NMEA sentence, updating data.
 *
 * Inputs:	sentence - complete sentence including '$', without the
 *			   line terminator requirement (CR/LF tolerated).
 *
 * Returns:	What kind of sentence it was, or GPS_MSG_INVALID on a
 *		checksum or format failure.
 *
 *--------------------------------------------------------------------*/

func parse_nmea(sentence string, data *gps_data_t) gps_msg_t {
	sentence = strings.TrimRight(sentence, "\r\n")
	if len(sentence) < 6 || sentence[0] != '$' {
		return GPS_MSG_INVALID
	}

	var msg, err = nmea_remove_checksum(sentence)
	if err != nil {
		return GPS_MSG_INVALID
	}

	var ptype, rest, _ = strings.Cut(msg, ",")
	switch {
	case strings.HasSuffix(ptype, "RMC"):
		return parse_nmea_rmc(rest, data)
	case strings.HasSuffix(ptype, "GGA"):
		return parse_nmea_gga(rest, data)
	default:
		return GPS_MSG_IGNORED
	}
}

func parse_nmea_rmc(rest string, data *gps_data_t) gps_msg_t {
	_, rest, _ = strings.Cut(rest, ",")           /* time, hhmmss */
	var pstatus, rest2, _ = strings.Cut(rest, ",") /* A=active, V=void */
	var plat, rest3, _ = strings.Cut(rest2, ",")
	var pns, rest4, _ = strings.Cut(rest3, ",")
	var plon, rest5, _ = strings.Cut(rest4, ",")
	var pew, _, _ = strings.Cut(rest5, ",")

	if pstatus != "A" {
		data.fix = GPS_FIX_NONE
		data.coord_ok = false
		return GPS_MSG_NMEA_RMC
	}
	if plat == "" || pns == "" || plon == "" || pew == "" {
		return GPS_MSG_INVALID
	}

	var lat, lat_err = latitude_from_nmea(plat, pns[0])
	var lon, lon_err = longitude_from_nmea(plon, pew[0])
	if lat_err != nil || lon_err != nil {
		return GPS_MSG_INVALID
	}

	data.lat = lat
	data.lon = lon
	if data.fix == GPS_FIX_NONE {
		data.fix = GPS_FIX_2D
	}
	data.coord_ok = true
	return GPS_MSG_NMEA_RMC
}

func parse_nmea_gga(rest string, data *gps_data_t) gps_msg_t {
	_, rest, _ = strings.Cut(rest, ",")          /* time */
	var plat, rest2, _ = strings.Cut(rest, ",")
	var pns, rest3, _ = strings.Cut(rest2, ",")
	var plon, rest4, _ = strings.Cut(rest3, ",")
	var pew, rest5, _ = strings.Cut(rest4, ",")
	var pfix, rest6, _ = strings.Cut(rest5, ",")
	var _, rest7, _ = strings.Cut(rest6, ",") /* satellites */
	var _, rest8, _ = strings.Cut(rest7, ",") /* HDOP */
	var palt, _, _ = strings.Cut(rest8, ",")

	if pfix == "" || pfix == "0" {
		return GPS_MSG_NMEA_GGA /* no fix, nothing to take */
	}
	if plat == "" || pns == "" || plon == "" || pew == "" {
		return GPS_MSG_INVALID
	}

	var lat, lat_err = latitude_from_nmea(plat, pns[0])
	var lon, lon_err = longitude_from_nmea(plon, pew[0])
	if lat_err != nil || lon_err != nil {
		return GPS_MSG_INVALID
	}

	data.lat = lat
	data.lon = lon
	data.fix = GPS_FIX_2D
	if palt != "" {
		if alt, err := strconv.ParseFloat(palt, 64); err == nil {
			data.alt = alt
			data.fix = GPS_FIX_3D
		}
	}
	data.coord_ok = true
	return GPS_MSG_NMEA_GGA
}

/*-------------------------------------------------------------------
 *
 * Name:	parse_ubx
 *
 * Purpose:	Try to decode a UBX frame at the start of buff.
 *
 * Returns:	(message kind, frame size).  frame_size is 0 when the
 *		buffer does not hold a complete frame yet
 *		(GPS_MSG_INCOMPLETE) or when the frame is corrupt.
 *
 *--------------------------------------------------------------------*/

func parse_ubx(buff []byte, data *gps_data_t) (gps_msg_t, int) {
	if len(buff) < GPS_MIN_MSG_SIZE {
		return GPS_MSG_INCOMPLETE, 0
	}
	if buff[0] != 0xB5 || buff[1] != 0x62 {
		return GPS_MSG_INVALID, 0
	}

	var payload_len = int(binary.LittleEndian.Uint16(buff[4:6]))
	var frame_size = 6 + payload_len + 2
	if len(buff) < frame_size {
		return GPS_MSG_INCOMPLETE, 0
	}

	/* 8-bit Fletcher over class..payload */
	var ck_a, ck_b byte
	for _, b := range buff[2 : 6+payload_len] {
		ck_a += b
		ck_b += ck_a
	}
	if ck_a != buff[6+payload_len] || ck_b != buff[7+payload_len] {
		return GPS_MSG_INVALID, 0
	}

	if buff[2] != 0x01 || buff[3] != 0x20 {
		return GPS_MSG_IGNORED, frame_size
	}
	if payload_len < 16 {
		return GPS_MSG_INVALID, 0
	}

	/* NAV-TIMEGPS payload */
	var payload = buff[6 : 6+payload_len]
	var itow_ms = binary.LittleEndian.Uint32(payload[0:4])
	var ftow_ns = int32(binary.LittleEndian.Uint32(payload[4:8]))
	var week = int16(binary.LittleEndian.Uint16(payload[8:10]))
	var leap_s = int8(payload[10])
	var valid = payload[11]

	/* need tow and week valid bits */
	if valid&0x03 != 0x03 {
		return GPS_MSG_IGNORED, frame_size
	}
	if valid&0x04 == 0 {
		leap_s = DEFAULT_GPS_LEAP_SECONDS
	}

	var total_ns = int64(week)*7*86400*1000000000 +
		int64(itow_ms)*1000000 + int64(ftow_ns)
	data.gps_sec = total_ns / 1000000000
	data.gps_nsec = total_ns % 1000000000
	if data.gps_nsec < 0 {
		data.gps_sec--
		data.gps_nsec += 1000000000
	}
	data.utc_sec = data.gps_sec + UNIX_GPS_EPOCH_OFFSET - int64(leap_s)
	data.utc_nsec = data.gps_nsec
	data.time_ok = true

	return GPS_MSG_UBX_NAV_TIMEGPS, frame_size
}
