package laika

/*------------------------------------------------------------------
 *
 * Purpose:   	Interface to the GPS serial port.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"io"
	"time"

	"github.com/pkg/term"
)

/*-------------------------------------------------------------------
 *
 * Name:	serial_port_open
 *
 * Purpose:	Open the GPS TTY in raw mode.
 *
 * Inputs:	devicename	- Usually /dev/ttyAMA0 or /dev/ttyUSB0.
 *
 *		baud		- Speed.  9600 bps for most GPS modules.
 *				  If 0, leave it alone.
 *
 * Description:	Reads are given a timeout so the reader thread can
 *		notice a shutdown request without a byte arriving;
 *		serial_port_read distinguishes that timeout from a
 *		real error.
 *
 *--------------------------------------------------------------------*/

func serial_port_open(devicename string, baud int) (*term.Term, error) {
	var fd, err = term.Open(devicename, term.RawMode, term.ReadTimeout(500*time.Millisecond))
	if err != nil {
		return nil, err
	}

	switch baud {
	case 0: /* leave it alone */
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		fd.SetSpeed(baud)
	default:
		log_warn("serial_port_open: unsupported speed %d, using 9600", baud)
		fd.SetSpeed(9600)
	}

	return fd, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	serial_port_read
 *
 * Purpose:	Read whatever is available, waiting at most the port's
 *		read timeout.
 *
 * Returns:	Number of bytes read.  0 with a nil error means the
 *		timeout elapsed with nothing to read.
 *
 *--------------------------------------------------------------------*/

func serial_port_read(fd *term.Term, buff []byte) (int, error) {
	var n, err = fd.Read(buff)
	if n > 0 {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		/* port closed from the other side */
		return 0, err
	}
	/* a timeout surfaces as (0, nil) or (0, err) depending on the
	   platform; treat both as "nothing yet" */
	return 0, nil
}

func serial_port_close(fd *term.Term) {
	if fd == nil {
		return
	}
	fd.Close()
}
