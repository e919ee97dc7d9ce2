package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Logging for all the daemon's threads.
 *
 * Description:	Thin printf-style wrappers over charmbracelet/log, so
 *		call sites keep the reference forwarder's terse
 *		"[thread] message" shape while levels and colors come
 *		from the logger.
 *
 *---------------------------------------------------------------*/

import (
	"os"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
})

/* logging_init sets the verbosity for the whole process. */
func logging_init(verbose bool) {
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}

func log_debug(format string, args ...any) {
	logger.Debugf(format, args...)
}

func log_info(format string, args ...any) {
	logger.Infof(format, args...)
}

func log_warn(format string, args ...any) {
	logger.Warnf(format, args...)
}

func log_error(format string, args ...any) {
	logger.Errorf(format, args...)
}
