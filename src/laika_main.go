package laika

/*------------------------------------------------------------------
 *
 * Purpose:   	Entry point for "laika", a LoRaWAN packet forwarder:
 *
 *			SX1302 concentrator RX/TX through its HAL.
 *			Semtech UDP protocol to a network server.
 *			Just-in-time downlink scheduling.
 *			GPS time reference and Class B beaconing.
 *			Background spectral scan.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func LaikaMain() {
	var configFileName = pflag.StringP("config", "c", JSON_CONF_DEFAULT, "Global configuration file name.")
	var verbose = pflag.BoolP("verbose", "v", false, "Enable debug logging.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n%s is always read after the global file and overlays gateway parameters.\n", JSON_CONF_LOCAL)
	}
	pflag.Parse()

	logging_init(*verbose)

	var conf, err = load_configuration(*configFileName, JSON_CONF_LOCAL)
	if err != nil {
		log_error("%v", err)
		os.Exit(1)
	}
	log_info("found configuration file %s, parsing it", *configFileName)

	var fwd *forwarder_t
	fwd, err = new_forwarder(conf)
	if err != nil {
		log_error("%v", err)
		os.Exit(1)
	}

	/* SIGINT/SIGTERM drain the radio first; SIGQUIT leaves it */
	var sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGQUIT {
				fwd.request_quit()
			} else {
				fwd.request_exit()
			}
		}
	}()

	if err := fwd.run(); err != nil {
		log_error("%v", err)
		os.Exit(1)
	}
}
