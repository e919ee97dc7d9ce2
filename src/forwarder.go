package laika

/*------------------------------------------------------------------
 *
 * Purpose:	Wiring of the forwarder: shared state, sockets, thread
 *		lifecycle, and the statistics loop.
 *
 * Description:	Six goroutines run around one concentrator:
 *
 *		  upstream    radio RX -> PUSH_DATA, PUSH_ACK tracking
 *		  downstream  PULL_DATA keep-alive, PULL_RESP -> JIT
 *		  jit         dispatch due packets to the radio
 *		  gps         serial frames -> time reference + coords
 *		  valid       reference aging + XTAL correction
 *		  scan        background spectral scan (optional)
 *
 *		plus the caller's goroutine collecting statistics.
 *		The concentrator is guarded by one mutex; each shared
 *		state box carries its own.  No lock is held across
 *		socket I/O.
 *
 *		Shutdown: exit_sig asks every loop to drain and stop
 *		the hardware, quit_sig skips the hardware shutdown.
 *		Both are checked at loop heads.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/term"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* Sleep when a fetch returns no packets and no report is pending. */
const FETCH_SLEEP_MS = 10

/* Period of the JIT dispatch poll. */
const JIT_POLL_MS = 10

const PULL_TIMEOUT_MS = 200

type forwarder_t struct {
	conf *config_t

	concent    concentrator
	mx_concent sync.Mutex /* serializes all HAL calls */

	sock_up   net.Conn
	sock_down net.Conn

	jit_queue [LGW_RF_CHAIN_NB]jit_queue_t

	timeref timeref_box_t
	xtal    xtal_box_t
	coord   coord_box_t
	report  report_box_t

	stats_up stats_up_t
	stats_dw stats_dw_t
	prom     *prom_metrics_t

	gps_fd      *term.Term
	gps_enabled bool

	exit_sig atomic.Bool
	quit_sig atomic.Bool

	/* OS clock set at most once per process lifetime */
	os_clock_set atomic.Bool

	wg sync.WaitGroup

	stat_fmt *strftime.Strftime
}

/*-------------------------------------------------------------------
 *
 * Name:	new_forwarder
 *
 * Purpose:	Build the forwarder from a loaded configuration: open
 *		the sockets, the GPS port and the concentrator.  Fatal
 *		errors here end the process with a non-zero status.
 *
 *--------------------------------------------------------------------*/

func new_forwarder(conf *config_t) (*forwarder_t, error) {
	var f = &forwarder_t{conf: conf}

	var fmt_str, err = strftime.New("%F %T %Z")
	if err != nil {
		return nil, err
	}
	f.stat_fmt = fmt_str

	for i := range f.jit_queue {
		jit_queue_init(&f.jit_queue[i], conf.gateway.beacon_period)
	}

	/* Start GPS as soon as possible, to give it time to lock. */
	if conf.gateway.gps_tty_path != "" {
		f.gps_fd, err = serial_port_open(conf.gateway.gps_tty_path, 9600)
		if err != nil {
			log_warn("[main] impossible to open %s for GPS sync (check permissions): %v", conf.gateway.gps_tty_path, err)
		} else {
			log_info("[main] TTY port %s open for GPS synchronization", conf.gateway.gps_tty_path)
			f.gps_enabled = true
		}
	}

	var up_addr = net.JoinHostPort(conf.gateway.server_address, strconv.Itoa(conf.gateway.serv_port_up))
	f.sock_up, err = net.Dial("udp4", up_addr)
	if err != nil {
		return nil, fmt.Errorf("[up] failed to open socket to %s: %w", up_addr, err)
	}

	var down_addr = net.JoinHostPort(conf.gateway.server_address, strconv.Itoa(conf.gateway.serv_port_down))
	f.sock_down, err = net.Dial("udp4", down_addr)
	if err != nil {
		return nil, fmt.Errorf("[down] failed to open socket to %s: %w", down_addr, err)
	}

	if conf.sx130x.board.com_type == COM_SPI && conf.sx130x.board.reset_gpio != nil {
		if err := board_reset(conf.sx130x.board.reset_gpio); err != nil {
			return nil, fmt.Errorf("failed to reset SX1302: %w", err)
		}
	}

	f.concent, err = lgw_open(&conf.sx130x.board)
	if err != nil {
		return nil, err
	}

	f.prom = new_prom_metrics(prometheus.DefaultRegisterer)
	if conf.gateway.metrics_address != "" {
		go func() {
			var mux = http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(conf.gateway.metrics_address, mux); err != nil {
				log_error("[main] metrics listener: %v", err)
			}
		}()
	}

	return f, nil
}

/* stopping reports whether any shutdown flag is raised. */
func (f *forwarder_t) stopping() bool {
	return f.exit_sig.Load() || f.quit_sig.Load()
}

/* request_exit asks for a graceful shutdown. */
func (f *forwarder_t) request_exit() {
	f.exit_sig.Store(true)
}

/* request_quit asks for an immediate shutdown. */
func (f *forwarder_t) request_quit() {
	f.quit_sig.Store(true)
}

/* instcnt reads the live counter under the concentrator lock. */
func (f *forwarder_t) instcnt() (concentrator_time, error) {
	f.mx_concent.Lock()
	defer f.mx_concent.Unlock()
	return f.concent.get_instcnt()
}

/*-------------------------------------------------------------------
 *
 * Name:	run
 *
 * Purpose:	Start the concentrator and all the threads, then serve
 *		the statistics loop until a shutdown flag is raised.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) run() error {
	if err := f.concent.start(); err != nil {
		return fmt.Errorf("[main] failed to start the concentrator: %w", err)
	}
	log_info("[main] concentrator started, packet can now be received")

	if eui, err := f.concent.get_eui(); err != nil {
		log_error("failed to get concentrator EUI: %v", err)
	} else {
		log_info("concentrator EUI: 0x%016x", eui)
	}

	var spawn = func(name string, fn func()) {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			fn()
			log_info("end of %s thread", name)
		}()
	}

	spawn("upstream", f.thread_up)
	spawn("downstream", f.thread_down)
	spawn("JIT", f.thread_jit)
	if f.conf.sx130x.sx1261.spectral_scan.enable {
		spawn("spectral scan", f.thread_spectral_scan)
	}
	if f.gps_enabled {
		spawn("GPS", f.thread_gps)
		spawn("validation", f.thread_valid)
	}

	f.stats_loop()

	f.wg.Wait()

	if f.gps_enabled {
		serial_port_close(f.gps_fd)
	}

	if f.exit_sig.Load() {
		f.sock_up.Close()
		f.sock_down.Close()
		f.mx_concent.Lock()
		var err = f.concent.stop()
		f.mx_concent.Unlock()
		if err != nil {
			log_warn("failed to stop concentrator successfully: %v", err)
		} else {
			log_info("concentrator stopped successfully")
		}
	}

	log_info("exiting packet forwarder program")
	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:	stats_loop
 *
 * Purpose:	Every stat_interval: snapshot and reset the counter
 *		groups, print the console summary, and publish the
 *		"stat" record for the next PUSH_DATA.
 *
 *--------------------------------------------------------------------*/

func (f *forwarder_t) stats_loop() {
	/* ever-since-start accumulators for the console report */
	var acc_tx_requested, acc_rej_coll_pkt, acc_rej_coll_beacon uint32
	var acc_rej_too_late, acc_rej_too_early uint32
	var acc_beacon_queued, acc_beacon_sent, acc_beacon_rejected uint32

	for !f.stopping() {
		sleep_interruptible(f, time.Duration(f.conf.gateway.stat_interval_s)*time.Second)
		if f.stopping() {
			break
		}

		var stat_timestamp = f.stat_fmt.FormatString(time.Now().UTC())

		var up = f.stats_up.snapshot_and_reset()
		var dw = f.stats_dw.snapshot_and_reset()

		f.mirror_to_prometheus(&up, &dw)

		acc_tx_requested += dw.nb_tx_requested
		acc_rej_coll_pkt += dw.nb_tx_rejected_collision_packet
		acc_rej_coll_beacon += dw.nb_tx_rejected_collision_beacon
		acc_rej_too_late += dw.nb_tx_rejected_too_late
		acc_rej_too_early += dw.nb_tx_rejected_too_early
		acc_beacon_queued += dw.nb_beacon_queued
		acc_beacon_sent += dw.nb_beacon_sent
		acc_beacon_rejected += dw.nb_beacon_rejected

		var rx_ok_ratio, rx_bad_ratio, rx_nocrc_ratio float64
		if up.nb_rx_rcv > 0 {
			rx_ok_ratio = float64(up.nb_rx_ok) / float64(up.nb_rx_rcv)
			rx_bad_ratio = float64(up.nb_rx_bad) / float64(up.nb_rx_rcv)
			rx_nocrc_ratio = float64(up.nb_rx_nocrc) / float64(up.nb_rx_rcv)
		}
		var up_ack_ratio, dw_ack_ratio float64
		if up.up_dgram_sent > 0 {
			up_ack_ratio = float64(up.up_ack_rcv) / float64(up.up_dgram_sent)
		}
		if dw.dw_pull_sent > 0 {
			dw_ack_ratio = float64(dw.dw_ack_rcv) / float64(dw.dw_pull_sent)
		}

		var cp_gps_coord, coord_ok = f.coord.get()
		if f.conf.gateway.fake_gps {
			cp_gps_coord = f.conf.gateway.ref_coord
			coord_ok = true
		}

		fmt.Printf("\n##### %s #####\n", stat_timestamp)
		fmt.Printf("### [UPSTREAM] ###\n")
		fmt.Printf("# RF packets received by concentrator: %d\n", up.nb_rx_rcv)
		fmt.Printf("# CRC_OK: %.2f%%, CRC_FAIL: %.2f%%, NO_CRC: %.2f%%\n", 100*rx_ok_ratio, 100*rx_bad_ratio, 100*rx_nocrc_ratio)
		fmt.Printf("# RF packets forwarded: %d (%d bytes)\n", up.up_pkt_fwd, up.up_payload_byte)
		fmt.Printf("# PUSH_DATA datagrams sent: %d (%d bytes)\n", up.up_dgram_sent, up.up_network_byte)
		fmt.Printf("# PUSH_DATA acknowledged: %.2f%%\n", 100*up_ack_ratio)
		fmt.Printf("### [DOWNSTREAM] ###\n")
		fmt.Printf("# PULL_DATA sent: %d (%.2f%% acknowledged)\n", dw.dw_pull_sent, 100*dw_ack_ratio)
		fmt.Printf("# PULL_RESP(onse) datagrams received: %d (%d bytes)\n", dw.dw_dgram_rcv, dw.dw_network_byte)
		fmt.Printf("# RF packets sent to concentrator: %d (%d bytes)\n", dw.nb_tx_ok+dw.nb_tx_fail, dw.dw_payload_byte)
		fmt.Printf("# TX errors: %d\n", dw.nb_tx_fail)
		if acc_tx_requested != 0 {
			fmt.Printf("# TX rejected (collision packet): %.2f%% (req:%d, rej:%d)\n", 100*float64(acc_rej_coll_pkt)/float64(acc_tx_requested), acc_tx_requested, acc_rej_coll_pkt)
			fmt.Printf("# TX rejected (collision beacon): %.2f%% (req:%d, rej:%d)\n", 100*float64(acc_rej_coll_beacon)/float64(acc_tx_requested), acc_tx_requested, acc_rej_coll_beacon)
			fmt.Printf("# TX rejected (too late): %.2f%% (req:%d, rej:%d)\n", 100*float64(acc_rej_too_late)/float64(acc_tx_requested), acc_tx_requested, acc_rej_too_late)
			fmt.Printf("# TX rejected (too early): %.2f%% (req:%d, rej:%d)\n", 100*float64(acc_rej_too_early)/float64(acc_tx_requested), acc_tx_requested, acc_rej_too_early)
		}
		fmt.Printf("### SX1302 Status ###\n")
		f.mx_concent.Lock()
		var inst_tstamp, err_inst = f.concent.get_instcnt()
		var trig_tstamp, err_trig = f.concent.get_trigcnt()
		f.mx_concent.Unlock()
		if err_inst != nil || err_trig != nil {
			fmt.Printf("# SX1302 counter unknown\n")
		} else {
			fmt.Printf("# SX1302 counter (INST): %d\n", uint32(inst_tstamp))
			fmt.Printf("# SX1302 counter (PPS):  %d\n", uint32(trig_tstamp))
		}
		fmt.Printf("# BEACON queued: %d\n", acc_beacon_queued)
		fmt.Printf("# BEACON sent so far: %d\n", acc_beacon_sent)
		fmt.Printf("# BEACON rejected: %d\n", acc_beacon_rejected)
		fmt.Printf("### [JIT] ###\n")
		for i := range f.jit_queue {
			for _, line := range f.jit_queue[i].dump() {
				fmt.Println(line)
			}
			fmt.Printf("#--------\n")
		}
		fmt.Printf("### [GPS] ###\n")
		if f.gps_enabled {
			var _, ref_ok = f.timeref.snapshot()
			if ref_ok {
				fmt.Printf("# Valid time reference (age: %.0f sec)\n", f.timeref.age())
			} else {
				fmt.Printf("# Invalid time reference (age: %.0f sec)\n", f.timeref.age())
			}
			if coord_ok {
				fmt.Printf("# GPS coordinates: latitude %.5f, longitude %.5f, altitude %d m\n", cp_gps_coord.lat, cp_gps_coord.lon, cp_gps_coord.alt)
			} else {
				fmt.Printf("# no valid GPS coordinates available yet\n")
			}
		} else if f.conf.gateway.fake_gps {
			fmt.Printf("# GPS *FAKE* coordinates: latitude %.5f, longitude %.5f, altitude %d m\n", cp_gps_coord.lat, cp_gps_coord.lon, cp_gps_coord.alt)
		} else {
			fmt.Printf("# GPS sync is disabled\n")
		}

		f.mx_concent.Lock()
		var temperature, temp_err = f.concent.get_temperature()
		f.mx_concent.Unlock()
		if temp_err != nil {
			temperature = 0
		}
		fmt.Printf("##### END #####\n")

		/* compose the record the upstream thread will forward */
		var stat = stat_t{
			Time: stat_timestamp,
			Rxnb: up.nb_rx_rcv,
			Rxok: up.nb_rx_ok,
			Rxfw: up.up_pkt_fwd,
			Ackr: round1(100 * up_ack_ratio),
			Dwnb: dw.dw_dgram_rcv,
			Txnb: dw.nb_tx_ok,
			Temp: round1(float64(temperature)),
		}
		if (f.gps_enabled && coord_ok) || f.conf.gateway.fake_gps {
			var lat = round5(cp_gps_coord.lat)
			var lon = round5(cp_gps_coord.lon)
			var alt = int(cp_gps_coord.alt)
			stat.Lati = &lat
			stat.Long = &lon
			stat.Alti = &alt
		}
		f.report.publish(stat)
	}
}

func (f *forwarder_t) mirror_to_prometheus(up *stats_up_t, dw *stats_dw_t) {
	if f.prom == nil {
		return
	}
	f.prom.rx_rcv.Add(float64(up.nb_rx_rcv))
	f.prom.rx_ok.Add(float64(up.nb_rx_ok))
	f.prom.rx_bad.Add(float64(up.nb_rx_bad))
	f.prom.rx_nocrc.Add(float64(up.nb_rx_nocrc))
	f.prom.pkt_fwd.Add(float64(up.up_pkt_fwd))
	f.prom.dgram_sent.Add(float64(up.up_dgram_sent))
	f.prom.ack_rcv.Add(float64(up.up_ack_rcv))
	f.prom.pull_sent.Add(float64(dw.dw_pull_sent))
	f.prom.pull_ack.Add(float64(dw.dw_ack_rcv))
	f.prom.dgram_rcv.Add(float64(dw.dw_dgram_rcv))
	f.prom.tx_ok.Add(float64(dw.nb_tx_ok))
	f.prom.tx_fail.Add(float64(dw.nb_tx_fail))
	f.prom.tx_requested.Add(float64(dw.nb_tx_requested))
	f.prom.beacon_queued.Add(float64(dw.nb_beacon_queued))
	f.prom.beacon_sent.Add(float64(dw.nb_beacon_sent))
	f.prom.beacon_rejected.Add(float64(dw.nb_beacon_rejected))
}

/* sleep_interruptible sleeps in short slices so shutdown is prompt. */
func sleep_interruptible(f *forwarder_t, d time.Duration) {
	var deadline = time.Now().Add(d)
	for time.Now().Before(deadline) && !f.stopping() {
		var left = time.Until(deadline)
		if left > 200*time.Millisecond {
			left = 200 * time.Millisecond
		}
		time.Sleep(left)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round5(v float64) float64 {
	return math.Round(v*100000) / 100000
}

/* random_token makes the 16-bit datagram token. */
func random_token() uint16 {
	return uint16(rand.Uint32())
}
