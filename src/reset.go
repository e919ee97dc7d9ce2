package laika

/*------------------------------------------------------------------
 *
 * Purpose:	SX1302 board reset through the GPIO character device.
 *
 * Description:	SPI concentrator boards want their reset line pulsed
 *		(and on some carriers a power-enable raised) before the
 *		driver starts.  The pin numbers are board wiring, so
 *		they come from the configuration.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

func board_reset(conf *reset_gpio_conf_t) error {
	if conf.power_en_pin >= 0 {
		var power, err = gpiocdev.RequestLine(conf.chip, conf.power_en_pin, gpiocdev.AsOutput(1))
		if err != nil {
			return fmt.Errorf("power_en line %d: %w", conf.power_en_pin, err)
		}
		defer power.Close()
		time.Sleep(100 * time.Millisecond)
	}

	var reset, err = gpiocdev.RequestLine(conf.chip, conf.reset_pin, gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("reset line %d: %w", conf.reset_pin, err)
	}
	defer reset.Close()

	/* pulse the reset line */
	if err := reset.SetValue(1); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := reset.SetValue(0); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	log_info("SX1302 reset through GPIO%d", conf.reset_pin)
	return nil
}
