package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/joypose/internal/config"
	"github.com/relabs-tech/joypose/internal/link"
	"github.com/relabs-tech/joypose/internal/transform"
)

const (
	displayW = 128
	displayH = 64
)

// addressedBus sends every transaction to addr, so the ssd1306 driver's
// fixed address can be remapped to a module strapped differently.
type addressedBus struct {
	i2c.Bus
	addr uint16
}

func (b addressedBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// displayData holds the latest messages for the status screen.
type displayData struct {
	mu        sync.RWMutex
	link      link.LinkState
	haveLink  bool
	transform transform.Transform
	haveXform bool
}

type displaySnapshot struct {
	link      link.LinkState
	haveLink  bool
	transform transform.Transform
	haveXform bool
}

func (d *displayData) snapshot() displaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displaySnapshot{
		link:      d.link,
		haveLink:  d.haveLink,
		transform: d.transform,
		haveXform: d.haveXform,
	}
}

func (d *displayData) onTransform(payload []byte) error {
	var t transform.Transform
	if err := json.Unmarshal(payload, &t); err != nil {
		return err
	}
	d.mu.Lock()
	d.transform = t
	d.haveXform = true
	d.mu.Unlock()
	return nil
}

func (d *displayData) onLink(payload []byte) error {
	var ls link.LinkState
	if err := json.Unmarshal(payload, &ls); err != nil {
		return err
	}
	d.mu.Lock()
	d.link = ls
	d.haveLink = true
	d.mu.Unlock()
	return nil
}

// RunDisplay shows link state, position and yaw on an SSD1306 OLED.
func RunDisplay(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}
	if cfg.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive, got %v", cfg.DisplayUpdateInterval)
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(addressedBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Info().Str("addr", fmt.Sprintf("0x%02X", cfg.DisplayI2CAddr)).Msg("display initialized")

	if err := dev.Draw(dev.Bounds(), drawSplash(), image.Point{}); err != nil {
		log.Warn().Err(err).Msg("display: error showing splash")
	}

	data := &displayData{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	logged := func(name string, fn func([]byte) error) func([]byte) {
		return func(payload []byte) {
			if err := fn(payload); err != nil {
				log.Warn().Err(err).Msgf("display: %s unmarshal error", name)
			}
		}
	}
	subs := map[string]func([]byte){
		cfg.TopicTransform: logged("transform", data.onTransform),
		cfg.TopicLink:      logged("link", data.onLink),
	}
	if err := subscribeAll(client, subs, log); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.DisplayUpdateInterval)
	defer ticker.Stop()

	log.Info().Msg("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			_ = dev.Halt()
			return nil
		case <-ticker.C:
		}
		if err := dev.Draw(dev.Bounds(), drawStatus(data.snapshot()), image.Point{}); err != nil {
			log.Warn().Err(err).Msg("display: error updating display")
		}
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLines(d *font.Drawer, lines ...string) {
	for i, line := range lines {
		d.Dot = fixed.P(0, 13*(i+1))
		d.DrawString(line)
	}
}

func drawSplash() *image1bit.VerticalLSB {
	img, d := newCanvas()
	d.Dot = fixed.P(30, 26)
	d.DrawString("joypose")
	d.Dot = fixed.P(5, 43)
	d.DrawString("waiting for")
	d.Dot = fixed.P(5, 56)
	d.DrawString("controller")
	return img
}

func drawStatus(s displaySnapshot) *image1bit.VerticalLSB {
	img, d := newCanvas()

	state := "link: ?"
	if s.haveLink {
		state = "link: " + s.link.State.String()
	}

	if !s.haveXform {
		drawLines(d, state, "", "Waiting...")
		return img
	}

	t := s.transform
	drawLines(d,
		state,
		fmt.Sprintf("X:%6.2f Z:%6.2f", t.Translation.X(), t.Translation.Z()),
		fmt.Sprintf("Y:%6.2f", t.Translation.Y()),
		fmt.Sprintf("YAW: %6.1f", t.Rotation.Yaw),
	)
	return img
}
