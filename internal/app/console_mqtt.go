package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/joypose/internal/config"
	"github.com/relabs-tech/joypose/internal/link"
	"github.com/relabs-tech/joypose/internal/transform"
)

func formatTransform(t transform.Transform) string {
	return fmt.Sprintf(
		"[POSE] X=%7.3f  Y=%7.3f  Z=%7.3f  PITCH=%6.2f  YAW=%6.2f  ROLL=%6.2f  S=%.3f",
		t.Translation.X(), t.Translation.Y(), t.Translation.Z(),
		t.Rotation.Pitch, t.Rotation.Yaw, t.Rotation.Roll, t.Scale,
	)
}

func formatLink(ls link.LinkState) string {
	return "[LINK] " + ls.String()
}

// consoleHandlers turns MQTT payloads into console lines.
type consoleHandlers struct {
	out io.Writer
	log zerolog.Logger
}

func (h consoleHandlers) transform(payload []byte) {
	var t transform.Transform
	if err := json.Unmarshal(payload, &t); err != nil {
		h.log.Warn().Err(err).Msg("console: transform unmarshal error")
		return
	}
	fmt.Fprintln(h.out, formatTransform(t))
}

func (h consoleHandlers) link(payload []byte) {
	var ls link.LinkState
	if err := json.Unmarshal(payload, &ls); err != nil {
		h.log.Warn().Err(err).Msg("console: link state unmarshal error")
		return
	}
	fmt.Fprintln(h.out, formatLink(ls))
}

// RunConsoleMQTT prints transforms and link changes published by the
// controller until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, log zerolog.Logger) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not configured")
	}
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	h := consoleHandlers{out: out, log: log}
	subs := map[string]func([]byte){
		cfg.TopicTransform: h.transform,
		cfg.TopicLink:      h.link,
	}
	if err := subscribeAll(client, subs, log); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("console: shutting down")
	return nil
}

func subscribeAll(client mqtt.Client, subs map[string]func([]byte), log zerolog.Logger) error {
	for topic, handle := range subs {
		handle := handle
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handle(msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		log.Info().Str("topic", topic).Msg("subscribed")
	}
	return nil
}
