// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/joypose/internal/link"
	"github.com/relabs-tech/joypose/internal/render"
	"github.com/relabs-tech/joypose/internal/transform"
)

// clientID makes the configured id unique per process so two instances do
// not kick each other off the broker.
func clientID(base string) string {
	return base + "-" + uuid.NewString()[:8]
}

func connectMQTT(broker, id string, log zerolog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID(id)).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}
	log.Info().Str("broker", broker).Msg("connected to MQTT broker")
	return client, nil
}

// publisher is the slice of mqtt.Client used for publishing.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher is a render sink publishing transforms at most once per
// interval, plus retained link state changes.
type MQTTPublisher struct {
	client         publisher
	topicTransform string
	topicLink      string
	interval       time.Duration
	log            zerolog.Logger

	mu       sync.Mutex
	lastSent time.Time
}

// NewMQTTPublisher connects to broker.
func NewMQTTPublisher(broker, id, topicTransform, topicLink string, interval time.Duration, log zerolog.Logger) (*MQTTPublisher, mqtt.Client, error) {
	client, err := connectMQTT(broker, id, log)
	if err != nil {
		return nil, nil, err
	}
	return newMQTTPublisher(client, topicTransform, topicLink, interval, log), client, nil
}

func newMQTTPublisher(client publisher, topicTransform, topicLink string, interval time.Duration, log zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:         client,
		topicTransform: topicTransform,
		topicLink:      topicLink,
		interval:       interval,
		log:            log,
	}
}

// Render publishes t unless the previous publish was less than one interval ago.
// It never waits for the broker.
func (p *MQTTPublisher) Render(_ *render.Mesh, t transform.Transform) error {
	now := time.Now()
	p.mu.Lock()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.interval {
		p.mu.Unlock()
		return nil
	}
	p.lastSent = now
	p.mu.Unlock()

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("mqtt: marshal transform: %w", err)
	}
	p.publish(p.topicTransform, 0, false, payload)
	return nil
}

// PublishLink sends the link state as a retained message so late subscribers
// see the current state.
func (p *MQTTPublisher) PublishLink(ls link.LinkState) {
	payload, err := json.Marshal(ls)
	if err != nil {
		p.log.Warn().Err(err).Msg("mqtt: marshal link state")
		return
	}
	p.publish(p.topicLink, 1, true, payload)
}

func (p *MQTTPublisher) publish(topic string, qos byte, retained bool, payload []byte) {
	token := p.client.Publish(topic, qos, retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.log.Debug().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}
