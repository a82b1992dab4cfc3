// Package mqttclient forwards engine events to an MQTT broker and accepts
// remote record and playback commands.
package mqttclient

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/events"
)

type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger

	mu      sync.RWMutex
	handler MessageHandler
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: strings.TrimSuffix(opts.TopicPrefix, "/"),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetMessageHandler routes messages on the command topics to h.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// CommandTopic returns the subscription filter for remote commands.
func (c *Client) CommandTopic() string {
	return c.prefix + "/cmd/#"
}

// Forward publishes e to <prefix>/events/<type>. It does not wait for the
// broker and drops events while disconnected.
func (c *Client) Forward(e events.Event) {
	if !c.IsConnected() {
		return
	}
	c.conn.Publish(EventTopic(c.prefix, e), 0, false, EventPayload(e))
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	topic := c.CommandTopic()
	c.log.Info().Str("topic", topic).Msg("mqtt connected, subscribing")

	token := client.Subscribe(topic, 0, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// EventTopic returns the topic an event is published on.
func EventTopic(prefix string, e events.Event) string {
	topic := prefix + "/events/" + e.Type
	if e.SubType != "" {
		topic += "/" + e.SubType
	}
	return topic
}

type envelope struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event_type"`
	SubType   string          `json:"sub_type,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventPayload wraps the event's data with its envelope fields.
func EventPayload(e events.Event) []byte {
	data := json.RawMessage(e.Data)
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	b, _ := json.Marshal(envelope{
		ID:        e.ID,
		Type:      e.Type,
		SubType:   e.SubType,
		Timestamp: e.Timestamp,
		Data:      data,
	})
	return b
}
