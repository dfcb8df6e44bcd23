package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"reunite-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Subtopics unter dem konfigurierten Präfix
const (
	TopicMatches = "matches"
	TopicReports = "reports"
	TopicCleared = "cleared"
	TopicStatus  = "status"
)

// Client veröffentlicht Abgleichsereignisse an einen MQTT-Broker
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected atomic.Bool
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Offline-Status als Last Will
	opts.SetWill(c.Topic(TopicStatus), "offline", 1, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		_ = c.PublishRetain(c.Topic(TopicStatus), "offline")
		c.client.Disconnect(250) // 250ms Wartezeit
		c.isConnected.Store(false)
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Topic setzt das Präfix vor ein Subtopic
func (c *Client) Topic(subtopic string) string {
	prefix := strings.TrimSuffix(c.config.TopicPrefix, "/")
	if prefix == "" {
		return subtopic
	}
	return prefix + "/" + subtopic
}

// onConnectHandler wird aufgerufen, wenn die Verbindung hergestellt wurde
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	c.isConnected.Store(true)

	token := client.Publish(c.Topic(TopicStatus), 1, true, "online")
	if token.Wait() && token.Error() != nil {
		log.Warnf("Failed to publish online status: %v", token.Error())
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	c.isConnected.Store(false)
}

// EncodePayload konvertiert die Payload in Bytes, Objekte werden als JSON kodiert
func EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		payloadBytes, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return payloadBytes, nil
	}
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload any, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload any) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht unter <prefix>/<subtopic> ohne Retain-Flag
func (c *Client) Publish(subtopic string, payload any) error {
	return c.PublishMessage(c.Topic(subtopic), payload, false)
}
