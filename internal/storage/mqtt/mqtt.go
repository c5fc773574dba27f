// Package mqtt publishes telemetry snapshots and completed sessions to an
// MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/simtelemetry/internal/log"
	"github.com/chrissnell/simtelemetry/internal/storage"
	"github.com/chrissnell/simtelemetry/internal/types"
	"github.com/chrissnell/simtelemetry/pkg/config"
	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishTimeout    = 2 * time.Second
	disconnectQuiesce = 250
	healthInterval    = 30 * time.Second
)

// publisher is the subset of paho.Client the engine uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnectionOpen() bool
}

// Storage publishes records to MQTT
type Storage struct {
	client   publisher
	closer   func()
	prefix   string
	qos      byte
	retain   bool
	interval time.Duration

	latest    types.Record
	hasLatest bool
}

// New connects to the broker described by c
func New(c *config.MQTTData) (*Storage, error) {
	if c == nil || c.Broker == "" {
		return nil, fmt.Errorf("MQTT broker is required")
	}
	interval, err := config.ParseDuration(c.PublishInterval, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid publish-interval: %w", err)
	}

	clientID := c.ClientID
	if clientID == "" {
		clientID = "simtelemetry"
	}
	opts := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnf("MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			log.Infof("connected to MQTT broker %s", c.Broker)
		})
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}

	s := newStorage(client, c, interval)
	s.closer = func() { client.Disconnect(disconnectQuiesce) }
	return s, nil
}

func newStorage(p publisher, c *config.MQTTData, interval time.Duration) *Storage {
	prefix := c.TopicPrefix
	if prefix == "" {
		prefix = config.DefaultMQTTPrefix
	}
	return &Storage{
		client:   p,
		closer:   func() {},
		prefix:   prefix,
		qos:      byte(c.QoS),
		retain:   c.Retain,
		interval: interval,
	}
}

// StartStorageEngine creates a goroutine loop to receive records and publish
// them to the broker
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Record {
	log.Info("starting MQTT storage engine...")
	recordChan := make(chan types.Record, 16)

	storage.StartHealthMonitor(ctx, storage.GlobalHealthManager, "mqtt", s, healthInterval)

	wg.Add(1)
	go s.processRecords(ctx, wg, recordChan)
	return recordChan
}

func (s *Storage) processRecords(ctx context.Context, wg *sync.WaitGroup, rchan <-chan types.Record) {
	defer wg.Done()
	defer s.closer()

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case r := <-rchan:
			if err := s.StoreRecord(r); err != nil {
				log.Errorf("MQTT publish failed: %v", err)
			}
		case <-tick:
			if err := s.PublishLatest(); err != nil {
				log.Errorf("MQTT publish failed: %v", err)
			}
		case <-ctx.Done():
			storage.DrainRecords(rchan, s.StoreRecord, "MQTT")
			log.Info("cancellation request received. Cancelling MQTT record processor.")
			return
		}
	}
}

// StoreRecord publishes r immediately when no publish interval is set, and
// otherwise keeps it for the next tick. Closed sessions are always published
// immediately.
func (s *Storage) StoreRecord(r types.Record) error {
	s.latest = r
	s.hasLatest = true

	if r.Ended != nil {
		if err := s.publishJSON("session", r.Ended); err != nil {
			return err
		}
	}
	if s.interval == 0 {
		return s.PublishLatest()
	}
	return nil
}

// PublishLatest publishes the most recent snapshot and G-force reading
func (s *Storage) PublishLatest() error {
	if !s.hasLatest {
		return nil
	}
	if err := s.publishJSON("snapshot", s.latest.Snapshot); err != nil {
		return err
	}
	return s.publishJSON("gforce", s.latest.GForce)
}

func (s *Storage) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.prefix+"/"+topic, s.qos, s.retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s/%s", s.prefix, topic)
	}
	return token.Error()
}

// CheckHealth reports whether the broker connection is open
func (s *Storage) CheckHealth(context.Context) *config.HealthData {
	if !s.client.IsConnectionOpen() {
		return storage.CreateHealthData(storage.StatusUnhealthy, "MQTT broker connection is not open", nil)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "MQTT broker connected", nil)
}
