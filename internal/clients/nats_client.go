package clients

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lottery-backend/internal/config"
	"lottery-backend/internal/metrics"
	"lottery-backend/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient NATS client publishing bridge events and receiving chain notices
type NATSClient struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	streamName    string
	subjectPrefix string
}

// NewNATSClient connect to NATS; JetStream is used when enabled in config
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("lottery-coordinator"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.Warnf("🔌 [NATS] disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Info("🔌 [NATS] reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS failed: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{
		conn:          conn,
		streamName:    cfg.StreamName,
		subjectPrefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
	}
	if client.subjectPrefix == "" {
		client.subjectPrefix = "lottery"
	}

	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create JetStream failed: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"url":       cfg.URL,
		"jetstream": cfg.EnableJetStream,
		"prefix":    client.subjectPrefix,
	}).Info("✅ [NATS] client initialized")
	return client, nil
}

// ensureStream make sure the event stream exists
func (c *NATSClient) ensureStream() error {
	if c.streamName == "" {
		c.streamName = "LOTTERY_EVENTS"
	}
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		logrus.Debugf("[NATS] stream %s already exists", c.streamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{c.subjectPrefix + ".events.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s failed: %w", c.streamName, err)
	}
	logrus.Infof("✅ [NATS] stream %s created", c.streamName)
	return nil
}

// EventSubject subject for one bridge event: <prefix>.events.<epoch>.<type>
func (c *NATSClient) EventSubject(event *models.BridgeEvent) string {
	return EventSubject(c.subjectPrefix, event)
}

// EventSubject subject layout shared with consumers
func EventSubject(prefix string, event *models.BridgeEvent) string {
	return fmt.Sprintf("%s.events.%d.%s", prefix, event.EpochID, event.Type)
}

// PublishBridgeEvent publish one event, through JetStream when enabled
func (c *NATSClient) PublishBridgeEvent(event *models.BridgeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	subject := c.EventSubject(event)

	if c.js != nil {
		_, err = c.js.Publish(subject, data, nats.MsgId(event.ID))
	} else {
		err = c.conn.Publish(subject, data)
	}
	if err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(string(event.Type), "publish").Inc()
		return fmt.Errorf("publish %s failed: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(string(event.Type)).Inc()
	return nil
}

// SubscribeChainNotices watchers of either chain announce new blocks here;
// the handler typically triggers an immediate poll.
func (c *NATSClient) SubscribeChainNotices(subject string, handler func(subject string, data []byte)) error {
	return c.subscribe(subject, func(msg *nats.Msg) {
		metrics.NATSMessagesReceived.WithLabelValues(msg.Subject).Inc()
		handler(msg.Subject, msg.Data)
	})
}

func (c *NATSClient) subscribe(subject string, handler nats.MsgHandler) error {
	if _, err := c.conn.Subscribe(subject, handler); err != nil {
		return fmt.Errorf("subscribe %s failed: %w", subject, err)
	}
	logrus.Infof("✅ [NATS] subscribed: %s", subject)
	return nil
}

// Close drain and close the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
		metrics.NATSConnectionStatus.Set(0)
	}
}
