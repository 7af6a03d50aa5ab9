// Package transport connects the node to the pub/sub layer: one inbound
// compressed-frame subscription with depth-one coalescing and plain
// payload publication for the outbound topics.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"YoloObbNode/logger"
	"YoloObbNode/monitor"
	"YoloObbNode/msg"
)

const connectTimeout = 5 * time.Second

// Client wraps the MQTT session used for all topics.
type Client struct {
	cli mqtt.Client
}

// Connect establishes the broker session. Auto-reconnect is enabled so a
// broker hiccup does not kill the node once it is serving.
func Connect(broker, clientID string) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Log().Info("mqtt connection established",
			zap.String("broker", broker), zap.String("clientID", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Log().Warn("mqtt connection lost, waiting for automatic reconnect",
			zap.String("broker", broker), zap.Error(err))
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Publish sends one payload at QoS 0 and reports the broker-side error,
// if any.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.cli.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// SubscribeFrames registers the single inbound frame handler. Envelopes
// that do not parse are discarded here; everything else lands in the inbox
// for the processing loop.
func (c *Client) SubscribeFrames(topic string, inbox *Inbox) error {
	token := c.cli.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		var frame msg.CompressedImage
		if err := json.Unmarshal(m.Payload(), &frame); err != nil {
			logger.Log().Error("discarding malformed frame envelope", zap.Error(err))
			return
		}
		monitor.FramesReceived.Inc()
		if inbox.Put(frame) {
			monitor.FramesDropped.Inc()
		}
	})
	token.Wait()
	return token.Error()
}

// Disconnect closes the session, allowing a short drain window.
func (c *Client) Disconnect() {
	c.cli.Disconnect(250)
}
