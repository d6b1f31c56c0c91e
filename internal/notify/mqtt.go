package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTOptions configure the MQTT sink. Lines go to <Topic>/log and upload
// announcements to <Topic>/files.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Codename string
	Logger   zerolog.Logger
}

type MQTTSink struct {
	opts   MQTTOptions
	client pahomqtt.Client
}

func DialMQTT(opts MQTTOptions) (*MQTTSink, error) {
	logger := opts.Logger
	co := pahomqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			logger.Debug().Str("broker", opts.Broker).Msg("mqtt connected")
		})
	c := pahomqtt.NewClient(co)
	tok := c.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect mqtt %s: timeout", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", opts.Broker, err)
	}
	return &MQTTSink{opts: opts, client: c}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, msg Message) error {
	b, err := encodeLog(s.opts.Codename, msg)
	if err != nil {
		return err
	}
	return s.publish(ctx, s.opts.Topic+"/log", b)
}

func (s *MQTTSink) Upload(ctx context.Context, files []File) error {
	for _, f := range files {
		b, err := encodeFile(s.opts.Codename, f)
		if err != nil {
			return err
		}
		if err := s.publish(ctx, s.opts.Topic+"/files", b); err != nil {
			return err
		}
	}
	return nil
}

func (s *MQTTSink) publish(ctx context.Context, topic string, payload []byte) error {
	timeout := mqttPublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	tok := s.client.Publish(topic, s.opts.QoS, false, payload)
	if !tok.WaitTimeout(timeout) {
		return errors.New("mqtt publish timeout")
	}
	return tok.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
