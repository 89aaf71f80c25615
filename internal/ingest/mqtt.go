package ingest

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"attune/internal/config"
	"attune/internal/model"
)

func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- model.FeatureFrame, logger *slog.Logger) error {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.BrokerURL, "topic", current.Topic, "client_id", current.ClientID)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.BrokerURL)
	opts.SetClientID(current.ClientID)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", current.BrokerURL, token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		frame, err := ParseFrameBytes(msg.Payload(), "mqtt")
		if err != nil {
			if logger != nil {
				logger.Warn("mqtt frame rejected", "topic", msg.Topic(), "err", err)
			}
			return
		}
		SendNonBlocking(ctx, out, frame, logger)
	}
	if token := client.Subscribe(current.Topic, current.QoS, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("mqtt subscribe %s: %w", current.Topic, token.Error())
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}
