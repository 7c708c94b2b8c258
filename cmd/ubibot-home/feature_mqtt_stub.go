//go:build no_mqtt

package main

import (
	"log/slog"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/entity"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *coordinator.Manager, _ *entity.Registry, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
