//go:build no_automation

package main

import (
	"log/slog"

	"ubibot-go-home/internal/coordinator"
	"ubibot-go-home/internal/entity"
	"ubibot-go-home/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *coordinator.Manager, _ *entity.Registry, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
