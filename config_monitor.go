package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/guregu/null/v5"
)

// ErrConfiguration is returned when a monitor cannot be scheduled because of
// an invalid target URL or interval.
var ErrConfiguration = errors.New("invalid monitor configuration")

const defaultProbeTimeout = 30 * time.Second

type Channel string

const (
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
	ChannelEmail   Channel = "email"
)

var defaultChannels = []Channel{ChannelPush, ChannelWebhook}

type Monitor struct {
	ID             string      `yaml:"id" json:"id"`
	UserID         string      `yaml:"user_id" json:"user_id"`
	Name           string      `yaml:"name" json:"name"`
	Url            string      `yaml:"url" json:"url"`
	Interval       string      `yaml:"interval" json:"interval"`
	TimeoutSeconds null.Int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	Retries        int         `yaml:"retries" json:"retries"`
	Channels       []Channel   `yaml:"channels" json:"channels"`
	State          HealthState `yaml:"-" json:"state"`
	LastCheckedAt  null.Time   `yaml:"-" json:"last_checked_at"`
	LastLatencyMs  null.Int    `yaml:"-" json:"last_latency_ms"`
	CreatedAt      time.Time   `yaml:"-" json:"created_at"`
}

// IntervalDuration parses Interval as a stringified time.Duration ("30s", "5m").
// A bare number is read as minutes.
func (m Monitor) IntervalDuration() (time.Duration, error) {
	if m.Interval == "" {
		return time.Minute, nil
	}

	var minutes int
	if _, err := fmt.Sscanf(m.Interval, "%d", &minutes); err == nil && fmt.Sprint(minutes) == m.Interval {
		return time.Duration(minutes) * time.Minute, nil
	}

	return time.ParseDuration(m.Interval)
}

func (m Monitor) Timeout() time.Duration {
	if m.TimeoutSeconds.Valid && m.TimeoutSeconds.Int64 > 0 {
		return time.Duration(m.TimeoutSeconds.Int64) * time.Second
	}

	return defaultProbeTimeout
}

func (m Monitor) HasChannel(channel Channel) bool {
	if len(m.Channels) == 0 {
		return slices.Contains(defaultChannels, channel)
	}

	return slices.Contains(m.Channels, channel)
}

// Validate checks the monitor against the scheduling constraints. The returned
// error always wraps ErrConfiguration.
func (m Monitor) Validate(minimumInterval time.Duration) error {
	if m.ID == "" {
		return fmt.Errorf("%w: monitor id is required", ErrConfiguration)
	}

	if m.UserID == "" {
		return fmt.Errorf("%w: monitor %s has no owning user", ErrConfiguration, m.ID)
	}

	parsedUrl, err := url.Parse(m.Url)
	if err != nil {
		return fmt.Errorf("%w: parsing url: %s", ErrConfiguration, err.Error())
	}
	if !parsedUrl.IsAbs() || (parsedUrl.Scheme != "http" && parsedUrl.Scheme != "https") || parsedUrl.Hostname() == "" {
		return fmt.Errorf("%w: url %q must be an absolute http(s) url", ErrConfiguration, m.Url)
	}

	interval, err := m.IntervalDuration()
	if err != nil {
		return fmt.Errorf("%w: parsing interval: %s", ErrConfiguration, err.Error())
	}
	if minimumInterval < time.Second {
		minimumInterval = time.Second
	}
	if interval < minimumInterval {
		return fmt.Errorf("%w: interval %s is below the minimum of %s", ErrConfiguration, interval, minimumInterval)
	}

	if m.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", ErrConfiguration)
	}

	for _, channel := range m.Channels {
		switch channel {
		case ChannelPush, ChannelWebhook, ChannelEmail:
		default:
			return fmt.Errorf("%w: unknown channel %q", ErrConfiguration, channel)
		}
	}

	return nil
}

type User struct {
	ID    string `yaml:"id" json:"id"`
	Email string `yaml:"email" json:"email"`
	Name  string `yaml:"name" json:"name"`
}

type WebhookConfig struct {
	ID     string      `yaml:"id" json:"id"`
	UserID string      `yaml:"user_id" json:"user_id"`
	Name   string      `yaml:"name" json:"name"`
	Url    string      `yaml:"url" json:"url"`
	Secret null.String `yaml:"secret" json:"-"`
	Events []string    `yaml:"events" json:"events"`
	Active bool        `yaml:"active" json:"active"`
}

// Subscribes reports whether the webhook wants eventType. "*" matches everything.
func (w WebhookConfig) Subscribes(eventType string) bool {
	return slices.Contains(w.Events, "*") || slices.Contains(w.Events, eventType)
}

// MonitorConfig is the seed file loaded at startup.
type MonitorConfig struct {
	Users    []User          `yaml:"users"`
	Monitors []Monitor       `yaml:"monitors"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

func LoadMonitorConfig(path string) (MonitorConfig, error) {
	monitorConfigFile, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return MonitorConfig{}, nil
		}

		return MonitorConfig{}, fmt.Errorf("reading monitor file: %w", err)
	}

	var monitorConfig MonitorConfig
	if err := yaml.Unmarshal(monitorConfigFile, &monitorConfig); err != nil {
		return MonitorConfig{}, fmt.Errorf("unmarshaling monitor file: %w", err)
	}

	return monitorConfig, nil
}
