// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/waybar-bike/internal/bike"
)

const (
	configEnv = "WAYBARBIKE"

	StorageFile  = "file"
	StorageRedis = "redis"

	SourceGPSD   = "gpsd"
	SourceReplay = "replay"

	DefaultTextTpl    = `{{.FuelIcon}} {{floatFormat .State.CurrentFuelL 1}} L · {{floatFormat .Derived.EstimatedRangeKm 0}} km`
	DefaultAltTextTpl = `🏍️ {{floatFormat .Location.SpeedKph 0}} km/h · {{floatFormat .State.TripKm 1}} km`
	DefaultTooltipTpl = `{{.Bike.Model}} ({{.Bike.Year}})
{{loc "fuel"}}: {{floatFormat .State.CurrentFuelL 2}} / {{floatFormat .Bike.TankCapacityL 1}} L ({{floatFormat .Derived.FuelPercentage 0}}%)
{{loc "range"}}: {{floatFormat .Derived.EstimatedRangeKm 0}} km
{{loc "trip"}}: {{floatFormat .State.TripKm 1}} km
{{loc "odometer"}}: {{floatFormat .State.TotalOdometerKm 1}} km
{{loc "economy"}}: {{floatFormat .Settings.FuelEconomyKmPerL 1}} km/L
{{loc "lastrefuel"}}: {{if .HasRefuel}}{{humanTime .LastRefuel.Timestamp}}{{else}}{{loc "norefuel"}}{{end}}
{{loc "gps"}}: {{.GPSStatus}}{{if .HasPosition}}

🌅 {{timeFormat .SunriseTime "15:04"}} • 🌇 {{timeFormat .SunsetTime "15:04"}}{{end}}`
	DefaultAltTooltipTpl = `{{loc "speed"}}: {{floatFormat .Location.SpeedKph 0}} km/h
{{loc "reserve"}}: {{floatFormat .Settings.ReserveLiters 1}} L
{{range .RecentRefuels}}
{{timeFormat .Timestamp "2006-01-02 15:04"}}: {{floatFormat .Liters 1}} L @ {{floatFormat .Odometer 0}} km{{end}}`
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Bike struct {
		Model        string  `fig:"model" default:"Honda Dream Yuga"`
		Year         int     `fig:"year" default:"2014"`
		TankCapacity float64 `fig:"tank_capacity" default:"8.0"`
	} `fig:"bike"`

	// Defaults are used until the rider changes the settings for the first time.
	Defaults struct {
		FuelEconomy float64 `fig:"fuel_economy" default:"44.0"`
		Reserve     float64 `fig:"reserve" default:"1.5"`
	} `fig:"defaults"`

	Storage struct {
		// Allowed values: file, redis
		Backend     string `fig:"backend" default:"file"`
		Dir         string `fig:"dir"`
		RedisAddr   string `fig:"redis_addr" default:"localhost:6379"`
		RedisDB     int    `fig:"redis_db" default:"0"`
		RedisPrefix string `fig:"redis_prefix" default:"waybar-bike:"`
	} `fig:"storage"`

	Location struct {
		// Allowed values: gpsd, replay
		Source         string        `fig:"source" default:"gpsd"`
		GPSDHost       string        `fig:"gpsd_host" default:"localhost"`
		GPSDPort       string        `fig:"gpsd_port" default:"2947"`
		ReplayFile     string        `fig:"replay_file"`
		ReplayInterval time.Duration `fig:"replay_interval" default:"1s"`
	} `fig:"location"`

	Notifications struct {
		Disable bool `fig:"disable"`
		// Latch fires the low fuel warning only once per reserve crossing.
		Latch bool `fig:"latch"`
	} `fig:"notifications"`

	Control struct {
		Disable bool `fig:"disable"`
	} `fig:"control"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text       string `fig:"text"`
		AltText    string `fig:"alt_text"`
		Tooltip    string `fig:"tooltip"`
		AltTooltip string `fig:"alt_tooltip"`
	} `fig:"templates"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// BikeProfile returns the configured bike description.
func (c *Config) BikeProfile() bike.Bike {
	return bike.Bike{
		Model:         c.Bike.Model,
		Year:          c.Bike.Year,
		TankCapacityL: c.Bike.TankCapacity,
	}
}

// DefaultSettings returns the settings used when none have been persisted yet.
func (c *Config) DefaultSettings() bike.Settings {
	return bike.Settings{
		FuelEconomyKmPerL: c.Defaults.FuelEconomy,
		ReserveLiters:     c.Defaults.Reserve,
	}
}

func (c *Config) Validate() error {
	if err := bike.ValidateBike(c.BikeProfile()); err != nil {
		return fmt.Errorf("invalid bike configuration: %w", err)
	}
	if err := bike.ValidateSettings(c.DefaultSettings()); err != nil {
		return fmt.Errorf("invalid default settings: %w", err)
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}

	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.Dir == "" {
			dir, err := defaultStateDir()
			if err != nil {
				return fmt.Errorf("failed to determine state directory: %w", err)
			}
			c.Storage.Dir = dir
		}
	case StorageRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return fmt.Errorf("redis storage requires a redis address")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	switch c.Location.Source {
	case SourceGPSD:
	case SourceReplay:
		if c.Location.ReplayFile == "" {
			return fmt.Errorf("replay location source requires a replay file")
		}
		if c.Location.ReplayInterval <= 0 {
			return fmt.Errorf("invalid replay interval: %s", c.Location.ReplayInterval)
		}
	default:
		return fmt.Errorf("invalid location source: %s", c.Location.Source)
	}

	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.AltText == "" {
		c.Templates.AltText = DefaultAltTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.Templates.AltTooltip == "" {
		c.Templates.AltTooltip = DefaultAltTooltipTpl
	}

	return nil
}

func defaultStateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "waybar-bike"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "waybar-bike"), nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
