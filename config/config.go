/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Defaults that are normative for the gateway. POS_GOOD/POS_MAX bound the
// age of the cached position we are willing to attach to a report.
const (
	DefaultDataDir          = "/var/lib/osmgw"
	DefaultSerialPort       = "/dev/ttyACM0"
	DefaultPosGood          = 15 * time.Second
	DefaultPosMax           = 60 * time.Second
	DefaultRateLimit        = 3 * time.Second
	DefaultWorkerInterval   = 30 * time.Second
	DefaultTimezone         = "America/Bogota"
	DefaultLanguage         = "es"
	DefaultMonitoringPort   = 0
	DefaultOSMAPIURL        = "https://api.openstreetmap.org/api/0.6/notes.json"
	DefaultNominatimURL     = "https://nominatim.openstreetmap.org/reverse"
	DefaultMaxMessageLength = 200
)

// Config carries all gateway run options. Everything is sourced from the
// environment (optionally via DATA_DIR/.env) so the same binary can run
// under systemd and in tests without a config file format.
type Config struct {
	SerialPort            string
	DataDir               string
	DBPath                string
	DryRun                bool
	LogLevel              string
	Timezone              string
	Language              string
	DailyBroadcastEnabled bool
	PosGood               time.Duration
	PosMax                time.Duration
	OSMRateLimit          time.Duration
	WorkerInterval        time.Duration
	MonitoringPort        int
	OSMAPIURL             string
	NominatimURL          string
	MaxMessageLength      int
}

// Load builds a Config from the process environment. A .env file under
// DATA_DIR is merged in first, without overriding variables already set,
// matching how the service is provisioned on the Pi.
func Load() (*Config, error) {
	dataDir := getenv("DATA_DIR", DefaultDataDir)
	if envFile := filepath.Join(dataDir, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
		// DATA_DIR itself may be set by the .env file
		dataDir = getenv("DATA_DIR", dataDir)
	}

	c := &Config{
		SerialPort:            getenv("SERIAL_PORT", DefaultSerialPort),
		DataDir:               dataDir,
		DBPath:                filepath.Join(dataDir, "gateway.db"),
		DryRun:                getenvBool("DRY_RUN", false),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		Timezone:              getenv("TZ", DefaultTimezone),
		Language:              getenv("LANGUAGE", DefaultLanguage),
		DailyBroadcastEnabled: getenvBool("DAILY_BROADCAST_ENABLED", false),
		PosGood:               getenvSeconds("POS_GOOD", DefaultPosGood),
		PosMax:                getenvSeconds("POS_MAX", DefaultPosMax),
		OSMRateLimit:          getenvSeconds("OSM_RATE_LIMIT_SECONDS", DefaultRateLimit),
		WorkerInterval:        getenvSeconds("WORKER_INTERVAL", DefaultWorkerInterval),
		MonitoringPort:        getenvInt("MONITORING_PORT", DefaultMonitoringPort),
		OSMAPIURL:             getenv("OSM_API_URL", DefaultOSMAPIURL),
		NominatimURL:          getenv("NOMINATIM_API_URL", DefaultNominatimURL),
		MaxMessageLength:      getenvInt("MAX_MESSAGE_LENGTH", DefaultMaxMessageLength),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate sanity-checks thresholds that would otherwise wedge the pipeline.
func (c *Config) Validate() error {
	if c.PosGood <= 0 || c.PosMax <= 0 {
		return fmt.Errorf("POS_GOOD and POS_MAX must be positive, got %s/%s", c.PosGood, c.PosMax)
	}
	if c.PosGood > c.PosMax {
		return fmt.Errorf("POS_GOOD (%s) must not exceed POS_MAX (%s)", c.PosGood, c.PosMax)
	}
	if c.OSMRateLimit < 0 {
		return fmt.Errorf("OSM_RATE_LIMIT_SECONDS must not be negative, got %s", c.OSMRateLimit)
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("WORKER_INTERVAL must be positive, got %s", c.WorkerInterval)
	}
	if c.Language != "es" && c.Language != "en" {
		return fmt.Errorf("unsupported LANGUAGE %q", c.Language)
	}
	return nil
}

// Location resolves the display timezone used by #osmlist and the "today"
// boundary of #osmcount. Falls back to UTC when TZ is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warningf("Unknown TZ %q, falling back to UTC", c.Timezone)
		return time.UTC
	}
	return loc
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warningf("Invalid boolean %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warningf("Invalid integer %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getenvSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warningf("Invalid duration %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return time.Duration(n) * time.Second
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
