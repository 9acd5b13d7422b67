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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultSerialPort, c.SerialPort)
	require.Equal(t, DefaultPosGood, c.PosGood)
	require.Equal(t, DefaultPosMax, c.PosMax)
	require.Equal(t, DefaultRateLimit, c.OSMRateLimit)
	require.Equal(t, DefaultWorkerInterval, c.WorkerInterval)
	require.Equal(t, DefaultLanguage, c.Language)
	require.Equal(t, DefaultOSMAPIURL, c.OSMAPIURL)
	require.Equal(t, DefaultMaxMessageLength, c.MaxMessageLength)
	require.False(t, c.DryRun)
	require.False(t, c.DailyBroadcastEnabled)
	require.Equal(t, filepath.Join(c.DataDir, "gateway.db"), c.DBPath)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("SERIAL_PORT", "/dev/ttyUSB3")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("POS_GOOD", "20")
	t.Setenv("POS_MAX", "90")
	t.Setenv("WORKER_INTERVAL", "60")
	t.Setenv("LANGUAGE", "en")
	t.Setenv("MONITORING_PORT", "8889")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB3", c.SerialPort)
	require.True(t, c.DryRun)
	require.Equal(t, 20*time.Second, c.PosGood)
	require.Equal(t, 90*time.Second, c.PosMax)
	require.Equal(t, 60*time.Second, c.WorkerInterval)
	require.Equal(t, "en", c.Language)
	require.Equal(t, 8889, c.MonitoringPort)
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SERIAL_PORT=/dev/ttyS9\nPOS_MAX=120\n"), 0o644))

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyS9", c.SerialPort)
	require.Equal(t, 120*time.Second, c.PosMax)
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("SERIAL_PORT", "/dev/ttyACM7")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SERIAL_PORT=/dev/ttyS9\n"), 0o644))

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM7", c.SerialPort)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			PosGood:        DefaultPosGood,
			PosMax:         DefaultPosMax,
			WorkerInterval: DefaultWorkerInterval,
			Language:       "es",
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.PosGood = 2 * c.PosMax
	require.Error(t, c.Validate())

	c = base()
	c.PosMax = 0
	require.Error(t, c.Validate())

	c = base()
	c.WorkerInterval = 0
	require.Error(t, c.Validate())

	c = base()
	c.Language = "fr"
	require.Error(t, c.Validate())

	c = base()
	c.OSMRateLimit = -time.Second
	require.Error(t, c.Validate())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	c := &Config{Timezone: "Not/AZone"}
	require.Equal(t, time.UTC, c.Location())

	c = &Config{Timezone: "America/Bogota"}
	require.Equal(t, "America/Bogota", c.Location().String())
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("OSMGW_TEST_BOOL", "not-a-bool")
	require.True(t, getenvBool("OSMGW_TEST_BOOL", true))

	t.Setenv("OSMGW_TEST_INT", "abc")
	require.Equal(t, 7, getenvInt("OSMGW_TEST_INT", 7))

	t.Setenv("OSMGW_TEST_SECS", "15")
	require.Equal(t, 15*time.Second, getenvSeconds("OSMGW_TEST_SECS", time.Minute))
}
