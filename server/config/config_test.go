// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const basicConfig = `# A basic configuration example.
[Server]
Identifier = "relay.example.com"
DataDir = "%s"
MetricsAddress = "127.0.0.1:6543"

[Logging]
Level = "debug"

[Tickets]
AutoRedeem = true
MaxSubmitAttempts = 3

[AccessControl]
Authorizer = "Stake"
MinStake = "1000000000000000000"

[[Ledger.Channels]]
Source = "0x1111111111111111111111111111111111111111"
Destination = "0x2222222222222222222222222222222222222222"
SourceFunds = "5000"

[[Ledger.Stakes]]
Address = "0x1111111111111111111111111111111111111111"
Amount = "2000000000000000000"
`

func TestConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load(nil)
	require.EqualError(err, "No nil buffer as config file")

	cfg, err := Load([]byte(fmt.Sprintf(basicConfig, t.TempDir())))
	require.NoError(err)

	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal(defaultStreamBufferSize, cfg.Logging.StreamBufferSize)
	require.True(cfg.Tickets.AutoRedeem)
	require.Equal(3, cfg.Tickets.MaxSubmitAttempts)
	require.Equal(defaultSubmitTimeout, cfg.Tickets.SubmitTimeout)
	require.Equal(defaultRedeemConcurrency, cfg.Tickets.RedeemConcurrency)
	require.Equal(AuthorizerStake, cfg.AccessControl.Authorizer)
	require.Equal(defaultReviewInterval, cfg.AccessControl.ReviewInterval)
	require.False(cfg.Debug.GenerateOnly)

	require.Len(cfg.Ledger.Channels, 1)
	src, dst, err := cfg.Ledger.Channels[0].Amounts()
	require.NoError(err)
	require.Equal(uint64(5000), src.Uint64())
	require.True(dst.IsZero())

	stake, err := cfg.Ledger.Stakes[0].Value()
	require.NoError(err)
	require.Equal("2000000000000000000", stake.Dec())
}

func TestConfigDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(`
[Server]
Identifier = "relay"
DataDir = "/var/lib/porelay"
`))
	require.NoError(err)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.Equal(AuthorizerAllowList, cfg.AccessControl.Authorizer)
	require.Equal(defaultOracleTimeout, cfg.AccessControl.OracleTimeout)
	require.Equal(defaultStatsCheckInterval, cfg.Tickets.StatsCheckInterval)
	require.Empty(cfg.Ledger.Channels)

	// The shared default is not modified through a loaded config.
	cfg.Logging.Level = "ERROR"
	require.Equal(defaultLogLevel, defaultLogging.Level)
}

func TestIncompleteConfig(t *testing.T) {
	require := require.New(t)

	for _, tc := range []struct {
		name string
		body string
		err  string
	}{
		{
			name: "no server",
			body: "[Logging]\nLevel = \"DEBUG\"\n",
			err:  "config: No Server block was present",
		},
		{
			name: "no identifier",
			body: "[Server]\nDataDir = \"/tmp\"\n",
			err:  "config: Server: Identifier is not set",
		},
		{
			name: "relative datadir",
			body: "[Server]\nIdentifier = \"x\"\nDataDir = \"data\"\n",
			err:  "config: Server: DataDir 'data' is not an absolute path",
		},
		{
			name: "bad level",
			body: "[Server]\nIdentifier = \"x\"\nDataDir = \"/tmp\"\n[Logging]\nLevel = \"LOUD\"\n",
			err:  "config: Logging: Level 'LOUD' is invalid",
		},
		{
			name: "stake without minimum",
			body: "[Server]\nIdentifier = \"x\"\nDataDir = \"/tmp\"\n[AccessControl]\nAuthorizer = \"stake\"\n",
			err:  "config: AccessControl: MinStake is not set",
		},
		{
			name: "unknown authorizer",
			body: "[Server]\nIdentifier = \"x\"\nDataDir = \"/tmp\"\n[AccessControl]\nAuthorizer = \"oracle\"\n",
			err:  "config: AccessControl: Authorizer 'oracle' is invalid",
		},
		{
			name: "bad channel address",
			body: "[Server]\nIdentifier = \"x\"\nDataDir = \"/tmp\"\n[[Ledger.Channels]]\nSource = \"nope\"\n",
			err:  "config: Ledger: Channel 0: Source 'nope' is invalid",
		},
	} {
		_, err := Load([]byte(tc.body))
		require.EqualError(err, tc.err, tc.name)
	}

	_, err := Load([]byte("[Server]\nIdentifier = \"x\"\nDataDir = \"/tmp\"\nBogus = 1\n"))
	require.ErrorContains(err, "Undecoded keys")
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	f := filepath.Join(dir, "porelay.toml")
	require.NoError(os.WriteFile(f, []byte(fmt.Sprintf(basicConfig, dir)), 0600))

	cfg, err := LoadFile(f)
	require.NoError(err)
	require.Equal("relay.example.com", cfg.Server.Identifier)

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	require.Error(err)
}
