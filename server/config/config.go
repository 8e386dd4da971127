// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel and David Stainton.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the porelay node configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/net/idna"

	"github.com/porelay/porelay/core/log"
)

const (
	defaultLogLevel           = "NOTICE"
	defaultStreamBufferSize   = 100
	defaultSubmitTimeout      = 30 * 1000 // 30 sec.
	defaultMaxSubmitAttempts  = 5
	defaultSubmitBaseDelay    = 500       // 500 ms.
	defaultSubmitMaxDelay     = 30 * 1000 // 30 sec.
	defaultRedeemConcurrency  = 4
	defaultStatsCheckInterval = 5 * 60 * 1000 // 5 min.
	defaultReviewInterval     = 60 * 1000     // 1 min.
	defaultOracleTimeout      = 10 * 1000     // 10 sec.

	// AuthorizerAllowList admits the peers listed in AccessControl.AllowList.
	AuthorizerAllowList = "allowlist"

	// AuthorizerStake admits peers holding at least AccessControl.MinStake.
	AuthorizerStake = "stake"
)

var defaultLogging = Logging{
	Disable:          false,
	File:             "",
	Level:            defaultLogLevel,
	StreamBufferSize: defaultStreamBufferSize,
}

// Server is the porelay node configuration.
type Server struct {
	// Identifier is the human readable identifier for the node (eg: FQDN).
	Identifier string

	// DataDir is the absolute path to the node's state files.
	DataDir string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// and log stream endpoints to.
	MetricsAddress string
}

func (sCfg *Server) validate() error {
	if sCfg.Identifier == "" {
		return errors.New("config: Server: Identifier is not set")
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.MetricsAddress != "" {
		if _, err := netip.ParseAddrPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}
	return nil
}

// Logging is the porelay logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string

	// StreamBufferSize is the number of recent log lines kept for new
	// log stream subscribers.
	StreamBufferSize int
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	if lvl == "" {
		lvl = defaultLogLevel
	}
	if err := log.ValidLevel(lvl); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	if lCfg.StreamBufferSize <= 0 {
		lCfg.StreamBufferSize = defaultStreamBufferSize
	}
	return nil
}

// Tickets is the ticket redemption configuration.
type Tickets struct {
	// AutoRedeem submits winning tickets as soon as they are received.
	AutoRedeem bool

	// SubmitTimeout bounds a single submission to the settlement
	// connector in milliseconds.
	SubmitTimeout int

	// MaxSubmitAttempts is the number of submissions tried on transient
	// connector failures before a ticket is left for a later retry.
	MaxSubmitAttempts int

	// SubmitBaseDelay is the initial delay between submission attempts in
	// milliseconds.
	SubmitBaseDelay int

	// SubmitMaxDelay caps the delay between submission attempts in
	// milliseconds.
	SubmitMaxDelay int

	// RedeemConcurrency is the number of channels redeemed in parallel.
	RedeemConcurrency int

	// StatsCheckInterval is the interval between consistency checks of the
	// ticket statistics in milliseconds.
	StatsCheckInterval int
}

func (tCfg *Tickets) applyDefaults() {
	if tCfg.SubmitTimeout <= 0 {
		tCfg.SubmitTimeout = defaultSubmitTimeout
	}
	if tCfg.MaxSubmitAttempts <= 0 {
		tCfg.MaxSubmitAttempts = defaultMaxSubmitAttempts
	}
	if tCfg.SubmitBaseDelay <= 0 {
		tCfg.SubmitBaseDelay = defaultSubmitBaseDelay
	}
	if tCfg.SubmitMaxDelay <= 0 {
		tCfg.SubmitMaxDelay = defaultSubmitMaxDelay
	}
	if tCfg.RedeemConcurrency <= 0 {
		tCfg.RedeemConcurrency = defaultRedeemConcurrency
	}
	if tCfg.StatsCheckInterval <= 0 {
		tCfg.StatsCheckInterval = defaultStatsCheckInterval
	}
}

func (tCfg *Tickets) validate() error {
	if tCfg.SubmitMaxDelay < tCfg.SubmitBaseDelay {
		return fmt.Errorf("config: Tickets: SubmitMaxDelay %d is below SubmitBaseDelay %d", tCfg.SubmitMaxDelay, tCfg.SubmitBaseDelay)
	}
	return nil
}

// AccessControl is the network access control configuration.
type AccessControl struct {
	// Disable admits every peer.
	Disable bool

	// Authorizer selects the access oracle, one of "allowlist" or "stake".
	Authorizer string

	// AllowList is the list of hex encoded peer identifiers admitted by
	// the allowlist authorizer.
	AllowList []string

	// MinStake is the decimal minimum stake required by the stake
	// authorizer.
	MinStake string

	// ReviewInterval is the interval between full peer reviews in
	// milliseconds.
	ReviewInterval int

	// OracleTimeout bounds each call to the access oracle and to the
	// connection closer in milliseconds.
	OracleTimeout int
}

func (aCfg *AccessControl) applyDefaults() {
	if aCfg.Authorizer == "" {
		aCfg.Authorizer = AuthorizerAllowList
	}
	if aCfg.ReviewInterval <= 0 {
		aCfg.ReviewInterval = defaultReviewInterval
	}
	if aCfg.OracleTimeout <= 0 {
		aCfg.OracleTimeout = defaultOracleTimeout
	}
}

func (aCfg *AccessControl) validate() error {
	aCfg.Authorizer = strings.ToLower(aCfg.Authorizer)
	switch aCfg.Authorizer {
	case AuthorizerAllowList:
	case AuthorizerStake:
		if aCfg.MinStake == "" {
			return errors.New("config: AccessControl: MinStake is not set")
		}
		if _, err := uint256.FromDecimal(aCfg.MinStake); err != nil {
			return fmt.Errorf("config: AccessControl: MinStake '%v' is invalid: %v", aCfg.MinStake, err)
		}
	default:
		return fmt.Errorf("config: AccessControl: Authorizer '%v' is invalid", aCfg.Authorizer)
	}
	return nil
}

// Channel seeds the development ledger with a payment channel.
type Channel struct {
	// Source and Destination are hex encoded account addresses.
	Source      string
	Destination string

	// SourceFunds and DestinationFunds are decimal amounts.
	SourceFunds      string
	DestinationFunds string
}

// Stake seeds the development ledger with an account stake.
type Stake struct {
	Address string
	Amount  string
}

// Ledger is the development ledger configuration.
type Ledger struct {
	Channels []*Channel
	Stakes   []*Stake
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

// Amounts returns the parsed channel funds.
func (c *Channel) Amounts() (source, destination *uint256.Int, err error) {
	if source, err = parseAmount(c.SourceFunds); err != nil {
		return nil, nil, err
	}
	if destination, err = parseAmount(c.DestinationFunds); err != nil {
		return nil, nil, err
	}
	return
}

// Value returns the parsed stake amount.
func (s *Stake) Value() (*uint256.Int, error) {
	return parseAmount(s.Amount)
}

func (lCfg *Ledger) validate() error {
	for i, c := range lCfg.Channels {
		if !common.IsHexAddress(c.Source) {
			return fmt.Errorf("config: Ledger: Channel %d: Source '%v' is invalid", i, c.Source)
		}
		if !common.IsHexAddress(c.Destination) {
			return fmt.Errorf("config: Ledger: Channel %d: Destination '%v' is invalid", i, c.Destination)
		}
		if common.HexToAddress(c.Source) == common.HexToAddress(c.Destination) {
			return fmt.Errorf("config: Ledger: Channel %d: Source and Destination are equal", i)
		}
		if _, _, err := c.Amounts(); err != nil {
			return fmt.Errorf("config: Ledger: Channel %d: invalid funds: %v", i, err)
		}
	}
	for i, s := range lCfg.Stakes {
		if !common.IsHexAddress(s.Address) {
			return fmt.Errorf("config: Ledger: Stake %d: Address '%v' is invalid", i, s.Address)
		}
		if _, err := s.Value(); err != nil {
			return fmt.Errorf("config: Ledger: Stake %d: Amount '%v' is invalid: %v", i, s.Amount, err)
		}
	}
	return nil
}

// Debug is the porelay debug configuration.
type Debug struct {
	// GenerateOnly halts and cleans up the server right after long term
	// key generation.
	GenerateOnly bool
}

// Config is the top level porelay configuration.
type Config struct {
	Server        *Server
	Logging       *Logging
	Tickets       *Tickets
	AccessControl *AccessControl
	Ledger        *Ledger

	Debug *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server section is mandatory, everything else is optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Tickets == nil {
		cfg.Tickets = &Tickets{}
	}
	if cfg.AccessControl == nil {
		cfg.AccessControl = &AccessControl{}
	}
	if cfg.Ledger == nil {
		cfg.Ledger = &Ledger{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}
	cfg.Tickets.applyDefaults()
	cfg.AccessControl.applyDefaults()

	// Perform basic validation.
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Tickets.validate(); err != nil {
		return err
	}
	if err := cfg.AccessControl.validate(); err != nil {
		return err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return err
	}

	var err error
	cfg.Server.Identifier, err = idna.Lookup.ToASCII(cfg.Server.Identifier)
	if err != nil {
		return fmt.Errorf("config: Failed to normalize Identifier: %v", err)
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
