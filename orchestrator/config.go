package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/contract"
)

const (
	DefaultPollInterval = time.Second
	DefaultCacheTTL     = 10 * time.Minute
)

// Config configures an Orchestrator. Zero values fall back to defaults.
type Config struct {
	// Bytecode is the deployable agreement code. Deploy fails without it.
	Bytecode []byte

	// GasMarginPercent scales estimated gas for calls (default 110)
	GasMarginPercent uint64
	// DeployGasMarginPercent scales estimated gas for deployments (default 120)
	DeployGasMarginPercent uint64

	// PollInterval is the delay between receipt polls
	PollInterval time.Duration

	Retry    escrow.RetryPolicy
	CacheTTL time.Duration
	Logger   *logrus.Entry
}

func (c Config) withDefaults() Config {
	if c.GasMarginPercent == 0 {
		c.GasMarginPercent = contract.CallGasMarginPercent
	}
	if c.DeployGasMarginPercent == 0 {
		c.DeployGasMarginPercent = contract.DeployGasMarginPercent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = escrow.DefaultRetryPolicy()
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	c.Logger = c.Logger.WithField("component", "orchestrator")
	return c
}

func (c Config) validate() error {
	if c.GasMarginPercent < 100 || c.DeployGasMarginPercent < 100 {
		return fmt.Errorf("gas margins must be at least 100 percent, got %d and %d",
			c.GasMarginPercent, c.DeployGasMarginPercent)
	}
	return nil
}

// Environment is the process configuration read from the environment and an
// optional .env file
type Environment struct {
	RPCURL         string
	ChainID        int64
	ArbiterKey     string
	PayerKey       string
	BeneficiaryKey string
	ArtifactPath   string
	Port           string
	LogLevel       logrus.Level

	GasMarginPercent       uint64
	DeployGasMarginPercent uint64
	MaxAttempts            int
	PollInterval           time.Duration
}

// LoadEnvironment reads the .env files (default ".env") into the process
// environment without overriding variables already set, then parses it. A
// missing .env file is not an error.
func LoadEnvironment(files ...string) (*Environment, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	env := &Environment{
		RPCURL:         getenv("NETWORK_RPC_URL", "http://127.0.0.1:8545"),
		ArbiterKey:     os.Getenv("ARBITER_PRIVATE_KEY"),
		PayerKey:       os.Getenv("PAYER_PRIVATE_KEY"),
		BeneficiaryKey: os.Getenv("BENEFICIARY_PRIVATE_KEY"),
		ArtifactPath:   getenv("CONTRACT_ARTIFACT", "artifacts/contracts/EscrowContract.sol/EscrowContract.json"),
		Port:           getenv("PORT", "3000"),
		LogLevel:       logrus.InfoLevel,
	}

	var err error
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if env.LogLevel, err = logrus.ParseLevel(v); err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	if env.ChainID, err = intEnv("CHAIN_ID", 0); err != nil {
		return nil, err
	}
	margin, err := intEnv("GAS_MARGIN_PERCENT", contract.CallGasMarginPercent)
	if err != nil {
		return nil, err
	}
	deployMargin, err := intEnv("DEPLOY_GAS_MARGIN_PERCENT", contract.DeployGasMarginPercent)
	if err != nil {
		return nil, err
	}
	attempts, err := intEnv("MAX_ATTEMPTS", int64(escrow.DefaultRetryPolicy().MaxAttempts))
	if err != nil {
		return nil, err
	}
	env.GasMarginPercent = uint64(margin)
	env.DeployGasMarginPercent = uint64(deployMargin)
	env.MaxAttempts = int(attempts)

	env.PollInterval = DefaultPollInterval
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if env.PollInterval, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
		}
	}
	return env, nil
}

// Config builds an orchestrator configuration from the environment
func (e *Environment) Config(bytecode []byte, log *logrus.Entry) Config {
	retry := escrow.DefaultRetryPolicy()
	retry.MaxAttempts = e.MaxAttempts
	return Config{
		Bytecode:               bytecode,
		GasMarginPercent:       e.GasMarginPercent,
		DeployGasMarginPercent: e.DeployGasMarginPercent,
		PollInterval:           e.PollInterval,
		Retry:                  retry,
		Logger:                 log,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}
