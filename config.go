package mergegate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	stateDirEnv = "MERGEGATE_STATE_DIR"
	storeDSNEnv = "MERGEGATE_STORE_DSN"
)

// Duration wraps time.Duration so YAML configs can use "90s" / "15m" syntax.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the overridable surface of the binaries: store location, lease
// timing defaults, validator policy files, and attestation output.
type Config struct {
	StoreDSN          string   `yaml:"store_dsn"`
	TTL               Duration `yaml:"ttl"`
	Heartbeat         Duration `yaml:"heartbeat"`
	AcquireTimeout    Duration `yaml:"acquire_timeout"`
	RetryInterval     Duration `yaml:"retry_interval"`
	PolicyPath        string   `yaml:"policy_path"`
	RulesPath         string   `yaml:"rules_path"`
	AttestationDir    string   `yaml:"attestation_dir"`
	GovernanceLog     string   `yaml:"governance_log"`
	AttestationSecret string   `yaml:"attestation_secret"`
	ValidatorTimeout  Duration `yaml:"validator_timeout"`
	Remote            string   `yaml:"remote"`
}

// DefaultConfig returns the built-in defaults. The store defaults to a
// SQLite file under the state directory (MERGEGATE_STATE_DIR or ./state).
func DefaultConfig() Config {
	var stateDir = os.Getenv(stateDirEnv)
	if stateDir == "" {
		stateDir = "state"
	}

	return Config{
		StoreDSN:         filepath.Join(stateDir, "leases.sqlite"),
		TTL:              Duration(15 * time.Minute),
		Heartbeat:        Duration(60 * time.Second),
		AcquireTimeout:   Duration(120 * time.Second),
		RetryInterval:    Duration(1 * time.Second),
		PolicyPath:       filepath.Join("policies", "gates.yml"),
		RulesPath:        filepath.Join("policies", "rules.yml"),
		AttestationDir:   "attestations",
		GovernanceLog:    DefaultGovernanceLogPath,
		ValidatorTimeout: Duration(5 * time.Minute),
		Remote:           "origin",
	}
}

// LoadConfig reads a YAML config file over the defaults, then applies
// environment overrides (MERGEGATE_STORE_DSN, MERGEGATE_ATTESTATION_SECRET).
// An empty path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	var cfg = DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if dsn := os.Getenv(storeDSNEnv); dsn != "" {
		cfg.StoreDSN = dsn
	}
	if secret := os.Getenv(attestationSecretEnv); secret != "" && cfg.AttestationSecret == "" {
		cfg.AttestationSecret = secret
	}

	return cfg, nil
}

// LeaseOptions maps the config's lease timing fields to manager options.
func (c Config) LeaseOptions() []LeaseOption {
	return []LeaseOption{
		WithTTL(time.Duration(c.TTL)),
		WithHeartbeat(time.Duration(c.Heartbeat)),
		WithAcquireTimeout(time.Duration(c.AcquireTimeout)),
		WithRetryInterval(time.Duration(c.RetryInterval)),
	}
}

// GatewayOptions maps the config's gateway fields to gateway options.
func (c Config) GatewayOptions() []GatewayOption {
	var opts = []GatewayOption{
		WithPolicyPath(c.PolicyPath),
		WithRulesPath(c.RulesPath),
		WithAttestationDir(c.AttestationDir),
		WithGovernanceLogPath(c.GovernanceLog),
		WithValidatorTimeout(time.Duration(c.ValidatorTimeout)),
	}
	if c.AttestationSecret != "" {
		opts = append(opts, WithAttestationSecret(c.AttestationSecret))
	}
	return opts
}
