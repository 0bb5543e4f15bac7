// Package bundleconfig loads a project's config.yaml and overlays
// environment variable overrides onto it, the way configuration.Parser
// does for the registry's own config.yaml — simplified to a single
// schema generation since bundle config has no version matrix to
// reconcile.
package bundleconfig

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/modelops/bundle/bundleerr"
	"github.com/modelops/bundle/internal/atomicfile"
	"github.com/modelops/bundle/internal/retry"
	"github.com/modelops/bundle/storagepolicy"
)

// EnvPrefix is prepended to every field path when looking for an
// environment variable override, e.g. Registry.BaseURL is overridden by
// MODELOPSBUNDLE_REGISTRY_BASEURL.
const EnvPrefix = "MODELOPSBUNDLE"

// RegistryConfig points at the OCI registry a project syncs against.
type RegistryConfig struct {
	BaseURL    string `yaml:"base_url"`
	Repository string `yaml:"repository"`
	DefaultTag string `yaml:"default_tag,omitempty"`
}

// StoragePolicyConfig mirrors storagepolicy.Policy's fields as yaml.
type StoragePolicyConfig struct {
	Mode           string   `yaml:"mode,omitempty"`
	ThresholdBytes int64    `yaml:"threshold_bytes,omitempty"`
	ForceOCI       []string `yaml:"force_oci,omitempty"`
	ForceBLOB      []string `yaml:"force_blob,omitempty"`
}

// FsBlobConfig configures the filesystem blob provider.
type FsBlobConfig struct {
	RootDirectory string `yaml:"root_directory,omitempty"`
}

// AzureBlobConfig configures the Azure blob provider.
type AzureBlobConfig struct {
	AccountURL string `yaml:"account_url,omitempty"`
	Container  string `yaml:"container,omitempty"`
}

// S3BlobConfig configures the S3 blob provider.
type S3BlobConfig struct {
	Bucket string `yaml:"bucket,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// GcsBlobConfig configures the GCS blob provider.
type GcsBlobConfig struct {
	Bucket string `yaml:"bucket,omitempty"`
}

// BlobConfig selects and configures the external blob storage provider.
// Provider is empty when no blob storage is configured, in which case
// StoragePolicy.Classify never returns StorageBLOB: a force_blob match
// or blob-only mode yields a configuration error instead.
type BlobConfig struct {
	Provider  string          `yaml:"provider,omitempty"`
	Prefix    string          `yaml:"prefix,omitempty"`
	Fs        FsBlobConfig    `yaml:"fs,omitempty"`
	Azure     AzureBlobConfig `yaml:"azure,omitempty"`
	S3        S3BlobConfig    `yaml:"s3,omitempty"`
	Gcs       GcsBlobConfig   `yaml:"gcs,omitempty"`
}

// LogConfig configures the dcontext-wrapped logrus logger.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`
	Formatter string `yaml:"formatter,omitempty"`
}

// ConcurrencyConfig overrides the bounded-parallelism defaults spec.md §5
// otherwise fixes at 8 for network I/O and the logical CPU count for
// hashing.
type ConcurrencyConfig struct {
	Network int `yaml:"network,omitempty"`
	Hash    int `yaml:"hash,omitempty"`
}

// NetworkConfig gives the connect/transfer timeout knobs spec.md §5
// otherwise defaults to 30s/300s.
type NetworkConfig struct {
	ConnectTimeoutSeconds  int `yaml:"connect_timeout_seconds,omitempty"`
	TransferTimeoutSeconds int `yaml:"transfer_timeout_seconds,omitempty"`
}

// RetryConfig tunes the NetworkError backoff policy from spec.md §7.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts,omitempty"`
	InitialBackoffMs int `yaml:"initial_backoff_ms,omitempty"`
}

// Config is a project's config.yaml.
type Config struct {
	Registry      RegistryConfig      `yaml:"registry"`
	StoragePolicy StoragePolicyConfig `yaml:"storage_policy,omitempty"`
	Blob          BlobConfig          `yaml:"blob,omitempty"`
	Log           LogConfig           `yaml:"log,omitempty"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency,omitempty"`
	Network       NetworkConfig       `yaml:"network,omitempty"`
	Retry         RetryConfig         `yaml:"retry,omitempty"`
}

// Default returns a Config with the spec's documented defaults.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{DefaultTag: "latest"},
		StoragePolicy: StoragePolicyConfig{
			Mode:           "auto",
			ThresholdBytes: storagepolicy.DefaultThresholdBytes,
		},
		Log:         LogConfig{Level: "info", Formatter: "text"},
		Concurrency: ConcurrencyConfig{Network: 8, Hash: runtime.NumCPU()},
		Network:     NetworkConfig{ConnectTimeoutSeconds: 30, TransferTimeoutSeconds: 300},
		Retry:       RetryConfig{MaxAttempts: 5, InitialBackoffMs: 200},
	}
}

// Save persists c as YAML at path, atomically, the same temp-file-then-
// rename sequence tracked.Set.Save and syncstate.State.Save use for the
// rest of the project metadata directory.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return &bundleerr.ConfigurationError{Reason: "encoding config: " + err.Error()}
	}
	return atomicfile.Write(path, b)
}

// Load reads path, applies defaults for any field the file leaves
// unset, then overlays environment variable overrides.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &bundleerr.IoError{Path: path, Err: err}
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, &bundleerr.ConfigurationError{Reason: "malformed config at " + path + ": " + err.Error()}
	}

	if err := overlayEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix, envMap()); err != nil {
		return nil, &bundleerr.ConfigurationError{Reason: "invalid environment override: " + err.Error()}
	}

	if cfg.Registry.BaseURL == "" {
		return nil, &bundleerr.ConfigurationError{Reason: "registry.base_url is required"}
	}
	if cfg.Registry.Repository == "" {
		return nil, &bundleerr.ConfigurationError{Reason: "registry.repository is required"}
	}
	return cfg, nil
}

// ToStoragePolicy constructs a storagepolicy.Policy from the config,
// wiring whether blob storage is actually configured.
func (c *Config) ToStoragePolicy() (*storagepolicy.Policy, error) {
	return storagepolicy.New(
		storagepolicy.Mode(c.StoragePolicy.Mode),
		c.StoragePolicy.ThresholdBytes,
		c.Blob.Provider != "",
		c.StoragePolicy.ForceOCI,
		c.StoragePolicy.ForceBLOB,
	)
}

// ToRetryPolicy constructs the internal/retry.Policy the config's retry.*
// fields describe, for use by ociregistry and blobstore adapters instead
// of retry.DefaultPolicy.
func (c *Config) ToRetryPolicy() retry.Policy {
	p := retry.DefaultPolicy
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = uint64(c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoffMs > 0 {
		p.InitialInterval = time.Duration(c.Retry.InitialBackoffMs) * time.Millisecond
	}
	return p
}

func envMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

// overlayEnv walks v (a struct, addressable) and, for each field,
// checks for an environment variable named prefix_FIELDNAME (uppercase).
// If present, it is YAML-unmarshaled into the field, recursively
// descending into nested structs with the extended prefix. Mirrors
// configuration.Parser.overwriteFields, minus its map-key handling,
// which bundle config does not need.
func overlayEnv(v reflect.Value, prefix string, env map[string]string) error {
	if v.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < v.NumField(); i++ {
		sf := v.Type().Field(i)
		fieldPrefix := strings.ToUpper(prefix + "_" + sf.Name)
		if raw, ok := env[fieldPrefix]; ok {
			fieldVal := reflect.New(sf.Type)
			if err := yaml.Unmarshal([]byte(raw), fieldVal.Interface()); err != nil {
				return fmt.Errorf("%s: %w", fieldPrefix, err)
			}
			v.Field(i).Set(reflect.Indirect(fieldVal))
		}
		if sf.Type.Kind() == reflect.Struct {
			if err := overlayEnv(v.Field(i), fieldPrefix, env); err != nil {
				return err
			}
		}
	}
	return nil
}
