package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rollkeeper/rollkeeper/pkg/consts"
	"github.com/rollkeeper/rollkeeper/pkg/hardware"
	"gopkg.in/yaml.v3"
)

type (
	// ClickHouseConfig holds the connection settings for the target
	// ClickHouse deployment.
	ClickHouseConfig struct {
		// DSN is the ClickHouse native-protocol address, e.g. "localhost:9000".
		DSN string `yaml:"dsn"`

		// Database selects the database queries and DDL run against.
		Database string `yaml:"database,omitempty"`

		// Cluster is an optional ON CLUSTER target for distributed DDL.
		Cluster string `yaml:"cluster,omitempty"`
	}

	// HardwareConfig optionally pins values pkg/hardware would otherwise
	// autodetect. A zero value on either field means autodetect.
	HardwareConfig struct {
		// Threads overrides runtime.NumCPU(). 0 means autodetect.
		Threads int `yaml:"threads,omitempty"`

		// AvailableMemoryGB overrides the /proc/meminfo reading. 0 means
		// autodetect.
		AvailableMemoryGB float64 `yaml:"available_memory_gb,omitempty"`
	}

	// PlannerConfig holds the cost-model tuning values. Pointer fields
	// distinguish "unset, use the hardware-derived default" from an
	// explicit zero, the same selective-override pattern the teacher uses
	// for formatter options.
	PlannerConfig struct {
		// ScanWeight overrides the hardware-derived per-row cost weight.
		ScanWeight *float64 `yaml:"scan_weight,omitempty"`

		// RollupWeight overrides the hardware-derived per-group cost weight.
		RollupWeight *float64 `yaml:"rollup_weight,omitempty"`

		// PartitionRowThreshold overrides consts.PartitionRowThreshold.
		PartitionRowThreshold *int64 `yaml:"partition_row_threshold,omitempty"`

		// TopK overrides consts.TopK.
		TopK *int `yaml:"top_k,omitempty"`
	}

	// Config is the full rollkeeper.yaml document.
	Config struct {
		ClickHouse ClickHouseConfig `yaml:"clickhouse"`
		Hardware   HardwareConfig   `yaml:"hardware,omitempty"`
		Planner    PlannerConfig    `yaml:"planner,omitempty"`

		// InputDir names the directory of raw event data. The pipeline does
		// not read it: the events table must already exist in ClickHouse.
		InputDir string `yaml:"input_dir,omitempty"`

		// QueriesFile is the queries.json path to plan and execute.
		QueriesFile string `yaml:"queries_file"`

		// OutputDir is where per-query result CSVs are written.
		OutputDir string `yaml:"output_dir,omitempty"`

		// UseExistingDB, when non-empty, skips materialization and plans
		// against a database that already has the MV registry built.
		UseExistingDB string `yaml:"use_existing_db,omitempty"`
	}
)

// LoadConfig parses a rollkeeper configuration from r.
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal rollkeeper config")
	}

	if cfg.QueriesFile == "" {
		return nil, errors.New("queries_file is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./out"
	}
	if cfg.InputDir == "" {
		cfg.InputDir = "./data"
	}

	return &cfg, nil
}

// LoadConfigFile opens path and loads it via LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}

// HardwareInfo resolves the effective hardware snapshot: config overrides
// take precedence over autodetection, field by field.
func (c *Config) HardwareInfo() hardware.Info {
	info := hardware.Detect()
	if c == nil {
		return info
	}
	if c.Hardware.Threads > 0 {
		info.Threads = c.Hardware.Threads
	}
	if c.Hardware.AvailableMemoryGB > 0 {
		info.AvailableMemoryGB = c.Hardware.AvailableMemoryGB
	}
	return info
}

// PlannerWeights resolves the effective (scanWeight, rollupWeight),
// falling back to hardware-derived defaults when the config leaves them
// unset.
func (c *Config) PlannerWeights() (scanWeight, rollupWeight float64) {
	scanWeight, rollupWeight = c.HardwareInfo().CostWeights()
	if c == nil {
		return scanWeight, rollupWeight
	}
	if c.Planner.ScanWeight != nil {
		scanWeight = *c.Planner.ScanWeight
	}
	if c.Planner.RollupWeight != nil {
		rollupWeight = *c.Planner.RollupWeight
	}
	return scanWeight, rollupWeight
}

// PartitionRowThreshold resolves the effective row-count threshold for
// building type partitions, falling back to consts.PartitionRowThreshold.
func (c *Config) PartitionRowThreshold() int64 {
	if c != nil && c.Planner.PartitionRowThreshold != nil {
		return *c.Planner.PartitionRowThreshold
	}
	return consts.PartitionRowThreshold
}

// TopK resolves the effective top-k size for stats collection, falling
// back to consts.TopK.
func (c *Config) TopK() int {
	if c != nil && c.Planner.TopK != nil {
		return *c.Planner.TopK
	}
	return consts.TopK
}
