package solver

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satq-io/satq/internal/config"
)

// Known solving modes. A mode selects the wall-clock timeout granted to the
// solver for one run.
const (
	ModeRPN       = "RPN"
	ModeCNFSudoku = "CNF_SUDOKU"
)

// Built-in per-mode timeouts in seconds.
const (
	defaultTimeoutRPN    = 10
	defaultTimeoutSudoku = 250
)

// DefaultConfigPath is the default location of the optional mode override file.
const DefaultConfigPath = ".satq.yaml"

// ConfigPathEnvVar is the environment variable naming a custom override file.
const ConfigPathEnvVar = "SATQ_CONFIG_PATH"

// ModeTable maps mode names to their timeout budgets in seconds. Unknown modes
// fall back to the RPN budget.
type ModeTable struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Timeouts map[string]int `yaml:"mode_timeouts"`
}

// DefaultModeTable returns the built-in mode timeouts.
func DefaultModeTable() *ModeTable {
	return &ModeTable{
		Timeouts: map[string]int{
			ModeRPN:       defaultTimeoutRPN,
			ModeCNFSudoku: defaultTimeoutSudoku,
		},
	}
}

// LoadModeTable loads mode timeouts from a YAML file at the given path, merged
// over the built-in table.
//
// Behavior:
//   - Returns the built-in table (not an error) if the file doesn't exist
//   - Returns the built-in table + logs a warning if the YAML is invalid
//   - Overrides and extends the built-in entries on success
//
// Mode timeouts are tuning knobs, not required configuration, so a broken
// override file must never stop the worker from starting.
func LoadModeTable(path string) *ModeTable {
	table := DefaultModeTable()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Mode config file not found, using built-in timeouts",
				slog.String("path", path))

			return table
		}

		slog.Warn("Failed to read mode config file, using built-in timeouts",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return table
	}

	if len(data) == 0 {
		return table
	}

	var override ModeTable
	if err := yaml.Unmarshal(data, &override); err != nil {
		slog.Warn("Failed to parse mode config file, using built-in timeouts",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return table
	}

	for mode, timeoutS := range override.Timeouts {
		if timeoutS <= 0 {
			slog.Warn("Ignoring non-positive mode timeout override",
				slog.String("mode", mode),
				slog.Int("timeout_s", timeoutS))

			continue
		}

		table.Timeouts[mode] = timeoutS
	}

	return table
}

// LoadModeTableFromEnv loads the table from the path in SATQ_CONFIG_PATH,
// falling back to ".satq.yaml" in the current directory.
func LoadModeTableFromEnv() *ModeTable {
	return LoadModeTable(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
}

// TimeoutS returns the timeout budget in seconds for a mode. Unknown modes get
// the RPN budget.
func (t *ModeTable) TimeoutS(mode string) int {
	if timeoutS, ok := t.Timeouts[mode]; ok {
		return timeoutS
	}

	return t.Timeouts[ModeRPN]
}

// Timeout returns the budget for a mode as a duration.
func (t *ModeTable) Timeout(mode string) time.Duration {
	return time.Duration(t.TimeoutS(mode)) * time.Second
}
