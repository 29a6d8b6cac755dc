package solver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultModeTable(t *testing.T) {
	table := DefaultModeTable()

	require.Equal(t, 10, table.TimeoutS(ModeRPN))
	require.Equal(t, 250, table.TimeoutS(ModeCNFSudoku))
	require.Equal(t, 10*time.Second, table.Timeout(ModeRPN))
	require.Equal(t, 250*time.Second, table.Timeout(ModeCNFSudoku))
}

func TestModeTableUnknownModeFallsBack(t *testing.T) {
	table := DefaultModeTable()

	require.Equal(t, 10, table.TimeoutS("NO_SUCH_MODE"))
}

func TestLoadModeTable(t *testing.T) {
	t.Run("missing file returns built-in table", func(t *testing.T) {
		table := LoadModeTable(filepath.Join(t.TempDir(), "absent.yaml"))

		require.Equal(t, DefaultModeTable(), table)
	})

	t.Run("empty file returns built-in table", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		require.Equal(t, DefaultModeTable(), LoadModeTable(path))
	})

	t.Run("invalid yaml returns built-in table", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mode_timeouts: [not a map"), 0o644))

		require.Equal(t, DefaultModeTable(), LoadModeTable(path))
	})

	t.Run("override merges over built-ins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "satq.yaml")
		content := "mode_timeouts:\n  RPN: 30\n  CNF_PIGEONHOLE: 600\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		table := LoadModeTable(path)

		require.Equal(t, 30, table.TimeoutS(ModeRPN))
		require.Equal(t, 600, table.TimeoutS("CNF_PIGEONHOLE"))
		require.Equal(t, 250, table.TimeoutS(ModeCNFSudoku), "untouched modes keep their built-in budget")
	})

	t.Run("non-positive override is ignored", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "satq.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mode_timeouts:\n  RPN: 0\n"), 0o644))

		table := LoadModeTable(path)

		require.Equal(t, 10, table.TimeoutS(ModeRPN))
	})
}

func TestLoadModeTableFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode_timeouts:\n  RPN: 42\n"), 0o644))

	t.Setenv(ConfigPathEnvVar, path)

	table := LoadModeTableFromEnv()

	require.Equal(t, 42, table.TimeoutS(ModeRPN))
}
