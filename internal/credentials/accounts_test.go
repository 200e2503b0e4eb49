package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseAccounts covers comments, blanks, and secrets containing colons.
func TestParseAccounts(t *testing.T) {
	t.Parallel()

	input := "# team accounts\n\nalice@example.com:s3cret\n bob@example.com : pa:ss \n"
	got, err := ParseAccounts(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "alice@example.com", got[0].ID)
	require.Equal(t, "s3cret", got[0].Secret)
	require.Equal(t, "bob@example.com", got[1].ID)
	require.Equal(t, "pa:ss", got[1].Secret)
}

// TestParseAccountsReportsLine points at the malformed entry.
func TestParseAccountsReportsLine(t *testing.T) {
	t.Parallel()

	_, err := ParseAccounts(strings.NewReader("ok:pw\nmissing-secret\n"))
	require.ErrorIs(t, err, ErrMalformedAccount)
	require.Contains(t, err.Error(), "line 2")
}

// TestLoadMergesFileAndInline reads a file then appends inline entries.
func TestLoadMergesFileAndInline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "accounts.txt")
	require.NoError(t, os.WriteFile(path, []byte("a:1\n"), 0o600))

	got, err := Load(path, []string{"b:2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b", got[1].ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.Error(t, err)
	_, err = Load("", []string{"nocolon"})
	require.ErrorIs(t, err, ErrMalformedAccount)
}
