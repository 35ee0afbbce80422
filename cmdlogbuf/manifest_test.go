package cmdlogbuf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	want := Manifest{CurrentFile: "/data/cmdlog.0000000007", FileNum: 7}
	require.NoError(t, SaveManifest(path, want))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadManifestToleratesComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// pinned manually after a restore
		"current_file": "/restore/cmdlog.0000000003",
		"file_num": 3,
	}`), 0o640))

	got, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "/restore/cmdlog.0000000003", got.CurrentFile)
	assert.Equal(t, uint32(3), got.FileNum)
}

func TestLoadManifestMissingCurrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	require.NoError(t, os.WriteFile(path, []byte(`{"file_num": 1}`), 0o640))
	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "MANIFEST"))
	assert.Error(t, err)
}
