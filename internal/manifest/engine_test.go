package manifest_test

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/manifest"
)

func newRunningEngine(t *testing.T, dataRoot string) (*manifest.Engine, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e := manifest.New(dataRoot, t.TempDir(), "", nil)
	go e.Run(ctx)
	return e, ctx
}

func writeDatFile(t *testing.T, dataRoot, flavor, name, contents string) string {
	t.Helper()
	path := filepath.Join(dataRoot, flavor, "dat", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// firstRecord decodes the first null-terminated UTF-16LE record of a wire
// manifest and splits it on its comma fields, mirroring encodeManifest.
func firstRecord(t *testing.T, data []byte) []string {
	t.Helper()
	require.Zero(t, len(data)%2)

	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u := binary.LittleEndian.Uint16(data[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	record := string(utf16.Decode(units))
	return strings.Split(record, ",")
}

func TestEngine_ScanProducesManifestPerFlavorAndCategory(t *testing.T) {
	dataRoot := t.TempDir()
	writeDatFile(t, dataRoot, "windows_ia32_internal", "foo.prp", "hello world")

	e, ctx := newRunningEngine(t, dataRoot)

	names, err := e.Names(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "windows_ia32_internal_dat")
	assert.Contains(t, names, "windows_ia32_internal_All")

	data, err := e.Manifest(ctx, "windows_ia32_internal_dat")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestEngine_ManifestWithNoFilesIsEmptyButValid(t *testing.T) {
	dataRoot := t.TempDir()
	e, ctx := newRunningEngine(t, dataRoot)

	data, err := e.Manifest(ctx, "windows_ia32_internal_dat")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEngine_UnknownManifestIsNotFound(t *testing.T) {
	dataRoot := t.TempDir()
	e, ctx := newRunningEngine(t, dataRoot)

	_, err := e.Manifest(ctx, "does_not_exist")
	require.Error(t, err)
}

func TestEngine_RescanReusesCacheForUnchangedFile(t *testing.T) {
	dataRoot := t.TempDir()
	writeDatFile(t, dataRoot, "windows_ia32_internal", "foo.prp", "hello world")

	e, ctx := newRunningEngine(t, dataRoot)

	first, err := e.Manifest(ctx, "windows_ia32_internal_dat")
	require.NoError(t, err)

	require.NoError(t, e.Rescan(ctx))

	second, err := e.Manifest(ctx, "windows_ia32_internal_dat")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_ResolveFileReturnsCachedPath(t *testing.T) {
	dataRoot := t.TempDir()
	writeDatFile(t, dataRoot, "windows_ia32_internal", "foo.prp", "hello world")

	e, ctx := newRunningEngine(t, dataRoot)

	data, err := e.Manifest(ctx, "windows_ia32_internal_dat")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	fields := firstRecord(t, data)
	require.Len(t, fields, 7)
	downloadPath := fields[1]

	hashHex := strings.TrimSuffix(downloadPath, ".gz")
	raw, err := hex.DecodeString(hashHex)
	require.NoError(t, err)
	var hash [20]byte
	copy(hash[:], raw)

	path, size, err := e.ResolveFile(ctx, hash)
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.FileExists(t, path)
}
