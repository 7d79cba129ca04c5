package file_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/manifest"
	"github.com/moulars/moulars/internal/wire/file"
)

func newTestEngine(t *testing.T) (*manifest.Engine, context.Context) {
	t.Helper()
	dataRoot := t.TempDir()
	path := filepath.Join(dataRoot, "windows_ia32_internal", "dat", "foo.prp")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e := manifest.New(dataRoot, t.TempDir(), "", nil)
	go e.Run(ctx)
	return e, ctx
}

func requestBody(write func(w *codec.Writer)) *codec.Reader {
	w := codec.NewWriter(64)
	write(w)
	return codec.NewReader(w.Bytes())
}

func TestHandleBuildID_MatchAndMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	h := file.NewHandler(e, 7)

	buf := codec.NewWriter(32)
	r := requestBody(func(w *codec.Writer) { w.WriteUint32(7) })
	ok, err := h.HandlePacket(context.Background(), file.NewConn(), file.MsgBuildIdRequest, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	id, err := reply.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(file.MsgBuildIdReply), id)
	code, err := reply.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(file.ErrCodeSuccess), code)

	buf2 := codec.NewWriter(32)
	r2 := requestBody(func(w *codec.Writer) { w.WriteUint32(99) })
	_, err = h.HandlePacket(context.Background(), file.NewConn(), file.MsgBuildIdRequest, r2, buf2)
	require.NoError(t, err)
	reply2 := codec.NewReader(buf2.Bytes())
	_, _ = reply2.ReadUint16()
	code2, _ := reply2.ReadUint8()
	assert.Equal(t, uint8(file.ErrCodeBuildMismatch), code2)
}

func TestManifestRequest_ReturnsEncodedManifest(t *testing.T) {
	e, _ := newTestEngine(t)
	h := file.NewHandler(e, 1)

	buf := codec.NewWriter(256)
	r := requestBody(func(w *codec.Writer) {
		w.WriteString16("windows_ia32_internal_dat", true)
		w.WriteUint32(1)
	})
	ok, err := h.HandlePacket(context.Background(), file.NewConn(), file.MsgManifestRequest, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	_, _ = reply.ReadUint16()
	code, err := reply.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(file.ErrCodeSuccess), code)
	data, err := reply.ReadBlob()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFileDownload_StreamsChunksToCompletion(t *testing.T) {
	e, ctx := newTestEngine(t)
	h := file.NewHandler(e, 1)

	data, err := e.Manifest(ctx, "windows_ia32_internal_dat")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	// Parse the download_path field out of the manifest's single record the
	// same way a real client would, without re-deriving the hash.
	fields := decodeFirstRecord(t, data)
	downloadPath := fields[1]

	c := file.NewConn()

	buf := codec.NewWriter(128)
	r := requestBody(func(w *codec.Writer) { w.WriteString16(downloadPath, true) })
	ok, err := h.HandlePacket(ctx, c, file.MsgFileDownloadRequest, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	id, _ := reply.ReadUint16()
	require.Equal(t, uint16(file.MsgFileDownloadChunk), id)
	code, _ := reply.ReadUint8()
	require.Equal(t, uint8(file.ErrCodeSuccess), code)
	sent, _ := reply.ReadUint32()
	total, _ := reply.ReadUint32()
	chunk, err := reply.ReadBlob()
	require.NoError(t, err)
	assert.Equal(t, sent, uint32(len(chunk)))
	assert.True(t, sent <= total)

	buf2 := codec.NewWriter(64)
	ok, err = h.HandlePacket(ctx, c, file.MsgFileDownloadChunkAck, codec.NewReader(nil), buf2)
	require.NoError(t, err)
	assert.True(t, ok)

	reply2 := codec.NewReader(buf2.Bytes())
	id2, _ := reply2.ReadUint16()
	assert.Equal(t, uint16(file.MsgFileDownloadComplete), id2)

	c.Close()
}

// decodeFirstRecord decodes the first null-terminated UTF-16LE record of a
// wire manifest (§4.G "Manifest format") into its comma-separated fields.
func decodeFirstRecord(t *testing.T, data []byte) []string {
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
	return strings.Split(string(utf16.Decode(units)), ",")
}
