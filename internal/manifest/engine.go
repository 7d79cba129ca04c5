// Package manifest implements the File Server Manifest Engine (§4.G):
// a directory scan that turns a data root into gzip-compressed,
// content-hashed manifests the File channel streams to the patcher, plus
// an on-disk cache keyed by each source file's staleness key. Grounded on
// the teacher's `game/instance/manager.go` map-owning-actor shape (same
// request/reply-over-channel idiom as internal/vault and internal/age) —
// the teacher itself has no file-server analog, so the domain logic is new,
// but the concurrency shape is not.
package manifest

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wireerr"
)

// rebuildInterval bounds how stale the served manifests can get without an
// explicit Rescan call (§2 "G watches the data root and rebuilds
// manifests").
const rebuildInterval = 5 * time.Minute

// flavors are the client build variants a manifest is generated per (§4.G
// "per client flavor").
var flavors = []string{
	"windows_ia32_internal",
	"windows_ia32_external",
	"windows_x64_internal",
	"windows_x64_external",
}

// categories are the data-root subdirectories scanned per flavor (§4.G
// "per data category"); All is the synthetic union of the other four.
var categories = []string{"dat", "sdl", "avi", "sfx"}

const allCategory = "All"

type request struct {
	do func()
}

// Engine is the Manifest cache actor: one goroutine owns every built
// manifest and its backing cache index (§5 "no shared locks on domain
// state"). dataRoot is scanned per flavor/category; built gzip files land
// in cacheDir named by their compressed SHA-1.
type Engine struct {
	dataRoot          string
	cacheDir          string
	pythonInterpreter string
	pakKey            []byte

	reqCh chan request

	manifests map[string][]model.ManifestEntry // manifest name -> entries
	byPath    map[string]model.ManifestEntry    // "<flavor>/<category>/<sourcePath>" -> entry, for staleness reuse
	byHash    map[[20]byte]string               // compressed hash -> absolute cache file path
}

// New creates an Engine rooted at dataRoot, caching compressed files under
// cacheDir. pythonInterpreter, when non-empty, enables the Python/ →
// .pak compile step (§4.G); pakKey seeds its RC4 encryption (see
// DESIGN.md's note on where that key comes from).
func New(dataRoot, cacheDir string, pythonInterpreter string, pakKey []byte) *Engine {
	return &Engine{
		dataRoot:          dataRoot,
		cacheDir:          cacheDir,
		pythonInterpreter: pythonInterpreter,
		pakKey:            pakKey,
		reqCh:             make(chan request, 16),
		manifests:         make(map[string][]model.ManifestEntry),
		byPath:            make(map[string]model.ManifestEntry),
		byHash:            make(map[[20]byte]string),
	}
}

// Run is the actor loop: an initial scan, then a rescan every
// rebuildInterval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if err := e.scan(ctx); err != nil {
		slog.Error("manifest: initial scan failed", "err", err)
	}

	ticker := time.NewTicker(rebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.reqCh:
			req.do()
		case <-ticker.C:
			if err := e.scan(ctx); err != nil {
				slog.Error("manifest: periodic rescan failed", "err", err)
			}
		}
	}
}

func (e *Engine) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := request{do: func() {
		fn()
		close(done)
	}}
	select {
	case e.reqCh <- req:
	case <-ctx.Done():
		return wireerr.New(wireerr.KindBusy, "manifest.submit", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return wireerr.New(wireerr.KindBusy, "manifest.submit", ctx.Err())
	}
}

// Rescan forces an immediate directory walk and cache rebuild, blocking
// until it completes (§8 S5: unchanged files reuse their cached gzip byte
// for byte).
func (e *Engine) Rescan(ctx context.Context) error {
	var outErr error
	err := e.submit(ctx, func() {
		outErr = e.scan(ctx)
	})
	if err != nil {
		return err
	}
	return outErr
}

// Names returns every manifest name the last scan produced, sorted by
// flavor then category.
func (e *Engine) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := e.submit(ctx, func() {
		for _, flavor := range flavors {
			for _, cat := range append(append([]string{}, categories...), allCategory) {
				name := flavor + "_" + cat
				if _, ok := e.manifests[name]; ok {
					names = append(names, name)
				}
			}
		}
	})
	return names, err
}

// ManifestNames implements auth.ManifestLister without requiring a ctx
// from the caller — the Auth channel's file-list handler has none of its
// own deadline to thread through.
func (e *Engine) ManifestNames() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	names, err := e.Names(ctx)
	if err != nil {
		return nil
	}
	return names
}

// Manifest encodes the named manifest in the wire format (§4.G "Manifest
// format").
func (e *Engine) Manifest(ctx context.Context, name string) ([]byte, error) {
	var out []byte
	var outErr error
	err := e.submit(ctx, func() {
		entries, ok := e.manifests[name]
		if !ok {
			outErr = ErrUnknownManifest("manifest.Manifest")
			return
		}
		out = encodeManifest(entries)
	})
	if err != nil {
		return nil, err
	}
	return out, outErr
}

// ResolveFile returns the absolute cache path and size of the file a
// manifest entry's compressed hash names, for the File channel's chunked
// download (§4.D "file download (streaming, 64 KiB chunks)").
func (e *Engine) ResolveFile(ctx context.Context, compressedHash [20]byte) (string, int64, error) {
	var path string
	var outErr error
	err := e.submit(ctx, func() {
		p, ok := e.byHash[compressedHash]
		if !ok {
			outErr = ErrUnknownFile("manifest.ResolveFile")
			return
		}
		path = p
	})
	if err != nil {
		return "", 0, err
	}
	if outErr != nil {
		return "", 0, outErr
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, wireerr.New(wireerr.KindIO, "manifest.ResolveFile", err)
	}
	return path, info.Size(), nil
}

// scan walks dataRoot for every flavor/category, rebuilding manifests and
// the cache index. Runs on the actor goroutine only.
func (e *Engine) scan(ctx context.Context) error {
	if err := os.MkdirAll(e.cacheDir, 0o755); err != nil {
		return wireerr.New(wireerr.KindIO, "manifest.scan", err)
	}

	for _, flavor := range flavors {
		var all []model.ManifestEntry
		for _, cat := range categories {
			dir := filepath.Join(e.dataRoot, flavor, cat)
			entries, err := e.scanDir(dir, flavor, cat)
			if err != nil {
				return err
			}
			e.manifests[flavor+"_"+cat] = entries
			all = append(all, entries...)
		}
		e.manifests[flavor+"_"+allCategory] = all
	}

	if e.pythonInterpreter != "" {
		if err := e.compilePythonPak(ctx); err != nil {
			slog.Warn("manifest: python pak compile failed", "err", err)
		}
	}
	return nil
}

// scanDir walks one flavor/category directory, reusing cached gzip bytes
// for files whose staleness key hasn't changed (§3.6, §4.G Build
// algorithm, §8 S5).
func (e *Engine) scanDir(dir, flavor, category string) ([]model.ManifestEntry, error) {
	var entries []model.ManifestEntry

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(e.dataRoot, path)
		if err != nil {
			return err
		}
		key := flavor + "/" + category + "/" + rel

		info, err := d.Info()
		if err != nil {
			return err
		}

		if cached, ok := e.byPath[key]; ok &&
			cached.SourceModTime == info.ModTime().Unix() &&
			cached.SourceSize == info.Size() {
			entries = append(entries, cached)
			return nil
		}

		entry, err := e.buildEntry(path, rel, info)
		if err != nil {
			return err
		}
		e.byPath[key] = entry
		e.byHash[entry.CompressedHash] = filepath.Join(e.cacheDir, hashName(entry.CompressedHash))
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, wireerr.New(wireerr.KindIO, "manifest.scanDir", err)
	}
	return entries, nil
}

// buildEntry gzips src, hashing both the uncompressed and compressed
// streams, then atomically renames the result into the cache (§4.G "gzip
// into a temp file, SHA-1 both streams, atomically rename").
func (e *Engine) buildEntry(src, rel string, info os.FileInfo) (model.ManifestEntry, error) {
	in, err := os.Open(src)
	if err != nil {
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(e.cacheDir, "build-*.gz.tmp")
	if err != nil {
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	uncompressedHash := sha1.New()
	compressedHash := sha1.New()

	gw := gzip.NewWriter(io.MultiWriter(tmp, compressedHash))
	uncompressedSize, err := io.Copy(gw, io.TeeReader(in, uncompressedHash))
	if err != nil {
		tmp.Close()
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}
	compressedSize, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		tmp.Close()
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}
	if err := tmp.Close(); err != nil {
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}

	var compressedHashArr [20]byte
	copy(compressedHashArr[:], compressedHash.Sum(nil))
	finalPath := filepath.Join(e.cacheDir, hashName(compressedHashArr))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return model.ManifestEntry{}, wireerr.New(wireerr.KindIO, "manifest.buildEntry", err)
	}

	var uncompressedHashArr [20]byte
	copy(uncompressedHashArr[:], uncompressedHash.Sum(nil))

	return model.ManifestEntry{
		ClientPath:       strings.ReplaceAll(rel, "/", `\`),
		SourcePath:       rel,
		UncompressedSize: uint32(uncompressedSize),
		UncompressedHash: uncompressedHashArr,
		CompressedSize:   uint32(compressedSize),
		CompressedHash:   compressedHashArr,
		SourceModTime:    info.ModTime().Unix(),
		SourceSize:       info.Size(),
	}, nil
}

func hashName(hash [20]byte) string {
	return fmt.Sprintf("%x.gz", hash)
}
