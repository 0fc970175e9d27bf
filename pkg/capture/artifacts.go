package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/entrhq/wayfinder/pkg/dedup"
)

// ArtifactName returns the file name of a frame artifact. Frame ids are
// zero-padded so that lexical order matches capture order.
func ArtifactName(frameID int, ext string) string {
	return fmt.Sprintf("frame_%06d.%s", frameID, ext)
}

// ArtifactWriter persists frame artifacts into one session directory.
// Identical content is written once; later frames reference the first file.
type ArtifactWriter struct {
	dir      string
	compress bool
	index    *dedup.Index

	mu      sync.Mutex
	encoder *zstd.Encoder
	written int
}

// NewArtifactWriter creates a writer rooted at dir. Text artifacts (HTML and
// layout JSON) are zstd-compressed when compress is set.
func NewArtifactWriter(dir string, compress bool) *ArtifactWriter {
	return &ArtifactWriter{dir: dir, compress: compress, index: dedup.NewIndex()}
}

// Written returns how many files have been created.
func (w *ArtifactWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Write stores data under name unless content with the same digest is
// already stored. It returns the path, relative to Dir, holding the content.
func (w *ArtifactWriter) Write(name, digest string, data []byte, text bool) (string, error) {
	if digest == "" {
		digest = dedup.Digest(data)
	}
	if p, ok := w.index.Lookup(digest); ok {
		return p, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// a concurrent writer may have stored it while we waited
	if p, ok := w.index.Lookup(digest); ok {
		return p, nil
	}

	if text && w.compress {
		enc, err := w.encoderLocked()
		if err != nil {
			return "", err
		}
		data = enc.EncodeAll(data, nil)
		name += ".zst"
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("capture: create artifact dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("capture: write %s: %w", name, err)
	}
	w.written++
	return w.index.Remember(digest, name), nil
}

func (w *ArtifactWriter) encoderLocked() (*zstd.Encoder, error) {
	if w.encoder == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("capture: zstd encoder: %w", err)
		}
		w.encoder = enc
	}
	return w.encoder, nil
}

// ReadArtifact reads an artifact written by ArtifactWriter, decompressing
// .zst files.
func ReadArtifact(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	if filepath.Ext(name) != ".zst" {
		return data, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("capture: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: decompress %s: %w", name, err)
	}
	return out, nil
}
