// Package artifacts implements the content-addressed Artifact Store:
// a byte-keyed blob store whose identity is the SHA-256 of its
// contents, independent of any filename scheme. Grounded in the
// teacher's pkg/artifacts.Store/FileStore, generalized to the sealed
// contracts.Artifact value type.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// Store is the contract every artifact backend implements.
type Store interface {
	// Put persists bytes under their own content address and returns
	// it. A second Put of identical bytes returns the same address
	// without rewriting.
	Put(ctx context.Context, data []byte, mediaType string) (string, error)
	// Get retrieves an artifact by content address, re-verifying its
	// SHA-256 on read.
	Get(ctx context.Context, address string) (*contracts.Artifact, error)
	// Verify reports whether the stored bytes for address still hash
	// to address.
	Verify(ctx context.Context, address string) (bool, error)
}

// FileStore is a filesystem-backed, two-char-prefix-sharded Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex

	// mediaTypes tracks the media type supplied at Put time, since
	// content addressing intentionally carries no filename metadata.
	mediaTypes map[string]string
}

// NewFileStore creates (or reuses) a CAS directory at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: failed to create store dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, mediaTypes: make(map[string]string)}, nil
}

func (s *FileStore) shardPath(hexAddr string) string {
	if len(hexAddr) < 2 {
		return filepath.Join(s.baseDir, hexAddr)
	}
	return filepath.Join(s.baseDir, hexAddr[:2], hexAddr)
}

func (s *FileStore) Put(_ context.Context, data []byte, mediaType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(data)
	hexAddr := hex.EncodeToString(sum[:])
	path := s.shardPath(hexAddr)

	if _, err := os.Stat(path); err == nil {
		s.mediaTypes[hexAddr] = mediaType
		return hexAddr, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("artifacts: failed to create shard dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: failed to commit blob: %w", err)
	}

	s.mediaTypes[hexAddr] = mediaType
	return hexAddr, nil
}

func (s *FileStore) Get(_ context.Context, address string) (*contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.readBytes(address)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	recomputed := hex.EncodeToString(sum[:])
	if recomputed != address {
		return nil, &contracts.ArtifactIntegrityError{
			ContentAddress: address,
			Reason:         fmt.Sprintf("stored bytes hash to %s, not %s", recomputed, address),
		}
	}

	return &contracts.Artifact{
		ContentAddress: address,
		SizeBytes:      int64(len(data)),
		MediaType:      s.mediaTypes[address],
		Bytes:          data,
	}, nil
}

func (s *FileStore) Verify(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.readBytes(address)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == address, nil
}

func (s *FileStore) readBytes(address string) ([]byte, error) {
	if _, err := hex.DecodeString(address); err != nil {
		return nil, fmt.Errorf("artifacts: invalid content address %q: %w", address, err)
	}
	path := s.shardPath(address)
	f, err := os.Open(path) //nolint:gosec // address validated as hex above
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
