package cryptoprim

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
)

// Chunk describes one expected byte range of a file, as declared in the
// sealed chunk list shipped alongside a live image.
type Chunk struct {
	File   string `json:"file"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	Hash   string `json:"hash"` // hex sha256 of the expected bytes
}

// ChunkLogEntry records the outcome of verifying one Chunk, for local
// diagnostics only: per the propagation policy none of this detail crosses
// the integrity boundary, only the final fingerprint match/mismatch does.
type ChunkLogEntry struct {
	File    string
	Offset  int64
	Length  int64
	Matches bool
	Err     error
}

// VerifyFilesChunks reads each declared byte range under root and folds the
// hash of its *actual* content into a running chain value, regardless of
// whether it matches the chunk's declared hash. Folding the actual bytes
// (not the expected hash) is what makes the result usable as an integrity
// fingerprint input: tampering with file content changes the fold, so the
// chain only ever reproduces the provisioned fingerprint when every byte
// range is exactly as provisioned. The per-chunk log is informational.
func VerifyFilesChunks(root string, chunks []Chunk) ([]byte, []ChunkLogEntry, error) {
	hash := make([]byte, 32)
	log := make([]ChunkLogEntry, 0, len(chunks))

	for _, c := range chunks {
		entry := ChunkLogEntry{File: c.File, Offset: c.Offset, Length: c.Length}
		data, err := readChunk(root, c)
		if err != nil {
			entry.Err = err
			poison := make([]byte, 32)
			_, _ = rand.Read(poison)
			hash = ChainHash(hash, []byte(c.File))
			hash = ChainHash(hash, poison)
			log = append(log, entry)
			continue
		}
		actual := Hash(data)
		entry.Matches = hex.EncodeToString(actual) == c.Hash
		hash = ChainHash(hash, []byte(c.File))
		hash = ChainHash(hash, actual)
		log = append(log, entry)
	}
	return hash, log, nil
}

// DeclareChunks walks root and returns one whole-file Chunk per regular
// file found, in lexicographic path order: the chunk list provisioned
// alongside an image, later sealed under the device's blob1 public key and
// checked back by VerifyFilesChunks at every unlock.
func DeclareChunks(root string) ([]Chunk, error) {
	var rels []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rels)

	chunks := make([]Chunk, 0, len(rels))
	for _, rel := range rels {
		data, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Chunk{
			File:   rel,
			Offset: 0,
			Length: int64(len(data)),
			Hash:   hex.EncodeToString(Hash(data)),
		})
	}
	return chunks, nil
}

func readChunk(root string, c Chunk) ([]byte, error) {
	f, err := os.Open(filepath.Join(root, c.File))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, c.Length)
	if _, err := f.ReadAt(buf, c.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}
