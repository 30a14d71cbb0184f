package cryptoprim

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// PredicateAction is the verdict an IgnorePredicate returns for one
// relative path under a directory walk.
type PredicateAction int

const (
	// Include folds the file's relative path and content into the hash.
	Include PredicateAction = iota
	// Skip omits the file entirely, as if it were not present.
	Skip
	// Poison folds a fresh random value into the hash instead of the
	// file's real content. Use this for an expected-but-unverifiable
	// file (for example a boot parameter file whose legitimate content
	// varies by install): returning Skip there would let an attacker
	// swap in arbitrary content unnoticed, while Poison guarantees the
	// computed hash can never match again, surfacing tampering as a
	// hard integrity failure rather than silently passing.
	Poison
)

// IgnorePredicate classifies one path during ComputeDirectoryHash.
type IgnorePredicate func(root, rel string) (PredicateAction, error)

// IncludeAll is the zero-value predicate: every regular file is hashed.
func IncludeAll(root, rel string) (PredicateAction, error) { return Include, nil }

// ComputeDirectoryHash walks root depth-first and folds every regular
// file's relative path and content into a chained hash, in lexicographic
// order of the relative path so the result is independent of filesystem
// iteration order. pred classifies each path; a nil pred is equivalent to
// IncludeAll.
func ComputeDirectoryHash(root string, pred IgnorePredicate) ([]byte, error) {
	if pred == nil {
		pred = IncludeAll
	}

	var rels []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
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
		return nil, fmt.Errorf("compute directory hash: walk %s: %w", root, err)
	}
	sort.Strings(rels)

	hash := make([]byte, 32)
	for _, rel := range rels {
		action, err := pred(root, rel)
		if err != nil {
			return nil, fmt.Errorf("compute directory hash: predicate %s: %w", rel, err)
		}
		switch action {
		case Skip:
			continue
		case Poison:
			poison := make([]byte, 32)
			if _, err := rand.Read(poison); err != nil {
				return nil, err
			}
			hash = ChainHash(hash, []byte(rel))
			hash = ChainHash(hash, poison)
		default:
			content, err := readFileHash(filepath.Join(root, rel))
			if err != nil {
				return nil, fmt.Errorf("compute directory hash: read %s: %w", rel, err)
			}
			hash = ChainHash(hash, []byte(rel))
			hash = ChainHash(hash, content)
		}
	}
	return hash, nil
}

func readFileHash(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Hash(data), nil
}
