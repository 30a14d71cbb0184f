package build

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/sealbox/sealbox/internal/archive"
	"github.com/sealbox/sealbox/internal/cryptoprim"
)

// sealTree tars the directory at dir (if it exists and is non-empty),
// zstd-compresses it, then seals it under devicePubKey, writing the result
// to outPath. It is used for both the privdata tree and the live-config
// tree (spec.md §4.G step 3): both must only ever reach the image in sealed
// form, never plaintext. outPath's name carries no hint of the zstd layer
// beneath the encryption (privdata.tar.enc, not privdata.tar.zst.enc) since
// the consumer side (internal/unlock.extractArchive) always decompresses
// after decrypting regardless of the name.
//
// If dir does not exist, sealTree returns (false, nil): the caller decides
// whether an absent tree is an error (a non-empty privdata/ with no device
// public key is).
func sealTree(dir string, devicePubKey []byte, outPath string) (bool, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	empty, err := dirIsEmpty(dir)
	if err != nil {
		return false, err
	}
	if empty {
		return false, nil
	}

	tarData, err := archive.Tar(dir, archive.TarOptions{Dereference: false})
	if err != nil {
		return false, fmt.Errorf("build: seal %s: %w", dir, err)
	}

	compressed, err := zstdCompress(tarData)
	if err != nil {
		return false, fmt.Errorf("build: seal %s: compress: %w", dir, err)
	}

	sealed, err := cryptoprim.AsymEncrypt(devicePubKey, compressed)
	if err != nil {
		return false, fmt.Errorf("build: seal %s: encrypt: %w", dir, err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return false, fmt.Errorf("build: seal %s: mkdir: %w", dir, err)
	}
	if err := os.WriteFile(outPath, sealed, 0o600); err != nil {
		return false, fmt.Errorf("build: seal %s: write %s: %w", dir, outPath, err)
	}
	return true, nil
}

func dirIsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("build: stat %s: %w", dir, err)
	}
	return len(entries) == 0, nil
}

func zstdCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SealArtifacts seals the accumulated privdata/ and live-config/ trees under
// t.FS into <fs>/privdata.tar.enc and <fs>/live-config.tar.enc (spec.md §3/
// §4.G step 3), then removes the plaintext staging directories. It returns
// an error if privdata was staged by any component but no device public key
// was supplied: an unsealed secret must never reach the image.
func SealArtifacts(t *Tree, devicePubKeyFile string) error {
	privRoot := filepath.Join(t.FS, "privdata")
	liveCfgRoot := filepath.Join(t.FS, "live-config")

	var pubKey []byte
	if devicePubKeyFile != "" {
		data, err := os.ReadFile(devicePubKeyFile)
		if err != nil {
			return fmt.Errorf("build: read device public key: %w", err)
		}
		pubKey = data
	}

	if pubKey == nil {
		empty, err := dirIsEmptyOrAbsent(privRoot)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("build: components staged privdata but no device-public-key-file was configured")
		}
	} else {
		sealed, err := sealTree(privRoot, pubKey, filepath.Join(t.FS, "privdata.tar.enc"))
		if err != nil {
			return err
		}
		if sealed {
			if err := os.RemoveAll(privRoot); err != nil {
				return fmt.Errorf("build: remove staged privdata: %w", err)
			}
		}

		sealedLive, err := sealTree(liveCfgRoot, pubKey, filepath.Join(t.FS, "live-config.tar.enc"))
		if err != nil {
			return err
		}
		if sealedLive {
			if err := os.RemoveAll(liveCfgRoot); err != nil {
				return fmt.Errorf("build: remove staged live-config: %w", err)
			}
		}
	}

	return nil
}

func dirIsEmptyOrAbsent(dir string) (bool, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return true, nil
	}
	return dirIsEmpty(dir)
}
