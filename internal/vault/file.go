package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pkt.systems/walletd/internal/fsutil"
)

// WalletFileName is the encrypted vault document inside the data directory.
const WalletFileName = "wallet.json"

func (v *Vault) walletPath() string {
	return filepath.Join(v.dir, WalletFileName)
}

// readDocument loads and structurally validates wallet.json. A missing file
// is reported as fs.ErrNotExist; anything unreadable beyond that is
// ErrCorrupted.
func readDocument(path string) (*fileDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, doc.Version)
	}
	if len(doc.KDF.Salt) == 0 || len(doc.Verify) == 0 {
		return nil, fmt.Errorf("%w: missing header material", ErrCorrupted)
	}
	return &doc, nil
}

func writeFileAtomic(path string, payload []byte, mode os.FileMode) error {
	return fsutil.WriteFileAtomic(path, payload, mode)
}
