package buildctx

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// Computes the content digest of a set of entries.
//
// Each entry contributes its destination name, permission and type bits,
// symlink target, and file contents, each length-prefixed so that adjacent
// fields cannot run together. Timestamps and ownership are excluded.
func Digest(entries []Entry) (digest.Digest, error) {
	d := digest.Canonical.Digester()
	h := d.Hash()

	writeUint(h, uint64(len(entries)))
	for _, e := range entries {
		writeField(h, []byte(e.Name))
		writeField(h, []byte(e.Info.Mode().String()))
		writeField(h, []byte(e.Link))

		if !e.Info.Mode().IsRegular() {
			writeUint(h, 0)
			continue
		}
		if err := writeFile(h, e.Path); err != nil {
			return "", fmt.Errorf("%w: %w", ErrContext, err)
		}
	}

	return d.Digest(), nil
}

// Hashes a file's length followed by its bytes.
func writeFile(h hash.Hash, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	writeUint(h, uint64(info.Size()))
	n, err := io.Copy(h, f)
	if err != nil {
		return err
	}
	if n != info.Size() {
		return fmt.Errorf("%s changed while reading", p)
	}
	return nil
}

func writeField(h hash.Hash, b []byte) {
	writeUint(h, uint64(len(b)))
	h.Write(b)
}

func writeUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
