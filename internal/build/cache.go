package build

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// Returns the cache key of a platform's base image.
func baseKey(platform string, base digest.Digest) digest.Digest {
	return chainKey("", "base", platform, base.String())
}

// Derives a child cache key from a parent key and the fields describing a
// step.
//
// Fields are length-prefixed so that no two field lists share an encoding.
func chainKey(parent digest.Digest, fields ...string) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()

	writeField(h, parent.String())
	for _, f := range fields {
		writeField(h, f)
	}
	return d.Digest()
}

func writeField(w io.Writer, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	w.Write(n[:])
	io.WriteString(w, s)
}

// Returns the image name a cached layer is committed under.
func cacheImage(prefix string, key digest.Digest) string {
	return fmt.Sprintf("%s/%s:latest", prefix, key.Encoded())
}
