package buildctx

import (
	"archive/tar"
	"io"
	"os"
)

// Writes entries to w as a tar archive.
//
// Names are relative to the image root, so the archive is extracted at "/".
// Ownership is reset to root, as COPY does without --chown.
func WriteTar(w io.Writer, entries []Entry) error {
	tw := tar.NewWriter(w)

	for _, e := range entries {
		if err := writeTarEntry(tw, e); err != nil {
			return err
		}
	}

	return tw.Close()
}

// Writes a single entry header and, for regular files, its contents.
func writeTarEntry(tw *tar.Writer, e Entry) error {
	header, err := tar.FileInfoHeader(e.Info, e.Link)
	if err != nil {
		return err
	}
	header.Name = e.Name
	if e.Info.IsDir() {
		header.Name += "/"
	}
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !e.Info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.CopyN(tw, f, header.Size)
	return err
}
