// Package archive packs build folders into zip archives
// suitable for GameLift builds and lambda functions.
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// TempPath returns an unused path of a zip archive in dir.
// If dir is empty, os.TempDir() is used.
func TempPath(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, uuid.New().String()+".zip")
}

// Zip writes the content of folder src into a new archive
// at dst. Entry names are relative to src and use slashes.
func Zip(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Annotatef(err, "cannot read folder '%s'", src)
	}
	if !info.IsDir() {
		return errors.Errorf("'%s' is not a folder", src)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Annotatef(err, "cannot create archive")
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()
	defer f.Close()

	w := zip.NewWriter(f)

	err = filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			header.Name += "/"
			_, err = w.CreateHeader(header)
			return err
		}
		if !fi.Mode().IsRegular() {
			log.Debugf("skipping non-regular file %s", path)
			return nil
		}
		header.Method = zip.Deflate
		entry, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		return copyFile(entry, path)
	})
	if err != nil {
		w.Close()
		return errors.Annotatef(err, "cannot archive folder '%s'", src)
	}
	if err = w.Close(); err != nil {
		return errors.Annotatef(err, "cannot finalize archive")
	}
	return errors.Trace(f.Sync())
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
