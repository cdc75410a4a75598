// Package atomicfile replaces files through a temporary
// sibling and a rename, so readers never observe a partial write.
package atomicfile

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// WriteFile writes data to a temporary file in the directory of
// filename and renames it over filename. The directory is created
// if missing. If filename exists its permissions are preserved,
// otherwise perm is used.
func WriteFile(filename string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(filename)

	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Annotatef(err, "cannot create directory %s", dir)
	}

	if st, statErr := os.Stat(filename); statErr == nil {
		perm = st.Mode().Perm()
	}

	f, err := ioutil.TempFile(dir, "."+filepath.Base(filename)+".tmp")
	if err != nil {
		return errors.Trace(err)
	}

	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return errors.Trace(err)
	}

	if err = f.Sync(); err != nil {
		return errors.Trace(err)
	}

	if err = f.Chmod(perm); err != nil {
		return errors.Trace(err)
	}

	if err = f.Close(); err != nil {
		return errors.Trace(err)
	}

	if err = os.Rename(f.Name(), filename); err != nil {
		return errors.Annotatef(err, "cannot replace %s", filename)
	}

	return nil
}
