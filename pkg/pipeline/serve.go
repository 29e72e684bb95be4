package pipeline

import (
	"io"
	"net/http"
	"os"
	"strconv"
)

// WriteOutput serves the document at path with conditional-GET support.
//
// Every response carries Content-Type, Last-Modified (the file's mtime) and
// Cache-Control: max-age=0. A request whose If-Modified-Since is at or after
// the mtime, at one-second resolution, gets 304 with no body. It returns an
// error, without writing anything, when the file cannot be opened.
func WriteOutput(w http.ResponseWriter, r *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	modified := info.ModTime().UTC()

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Last-Modified", modified.Format(http.TimeFormat))
	h.Set("Cache-Control", "max-age=0")

	if notModified(r, modified.Unix()) {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.Copy(w, f)
	return err
}

func notModified(r *http.Request, modUnix int64) bool {
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	since, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return since.Unix() >= modUnix
}
