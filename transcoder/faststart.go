package transcoder

import (
	"bytes"
	"os"
)

// hasFaststart reports whether the container's index metadata sits at the
// file head, i.e. a "moov" box appears before any "mdat" in the first KiB.
// This is a cheap header scan, not a parse; it can be wrong on unusual
// layouts, so callers may only use it to skip work, never to decide
// correctness.
func hasFaststart(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if n <= 0 && err != nil {
		return false
	}
	buf = buf[:n]

	moov := bytes.Index(buf, []byte("moov"))
	if moov < 0 {
		return false
	}
	mdat := bytes.Index(buf, []byte("mdat"))
	return mdat < 0 || moov < mdat
}
