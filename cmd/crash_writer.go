package cmd

import (
	"os"
)

// CrashWriter appends every Write to the named file, opening and closing it
// each time so a panic mid-write can't leave the fd dangling. Installed by
// Execute as the sink a recovered panic's stack trace is dumped to.
type CrashWriter struct {
	fileName string
}

func (w *CrashWriter) Write(p []byte) (n int, err error) {
	f, err := os.OpenFile(w.fileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	n, err = f.Write(p)

	return
}
