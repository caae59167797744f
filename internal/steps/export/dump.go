// Package export holds the steps that write a subject and its history into a dump
// archive and publish it.
package export

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/osvaldoandrade/reportq/pkg/domain"
)

// DumpFormatVersion is written to metadata.json of every dump.
const DumpFormatVersion = 1

var errNoSubject = errors.New("subject not exported")

// DumpWriter accumulates the entries of one export in a temporary zip file. Close
// removes the file whether or not the dump was published.
type DumpWriter struct {
	file     *os.File
	zw       *zip.Writer
	entries  []string
	finished bool

	Subject      *domain.Subject
	LastAnalysis *domain.Analysis
}

func NewDumpWriter() (*DumpWriter, error) {
	f, err := os.CreateTemp("", "reportq-dump-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	return &DumpWriter{file: f, zw: zip.NewWriter(f)}, nil
}

// WriteJSON adds an indented JSON entry.
func (d *DumpWriter) WriteJSON(name string, v any) error {
	if d.finished {
		return fmt.Errorf("dump already finished, cannot add %s", name)
	}
	w, err := d.zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	d.entries = append(d.entries, name)
	return nil
}

// Entries lists the entry names in write order.
func (d *DumpWriter) Entries() []string {
	return append([]string(nil), d.entries...)
}

// Finish completes the archive and returns a reader over it with its size.
func (d *DumpWriter) Finish() (io.Reader, int64, error) {
	if !d.finished {
		if err := d.zw.Close(); err != nil {
			return nil, 0, fmt.Errorf("finish dump: %w", err)
		}
		d.finished = true
	}
	size, err := d.file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, err
	}
	return io.NewSectionReader(d.file, 0, size), size, nil
}

func (d *DumpWriter) Path() string { return d.file.Name() }

func (d *DumpWriter) Close() error {
	cerr := d.file.Close()
	if err := os.Remove(d.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return cerr
}
