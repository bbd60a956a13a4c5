package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sweeney/irrigator/internal/logic"
)

// Ext is the file extension of event records.
const Ext = ".evt"

// ErrNotFound is returned when an event file does not exist.
var ErrNotFound = errors.New("event not found")

// Loaded is an event read from disk together with its persisted schedule
// request.
type Loaded struct {
	Event     *logic.Event
	Scheduled bool
	Report    Report
}

// Dir stores one record file per event in a directory.
type Dir struct {
	path string
}

// NewDir returns a Dir rooted at path. The directory is not created.
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// NewID returns a fresh random event id.
func NewID() logic.EventID {
	return logic.EventID(uuid.NewString())
}

// IDFromPath returns the event id for a record file path.
func IDFromPath(path string) (logic.EventID, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) || strings.HasPrefix(base, ".") {
		return "", false
	}
	id := strings.TrimSuffix(base, Ext)
	if id == "" {
		return "", false
	}
	return logic.EventID(id), true
}

func (d *Dir) file(id logic.EventID) string {
	return filepath.Join(d.path, string(id)+Ext)
}

// IDs lists the stored event ids in lexical order.
func (d *Dir) IDs() ([]logic.EventID, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read schedule dir: %w", err)
	}
	var ids []logic.EventID
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if id, ok := IDFromPath(ent.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// LoadRecord reads the raw record of one event.
func (d *Dir) LoadRecord(id logic.EventID) (Record, Report, error) {
	f, err := os.Open(d.file(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRecord(), Report{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		return DefaultRecord(), Report{}, fmt.Errorf("open event %s: %w", id, err)
	}
	defer f.Close()

	rec, rep, err := Decode(f)
	if err != nil {
		return rec, rep, fmt.Errorf("event %s: %w", id, err)
	}
	return rec, rep, nil
}

// Load reads one event. On a range error the returned Loaded carries the
// default event and the error is non-nil.
func (d *Dir) Load(id logic.EventID) (Loaded, error) {
	rec, rep, err := d.LoadRecord(id)
	if err != nil {
		return Loaded{Event: logic.NewEvent(id), Report: rep}, err
	}
	e, err := NewEvent(id, rec)
	if err != nil {
		return Loaded{Event: e, Report: rep}, err
	}
	return Loaded{Event: e, Scheduled: rec.Scheduled, Report: rep}, nil
}

// LoadAll reads every event in the directory. Events that fail to load are
// left out and their errors collected; the rest are still returned.
func (d *Dir) LoadAll() ([]Loaded, []error) {
	ids, err := d.IDs()
	if err != nil {
		return nil, []error{err}
	}
	var out []Loaded
	var errs []error
	for _, id := range ids {
		l, err := d.Load(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, l)
	}
	return out, errs
}

// Save writes the configuration of e. The file is replaced atomically.
func (d *Dir) Save(e *logic.Event) error {
	return d.SaveRecord(e.ID(), FromEvent(e))
}

// SaveRecord writes rec under id.
func (d *Dir) SaveRecord(id logic.EventID, rec Record) error {
	tmp, err := os.CreateTemp(d.path, "."+string(id)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("save event %s: %w", id, err)
	}
	if err := Encode(tmp, rec); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save event %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save event %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), d.file(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save event %s: %w", id, err)
	}
	return nil
}

// Delete removes the event file.
func (d *Dir) Delete(id logic.EventID) error {
	if err := os.Remove(d.file(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}
