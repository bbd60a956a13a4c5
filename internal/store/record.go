// Package store persists irrigation events as bracketed key=value text
// records, one file per event.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/irrigator/internal/logic"
)

// Record keys. Matching is case-insensitive.
const (
	KeyRelay          = "relay_number"
	KeyParallel       = "parallel_permission"
	KeyStartDays      = "start_days" // followed by 1..7, 1 = Sunday
	KeyStartHour      = "start_time_hour"
	KeyStartMinute    = "start_time_min"
	KeyDuration       = "duration"
	KeyIntervalLen    = "interval_len"
	KeyIntervalPause  = "interval_pause"
	KeyScheduled      = "event_scheduled"
	KeyIntervalActive = "interval_active"
)

// Record is the persisted configuration of one event.
// Durations are stored as whole seconds.
type Record struct {
	Relay          int
	Parallel       bool
	Days           logic.Weekdays
	StartHour      int
	StartMinute    int
	Duration       time.Duration
	IntervalLen    time.Duration
	IntervalPause  time.Duration
	Scheduled      bool
	IntervalActive bool
}

// DefaultRecord returns the record of a freshly created event.
func DefaultRecord() Record {
	return Record{IntervalActive: true}
}

// Report describes lines Decode could not use.
type Report struct {
	Lines     int
	Malformed []int    // 1-based line numbers
	Unknown   []string // keys, lower-cased
}

// Clean reports whether every line was understood.
func (r Report) Clean() bool {
	return len(r.Malformed) == 0 && len(r.Unknown) == 0
}

// Decode reads a record. Blank lines are skipped, malformed lines and
// unknown keys are reported and ignored. Only read errors are returned.
func Decode(r io.Reader) (Record, Report, error) {
	rec := DefaultRecord()
	var rep Report

	sc := bufio.NewScanner(r)
	sc.Split(scanLines)
	for sc.Scan() {
		rep.Lines++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, val, ok := parseLine(line)
		if !ok {
			rep.Malformed = append(rep.Malformed, rep.Lines)
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			rep.Malformed = append(rep.Malformed, rep.Lines)
			continue
		}
		switch known, valid := rec.set(key, n); {
		case !known:
			rep.Unknown = append(rep.Unknown, key)
		case !valid:
			rep.Malformed = append(rep.Malformed, rep.Lines)
		}
	}
	if err := sc.Err(); err != nil {
		return DefaultRecord(), rep, fmt.Errorf("read record: %w", err)
	}
	return rec, rep, nil
}

// parseLine extracts key and value from "[key=value]". Anything outside the
// brackets is ignored.
func parseLine(line string) (key, val string, ok bool) {
	open := strings.IndexByte(line, '[')
	if open < 0 {
		return "", "", false
	}
	rest := line[open+1:]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return "", "", false
	}
	body := rest[:end]
	eq := strings.IndexByte(body, '=')
	if eq <= 0 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(body[:eq])), strings.TrimSpace(body[eq+1:]), true
}

// maxSeconds is the longest duration in whole seconds a time.Duration holds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

func fromSeconds(n int) (time.Duration, bool) {
	if int64(n) > maxSeconds || int64(n) < -maxSeconds {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// set stores n under key. It reports whether the key is known and whether
// n fits the field; a value that does not fit leaves the field untouched.
func (r *Record) set(key string, n int) (known, valid bool) {
	var d time.Duration
	switch key {
	case KeyDuration, KeyIntervalLen, KeyIntervalPause:
		var ok bool
		if d, ok = fromSeconds(n); !ok {
			return true, false
		}
	}

	switch key {
	case KeyRelay:
		r.Relay = n
	case KeyParallel:
		r.Parallel = n != 0
	case KeyStartHour:
		r.StartHour = n
	case KeyStartMinute:
		r.StartMinute = n
	case KeyDuration:
		r.Duration = d
	case KeyIntervalLen:
		r.IntervalLen = d
	case KeyIntervalPause:
		r.IntervalPause = d
	case KeyScheduled:
		r.Scheduled = n != 0
	case KeyIntervalActive:
		r.IntervalActive = n != 0
	default:
		day, ok := strings.CutPrefix(key, KeyStartDays)
		if !ok || len(day) != 1 || day[0] < '1' || day[0] > '7' {
			return false, false
		}
		r.Days[day[0]-'1'] = n != 0
	}
	return true, true
}

// scanLines splits on CR, LF or CRLF.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				// Need more data to tell CR from CRLF
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Encode writes rec in the persisted line format.
func Encode(w io.Writer, rec Record) error {
	bw := bufio.NewWriter(w)
	put := func(key string, n int) {
		fmt.Fprintf(bw, "[%s=%d]\n", key, n)
	}
	put(KeyRelay, rec.Relay)
	put(KeyParallel, boolInt(rec.Parallel))
	for i, on := range rec.Days {
		put(fmt.Sprintf("%s%d", KeyStartDays, i+1), boolInt(on))
	}
	put(KeyStartHour, rec.StartHour)
	put(KeyStartMinute, rec.StartMinute)
	put(KeyDuration, seconds(rec.Duration))
	put(KeyIntervalLen, seconds(rec.IntervalLen))
	put(KeyIntervalPause, seconds(rec.IntervalPause))
	put(KeyScheduled, boolInt(rec.Scheduled))
	put(KeyIntervalActive, boolInt(rec.IntervalActive))
	return bw.Flush()
}

// NewEvent builds an event with id from rec. The event is always returned
// unscheduled and inactive; rec.Scheduled is left for the caller to apply.
// If any value is out of range the default event is returned along with
// the error.
func NewEvent(id logic.EventID, rec Record) (*logic.Event, error) {
	e := logic.NewEvent(id)
	if err := apply(e, rec); err != nil {
		return logic.NewEvent(id), fmt.Errorf("event %s: %w", id, err)
	}
	return e, nil
}

func apply(e *logic.Event, rec Record) error {
	if err := e.SetRelay(rec.Relay); err != nil {
		return err
	}
	if err := e.SetStartTime(rec.StartHour, rec.StartMinute); err != nil {
		return err
	}
	if err := e.SetDuration(rec.Duration); err != nil {
		return err
	}
	if err := e.SetIntervalLen(rec.IntervalLen); err != nil {
		return err
	}
	if err := e.SetIntervalPause(rec.IntervalPause); err != nil {
		return err
	}
	e.SetStartDays(rec.Days)
	e.SetIntervalActive(rec.IntervalActive)
	e.SetParallel(rec.Parallel)
	return nil
}

// FromEvent captures the configuration of e. Scheduled reflects whether the
// event is currently on the schedule.
func FromEvent(e *logic.Event) Record {
	h, m := e.StartTime()
	return Record{
		Relay:          e.Valve(),
		Parallel:       e.Parallel(),
		Days:           e.Days(),
		StartHour:      h,
		StartMinute:    m,
		Duration:       e.Duration(),
		IntervalLen:    e.IntervalLen(),
		IntervalPause:  e.IntervalPause(),
		Scheduled:      e.State() != logic.Unscheduled,
		IntervalActive: e.IntervalActive(),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
