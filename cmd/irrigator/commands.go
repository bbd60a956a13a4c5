package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/irrigator/internal/logic"
	"github.com/sweeney/irrigator/internal/status"
	"github.com/sweeney/irrigator/internal/store"
)

// errProblems is returned by check when any event file needs attention.
var errProblems = errors.New("event files have problems")

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return listEvents(cmd.OutOrStdout(), store.NewDir(cfg.Schedule.Dir))
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return checkEvents(cmd.OutOrStdout(), store.NewDir(cfg.Schedule.Dir), len(cfg.GPIO.Pins))
}

func runNew(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, err := newRecord(newValve, newStart, newDuration, newInterval, newPause, newDays, newParallel, newEnable)
	if err != nil {
		return err
	}
	if rec.Relay >= len(cfg.GPIO.Pins) {
		return fmt.Errorf("valve %d: only %d valves configured", rec.Relay, len(cfg.GPIO.Pins))
	}
	id, err := createEvent(store.NewDir(cfg.Schedule.Dir), rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func setScheduled(cmd *cobra.Command, id string, on bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeScheduled(store.NewDir(cfg.Schedule.Dir), logic.EventID(id), on)
}

// listEvents prints one row per event file.
func listEvents(w io.Writer, dir *store.Dir) error {
	loaded, errs := dir.LoadAll()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVALVE\tSTART\tDAYS\tDURATION\tSLICE\tSOAK\tSCHEDULED")
	for _, l := range loaded {
		e := l.Event
		slice, soak := "-", "-"
		if e.IntervalActive() && e.IntervalLen() > 0 {
			slice, soak = e.IntervalLen().String(), e.IntervalPause().String()
		}
		valve := strconv.Itoa(e.Valve())
		if e.Parallel() {
			valve += "*"
		}
		h, m := e.StartTime()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
			e.ID(), valve, status.StartLabel(h, m), e.Days(), e.Duration(), slice, soak, l.Scheduled)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, err := range errs {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return nil
}

// checkEvents reports every problem in the event files and returns
// errProblems if there was any.
func checkEvents(w io.Writer, dir *store.Dir, valves int) error {
	ids, err := dir.IDs()
	if err != nil {
		return err
	}
	bad := 0
	for _, id := range ids {
		l, err := dir.Load(id)
		var problems []string
		if err != nil {
			problems = append(problems, err.Error())
		} else if l.Event.Valve() >= valves {
			problems = append(problems, fmt.Sprintf("relay_number=%d: only %d valves configured", l.Event.Valve(), valves))
		}
		for _, line := range l.Report.Malformed {
			problems = append(problems, fmt.Sprintf("line %d: malformed", line))
		}
		for _, key := range l.Report.Unknown {
			problems = append(problems, fmt.Sprintf("unknown key %q", key))
		}
		if err == nil && l.Scheduled && !l.Event.Days().Any() {
			problems = append(problems, "scheduled but no start days set")
		}

		if len(problems) == 0 {
			fmt.Fprintf(w, "%s: ok\n", id)
			continue
		}
		bad++
		for _, p := range problems {
			fmt.Fprintf(w, "%s: %s\n", id, p)
		}
	}
	fmt.Fprintf(w, "%d events, %d with problems\n", len(ids), bad)
	if bad > 0 {
		return errProblems
	}
	return nil
}

// newRecord builds a record from the new command's flags and validates it
// through the event setters.
func newRecord(valve int, start string, duration, interval, pause time.Duration, days string, parallel, enable bool) (store.Record, error) {
	rec := store.DefaultRecord()
	hh, mm, ok := strings.Cut(start, ":")
	if !ok {
		return rec, fmt.Errorf("start %q: want HH:MM", start)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil {
		return rec, fmt.Errorf("start %q: want HH:MM", start)
	}
	mask, err := logic.ParseWeekdays(days)
	if err != nil {
		return rec, err
	}

	rec.Relay = valve
	rec.StartHour, rec.StartMinute = h, m
	rec.Duration = duration.Truncate(time.Second)
	rec.IntervalLen = interval.Truncate(time.Second)
	rec.IntervalPause = pause.Truncate(time.Second)
	rec.Days = mask
	rec.Parallel = parallel
	rec.Scheduled = enable

	if _, err := store.NewEvent("new", rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func createEvent(dir *store.Dir, rec store.Record) (logic.EventID, error) {
	id := store.NewID()
	if err := dir.SaveRecord(id, rec); err != nil {
		return "", err
	}
	return id, nil
}

// writeScheduled rewrites event_scheduled in place. A running daemon picks
// the change up through its watcher.
func writeScheduled(dir *store.Dir, id logic.EventID, on bool) error {
	rec, _, err := dir.LoadRecord(id)
	if err != nil {
		return err
	}
	rec.Scheduled = on
	return dir.SaveRecord(id, rec)
}
