package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/checkin/core"
	"github.com/trezcool/checkin/storage/kvstore"
)

// Validator returns a validator with the app's translations and custom tags.
func Validator() *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	return validate
}

// PrepareKV opens a migrated sqlite store in a temp dir; it is closed with the test.
func PrepareKV(t *testing.T) *kvstore.Store {
	t.Helper()
	db, err := kvstore.Open(filepath.Join(t.TempDir(), "checkin_test.db"))
	if err != nil {
		t.Fatalf("kvstore.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := kvstore.Migrate(db); err != nil {
		t.Fatalf("kvstore.Migrate() failed: %v", err)
	}
	return kvstore.NewStore(db)
}

// Entry is one logged message.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger is a core.Logger keeping every entry in memory.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{}) { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{}) { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("fatal", msg, args)
	panic(fmt.Sprintf("fatal: %s", msg))
}

// Entries returns the entries logged at level ("" for all).
func (l *Logger) Entries(level string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Timers is a manual time.AfterFunc: callbacks only run on Fire.
type Timers struct {
	mu      sync.Mutex
	pending []*Timer
}

type Timer struct {
	Delay   time.Duration
	fn      func()
	owner   *Timers
	stopped bool
	fired   bool
}

func (t *Timer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// AfterFunc registers fn to run when Fire is called.
func (ts *Timers) AfterFunc(d time.Duration, fn func()) *Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &Timer{Delay: d, fn: fn, owner: ts}
	ts.pending = append(ts.pending, t)
	return t
}

// Pending returns the timers that neither fired nor were stopped.
func (ts *Timers) Pending() []*Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []*Timer
	for _, t := range ts.pending {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Fire runs every pending timer and returns how many ran.
func (ts *Timers) Fire() int {
	var n int
	for _, t := range ts.Pending() {
		ts.mu.Lock()
		if t.stopped || t.fired {
			ts.mu.Unlock()
			continue
		}
		t.fired = true
		ts.mu.Unlock()
		t.fn()
		n++
	}
	return n
}
