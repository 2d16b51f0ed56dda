package logging

import (
	"fmt"
	"sync"
	"time"
)

// ActivityLevel is the severity shown in the activity log
type ActivityLevel string

const (
	ActivityInfo    ActivityLevel = "INFO"
	ActivitySuccess ActivityLevel = "SUCCESS"
	ActivityWarn    ActivityLevel = "WARN"
	ActivityError   ActivityLevel = "ERROR"
)

const DefaultActivitySize = 200

type Activity struct {
	Time    time.Time
	Level   ActivityLevel
	Message string
}

func (x Activity) String() string {
	return fmt.Sprintf("%s [%s] %s", x.Time.Format("15:04:05"), x.Level, x.Message)
}

// Recorder keeps the latest user facing activities, newest first. A nil
// Recorder discards everything.
type Recorder struct {
	mu      sync.Mutex
	size    int
	entries []Activity
	now     func() time.Time
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultActivitySize
	}
	return &Recorder{size: size, now: time.Now}
}

func (x *Recorder) add(level ActivityLevel, format string, args ...any) {
	if x == nil {
		return
	}
	a := Activity{Time: x.now(), Level: level, Message: fmt.Sprintf(format, args...)}

	x.mu.Lock()
	defer x.mu.Unlock()
	entries := make([]Activity, 0, min(len(x.entries)+1, x.size))
	entries = append(entries, a)
	for _, e := range x.entries {
		if len(entries) == x.size {
			break
		}
		entries = append(entries, e)
	}
	x.entries = entries
}

func (x *Recorder) Info(format string, args ...any)    { x.add(ActivityInfo, format, args...) }
func (x *Recorder) Success(format string, args ...any) { x.add(ActivitySuccess, format, args...) }
func (x *Recorder) Warn(format string, args ...any)    { x.add(ActivityWarn, format, args...) }
func (x *Recorder) Error(format string, args ...any)   { x.add(ActivityError, format, args...) }

// Entries returns a snapshot, newest first
func (x *Recorder) Entries() []Activity {
	if x == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]Activity(nil), x.entries...)
}

func (x *Recorder) Clear() {
	if x == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = nil
}
