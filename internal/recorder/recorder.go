// Package recorder keeps a JSONL trace per coupon session so a failed
// checkout can be replayed step by step.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultMaxFiles = 20

// Event is one line of a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

type trace struct {
	file    *os.File
	encoder *json.Encoder
}

// Recorder writes one trace file per session and keeps the newest
// maxFiles of them.
type Recorder struct {
	dir      string
	maxFiles int
	log      zerolog.Logger

	mu     sync.Mutex
	open   map[string]*trace
	closed bool
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string, maxFiles int, log zerolog.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("trace directory is required")
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		dir:      dir,
		maxFiles: maxFiles,
		log:      log.With().Str("component", "recorder").Logger(),
		open:     make(map[string]*trace),
	}, nil
}

// Record appends an event to the session's trace. A session_start event
// opens the file and session_end or session_abandoned closes it.
func (r *Recorder) Record(sessionID, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	t, ok := r.open[sessionID]
	if !ok {
		if event != "session_start" {
			return
		}
		var err error
		if t, err = r.start(sessionID); err != nil {
			r.log.Warn().Err(err).Str("session", sessionID).Msg("starting trace")
			return
		}
		r.open[sessionID] = t
	}

	if err := t.encoder.Encode(Event{Timestamp: time.Now(), Type: event, SessionID: sessionID, Data: data}); err != nil {
		r.log.Warn().Err(err).Str("session", sessionID).Msg("writing trace")
	}

	if event == "session_end" || event == "session_abandoned" {
		_ = t.file.Close()
		delete(r.open, sessionID)
	}
}

func (r *Recorder) start(sessionID string) (*trace, error) {
	if err := r.rotate(); err != nil {
		return nil, fmt.Errorf("rotate traces: %w", err)
	}
	name := fmt.Sprintf("trace_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		return nil, err
	}
	return &trace{file: f, encoder: json.NewEncoder(f)}, nil
}

// rotate removes the oldest finished traces so that, with the new one,
// at most maxFiles remain. Open traces are never removed.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	type traceFile struct {
		name string
		mod  time.Time
	}
	var files []traceFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" || r.isOpen(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, traceFile{e.Name(), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name > files[j].name
		}
		return files[i].mod.After(files[j].mod)
	})

	keep := r.maxFiles - 1 - len(r.open)
	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(files); i++ {
		_ = os.Remove(filepath.Join(r.dir, files[i].name))
	}
	return nil
}

func (r *Recorder) isOpen(name string) bool {
	for id := range r.open {
		if strings.HasPrefix(name, "trace_"+id+"_") {
			return true
		}
	}
	return false
}

// Files lists the trace files, newest first.
func (r *Recorder) Files() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
			out = append(out, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Close finishes every open trace. Later events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for id, t := range r.open {
		if err := t.file.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.open, id)
	}
	r.closed = true
	return first
}
