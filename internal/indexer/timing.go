package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimingEnv names the environment variable that enables timing output.
const TimingEnv = "KDTS_TIMING_JSONL"

// Timing event kinds. A stage covers one pipeline step; an override event
// covers linting one override file; a context event covers parsing one
// devicetree context.
const (
	timingStage    = "stage"
	timingOverride = "override"
	timingContext  = "context"
)

// timingEvent is one line of the timing JSONL file. Offsets are
// milliseconds since the pipeline started.
type timingEvent struct {
	Kind    string  `json:"kind"`
	Stage   string  `json:"stage"`
	Subject string  `json:"subject,omitempty"`
	Status  string  `json:"status,omitempty"`
	Files   int     `json:"files,omitempty"`
	Nodes   int     `json:"nodes,omitempty"`
	Diags   int     `json:"diagnostics,omitempty"`
	AtMS    float64 `json:"at_ms"`
	TookMS  float64 `json:"took_ms"`
}

// timingRecorder streams timing events to a JSONL file. A nil or disabled
// recorder drops everything.
type timingRecorder struct {
	origin time.Time
	mu     sync.Mutex
	out    *os.File
	enc    *json.Encoder
	err    error
}

func newTimingRecorder(origin time.Time, path string) *timingRecorder {
	tr := &timingRecorder{origin: origin}
	if path == "" {
		return tr
	}
	f, err := os.Create(path)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.out = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Enabled() bool {
	return tr != nil && tr.enc != nil
}

// Err reports why the timing file could not be created.
func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.out == nil {
		return
	}
	_ = tr.out.Close()
}

func (tr *timingRecorder) emit(ev timingEvent, start time.Time) {
	if !tr.Enabled() {
		return
	}
	ev.AtMS = millis(start.Sub(tr.origin))
	ev.TookMS = millis(time.Since(start))
	tr.mu.Lock()
	defer tr.mu.Unlock()
	_ = tr.enc.Encode(ev)
}

// Stage records a pipeline step that began at start.
func (tr *timingRecorder) Stage(name string, start time.Time, status string) {
	tr.emit(timingEvent{Kind: timingStage, Stage: name, Status: status}, start)
}

// Override records the lint of one override file.
func (tr *timingRecorder) Override(uri string, start time.Time, diags int) {
	tr.emit(timingEvent{Kind: timingOverride, Stage: "overrides", Subject: uri, Diags: diags}, start)
}

// Context records the parse of one devicetree context: how many files it
// read, how many nodes it holds and how many diagnostics it produced.
func (tr *timingRecorder) Context(name string, start time.Time, files, nodes, diags int, status string) {
	tr.emit(timingEvent{
		Kind:    timingContext,
		Stage:   "devicetree",
		Subject: name,
		Status:  status,
		Files:   files,
		Nodes:   nodes,
		Diags:   diags,
	}, start)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// resolveTimingPath returns where timing events go, or "" when timing is
// off. The environment variable wins over the indexer settings.
func (idx *Indexer) resolveTimingPath() string {
	if idx == nil {
		return ""
	}
	if envPath := os.Getenv(TimingEnv); envPath != "" {
		return envPath
	}
	if !idx.Timing {
		return ""
	}
	if idx.TimingPath != "" {
		return idx.TimingPath
	}
	root := ""
	if idx.Config != nil {
		root = idx.Config.Root
	}
	return filepath.Join(root, "timing.jsonl")
}
