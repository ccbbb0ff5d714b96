// Package session holds the observable state of one model session and drives
// download, delete and list operations against the distribution service.
//
// Every operation resets the outcome fields before its service call is issued.
// A newer operation supersedes any older one still in flight: callbacks that
// belong to a superseded operation are dropped, so observers only ever see the
// state of the most recently started operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"

	"mldownloader/internal/distribution"
	"mldownloader/internal/inference"
	"mldownloader/internal/logging"
	"mldownloader/internal/metrics"
)

var (
	// ErrSuperseded is the result of an operation overtaken by a newer one.
	ErrSuperseded = errors.New("session: operation superseded")
	// ErrNoModels is the result of a list operation that found nothing.
	ErrNoModels = errors.New("session: no models found on device")
)

// State is the observable session record.
type State struct {
	ModelName        string
	DownloadProgress float32
	FilePath         string
	ErrorMessage     string
	HasError         bool
	IsDownloaded     bool
	IsDeleted        bool
	ModelNames       []string
}

func (s State) clone() State {
	if s.ModelNames != nil {
		s.ModelNames = append([]string(nil), s.ModelNames...)
	}
	return s
}

// Diagnostics are best-effort results gathered after a successful download.
// They never affect HasError or ErrorMessage.
type Diagnostics struct {
	FileSize     int64
	FileErr      error
	Output       []float32
	InferenceErr error
}

type Options struct {
	// Loader opens downloaded artifacts for the post-download inference run.
	Loader inference.Loader
	// SampleInput is the file copied into input slot 0. Empty skips inference.
	SampleInput string
	Log         *logging.Logger
	Metrics     *metrics.Manager
}

type Controller struct {
	svc    distribution.Service
	load   inference.Loader
	sample string
	log    *logging.Logger
	m      *metrics.Manager

	// publishMu serialises mutate-and-notify so observers see snapshots in order.
	// It is always taken before mu.
	publishMu sync.Mutex

	mu      sync.Mutex
	st      State
	diag    Diagnostics
	gen     uint64
	subs    map[int]func(State)
	nextSub int
}

func New(svc distribution.Service, opts Options) *Controller {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Controller{
		svc:    svc,
		load:   opts.Loader,
		sample: opts.SampleInput,
		log:    log,
		m:      opts.Metrics,
		subs:   map[int]func(State){},
	}
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not start new
// operations synchronously. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.clone()
}

// Diagnostics returns the diagnostics of the latest successful download.
func (c *Controller) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.diag
	d.Output = append([]float32(nil), d.Output...)
	return d
}

// resetState clears every outcome field. The model name is kept. Caller holds mu.
func (c *Controller) resetState() {
	c.st.IsDownloaded = false
	c.st.IsDeleted = false
	c.st.DownloadProgress = 0
	c.st.FilePath = ""
	c.st.ErrorMessage = ""
	c.st.HasError = false
	c.st.ModelNames = nil
	c.diag = Diagnostics{}
}

// begin starts a new generation: it resets state, applies fn and publishes.
func (c *Controller) begin(fn func(*State)) uint64 {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.resetState()
	if fn != nil {
		fn(&c.st)
	}
	snap, subs := c.st.clone(), c.subscribers()
	c.mu.Unlock()
	notify(subs, snap)
	return gen
}

// update applies fn if gen is still current and publishes the result.
func (c *Controller) update(gen uint64, fn func(*State)) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	fn(&c.st)
	snap, subs := c.st.clone(), c.subscribers()
	c.mu.Unlock()
	notify(subs, snap)
	return true
}

func (c *Controller) subscribers() []func(State) {
	out := make([]func(State), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(subs []func(State), snap State) {
	for _, fn := range subs {
		fn(snap.clone())
	}
}

// Download fetches name with the given policy. On success the artifact is
// checked on disk and run once through the inference engine; problems there
// are logged and recorded in Diagnostics only.
func (c *Controller) Download(ctx context.Context, name string, policy distribution.DownloadType) *Operation {
	gen := c.begin(func(s *State) { s.ModelName = name })
	op := newOperation()
	c.log.Debugf("session[%s]: download %q policy=%s", op.id, name, policy)
	go func() {
		defer close(op.done)
		mdl, err := c.svc.GetModel(ctx, name, policy, func(f float32) {
			c.update(gen, func(s *State) { s.DownloadProgress = f })
		})
		if err != nil {
			op.err = err
			c.log.Warnf("session[%s]: download %q failed: %v", op.id, name, err)
			if !c.update(gen, func(s *State) {
				s.IsDownloaded = false
				s.HasError = true
				s.ErrorMessage = fmt.Sprintf("Model download failed with error: %v", err)
			}) {
				op.err = ErrSuperseded
			}
			return
		}
		if !c.update(gen, func(s *State) {
			s.IsDownloaded = true
			s.FilePath = mdl.Path
		}) {
			op.err = ErrSuperseded
			return
		}
		op.diag = c.diagnose(gen, op.id, mdl.Path)
	}()
	return op
}

func (c *Controller) diagnose(gen uint64, id, path string) Diagnostics {
	var d Diagnostics
	if fi, err := os.Stat(path); err != nil {
		d.FileErr = err
		c.log.Warnf("session[%s]: file access error - %v", id, err)
	} else {
		d.FileSize = fi.Size()
		c.log.Infof("session[%s]: file size: %s", id, humanize.Bytes(uint64(fi.Size())))
	}
	if c.load != nil && c.sample != "" {
		input, err := inference.LoadSample(c.sample)
		if err == nil {
			d.Output, err = inference.Run(c.load, path, input)
		}
		if err != nil {
			d.InferenceErr = err
			c.log.Warnf("session[%s]: inference error - %v", id, err)
		} else {
			c.log.Infof("session[%s]: inference output: %v", id, d.Output)
		}
		c.m.ObserveInference(err == nil)
		if err := c.m.Write(); err != nil {
			c.log.Debugf("metrics: %v", err)
		}
	}
	c.mu.Lock()
	if gen == c.gen {
		c.diag = d
	}
	c.mu.Unlock()
	return d
}

// Delete removes the local copy of name.
func (c *Controller) Delete(ctx context.Context, name string) *Operation {
	gen := c.begin(func(s *State) { s.ModelName = name })
	op := newOperation()
	go func() {
		defer close(op.done)
		err := c.svc.DeleteModel(ctx, name)
		op.err = err
		if err != nil {
			c.log.Warnf("session[%s]: delete %q failed: %v", op.id, name, err)
		}
		ok := c.update(gen, func(s *State) {
			if err != nil {
				s.IsDeleted = false
				s.HasError = true
				s.ErrorMessage = fmt.Sprintf("Model deletion failed with error: %v", err)
				return
			}
			s.IsDeleted = true
			s.IsDownloaded = false
			s.FilePath = ""
		})
		if !ok {
			op.err = ErrSuperseded
		}
	}()
	return op
}

// List fills ModelNames with the models on device, in service order.
// An empty result is reported as an error.
func (c *Controller) List(ctx context.Context) *Operation {
	gen := c.begin(nil)
	op := newOperation()
	go func() {
		defer close(op.done)
		models, err := c.svc.ListModels(ctx)
		switch {
		case err != nil:
			op.err = err
		case len(models) == 0:
			op.err = ErrNoModels
		}
		ok := c.update(gen, func(s *State) {
			switch {
			case err != nil:
				s.HasError = true
				s.ErrorMessage = fmt.Sprintf("Listing models failed with error: %v", err)
			case len(models) == 0:
				s.HasError = true
				s.ErrorMessage = "No models found on device."
			default:
				names := make([]string, 0, len(models))
				for _, m := range models {
					names = append(names, m.Name)
				}
				s.ModelNames = names
			}
		})
		if !ok {
			op.err = ErrSuperseded
		}
	}()
	return op
}
