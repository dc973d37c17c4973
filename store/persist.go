package store

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type persistJob struct {
	contextKey string
	section    string
	payload    []byte
}

// PersistWorker pushes filter-document sections to the remote filter
// API from a buffered queue so callers never block on persistence. A
// failed patch is logged and reported through the failure callback; the
// in-memory state the user already sees is never rolled back.
type PersistWorker struct {
	api       FilterAPI
	logger    *log.Logger
	jobs      chan persistJob
	wg        sync.WaitGroup
	timeout   time.Duration
	handoff   time.Duration
	onFailure func(contextKey, section string, err error)
}

// PersistConfig tunes the worker pool.
type PersistConfig struct {
	Workers   int
	Buffer    int
	Timeout   time.Duration
	Handoff   time.Duration
	OnFailure func(contextKey, section string, err error)
}

// NewPersistWorker starts the pool. Zero config fields get defaults.
func NewPersistWorker(api FilterAPI, logger *log.Logger, cfg PersistConfig) *PersistWorker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Handoff <= 0 {
		cfg.Handoff = 15 * time.Millisecond
	}
	w := &PersistWorker{
		api:       api,
		logger:    logger,
		jobs:      make(chan persistJob, cfg.Buffer),
		timeout:   cfg.Timeout,
		handoff:   cfg.Handoff,
		onFailure: cfg.OnFailure,
	}
	w.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer w.wg.Done()
			w.run()
		}()
	}
	return w
}

func (w *PersistWorker) run() {
	for j := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.api.PatchFilters(ctx, j.contextKey, j.section, j.payload)
		cancel()
		if err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"context": j.contextKey,
				"section": j.section,
			}).Warn("filter persistence failed; in-memory state retained")
			if w.onFailure != nil {
				w.onFailure(j.contextKey, j.section, err)
			}
		}
	}
}

// Enqueue hands a persistence job to the pool. It first tries a
// non-blocking send, then waits up to the handoff window before giving
// up. It reports whether the job was accepted.
func (w *PersistWorker) Enqueue(contextKey, section string, payload []byte) bool {
	job := persistJob{contextKey: contextKey, section: section, payload: payload}
	if ok, closed := trySendNonBlocking(w.jobs, job); closed {
		return false
	} else if ok {
		return true
	}
	if w.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(w.handoff)
	defer timer.Stop()
	ok, _ := sendWithTimer(w.jobs, job, timer.C)
	return ok
}

// Close stops the pool after draining queued jobs.
func (w *PersistWorker) Close() {
	defer func() { _ = recover() }() // tolerate double close
	close(w.jobs)
	w.wg.Wait()
}

func trySendNonBlocking(ch chan persistJob, job persistJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()
	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan persistJob, job persistJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()
	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
