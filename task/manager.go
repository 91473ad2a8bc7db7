package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/lithammer/shortuuid/v4"

	"ytdlapi/config"
	"ytdlapi/fetch"
)

// ErrQueueFull is returned by Submit when no more work can be admitted.
var ErrQueueFull = errors.New("download queue is full")

// Downloader runs a single download. *fetch.Service is the production
// implementation.
type Downloader interface {
	Download(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

type job struct {
	id      string
	payload Payload
}

type Manager struct {
	cfg            *config.Config
	registry       *Registry
	sweeper        *Sweeper
	taskQueue      chan job
	concurrencySem chan struct{}
	downloader     Downloader
	inflightMu     sync.Mutex
	inflight       sync.WaitGroup
	draining       bool
	newID          func() string
}

func NewManager(cfg *config.Config, downloader Downloader) (*Manager, error) {
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max concurrency must be at least 1, got %d", cfg.MaxConcurrency)
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("queue size must be at least 1, got %d", cfg.QueueSize)
	}
	registry := NewRegistry()
	m := &Manager{
		cfg:            cfg,
		registry:       registry,
		sweeper:        NewSweeper(registry, cfg.RetentionWindow(), cfg.SweepInterval(), log.Default()),
		taskQueue:      make(chan job, cfg.QueueSize),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		downloader:     downloader,
		newID:          shortuuid.New,
	}
	return m, nil
}

// Start launches the worker loop and the retention sweeper. Downloads that
// already started are not interrupted when ctx ends; use Wait to drain them.
func (m *Manager) Start(ctx context.Context) {
	log.Printf("Task manager started. Concurrency limit: %d, queue size: %d", m.cfg.MaxConcurrency, m.cfg.QueueSize)
	m.sweeper.Start(ctx)
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker loop shutting down.")
			return
		case j := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				log.Printf("Task %s left queued at shutdown.", j.id)
				return
			}
			if !m.track() {
				<-m.concurrencySem
				log.Printf("Task %s left queued at shutdown.", j.id)
				return
			}
			go func(j job) {
				defer func() {
					<-m.concurrencySem
					m.inflight.Done()
				}()
				m.processTask(context.WithoutCancel(ctx), j)
			}(j)
		}
	}
}

// processTask drives one task from in_progress to a terminal status.
func (m *Manager) processTask(ctx context.Context, j job) {
	log.Printf("Processing task %s (%d video(s))", j.id, j.payload.Size())
	m.update(j.id, func(t *Task) { t.Status = StatusInProgress })

	if j.payload.IsBatch() {
		batch := m.runBatch(ctx, j.id, j.payload.Videos)
		m.update(j.id, func(t *Task) {
			t.Status = StatusCompleted
			t.Batch = batch
		})
		log.Printf("Task %s finished batch: %d completed, %d failed.", j.id, batch.Summary.Completed, batch.Summary.Failed)
		return
	}

	res, err := m.download(ctx, j.payload.Video)
	if err != nil {
		log.Printf("Task %s failed: %v", j.id, err)
		m.update(j.id, func(t *Task) {
			t.Status = StatusFailed
			t.Error = err.Error()
		})
		return
	}
	log.Printf("Task %s completed successfully: %s", j.id, res.SavePath)
	m.update(j.id, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = res
	})
}

// runBatch downloads items one after another. A failed item is recorded
// and the rest still run.
func (m *Manager) runBatch(ctx context.Context, id string, videos []fetch.Request) *BatchResult {
	batch := &BatchResult{
		Items:   make([]BatchItem, 0, len(videos)),
		Summary: BatchSummary{Total: len(videos)},
	}
	for i, req := range videos {
		res, err := m.download(ctx, req)
		if err != nil {
			log.Printf("Task %s item %d failed: %v", id, i, err)
			batch.Items = append(batch.Items, BatchItem{Index: i, Status: StatusFailed, Error: err.Error()})
			batch.Summary.Failed++
			continue
		}
		batch.Items = append(batch.Items, BatchItem{Index: i, Status: StatusCompleted, Result: res})
		batch.Summary.Completed++
	}
	return batch
}

// download calls the downloader and turns a panic into an error.
func (m *Manager) download(ctx context.Context, req fetch.Request) (res *fetch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("unexpected failure while downloading: %v", r)
		}
	}()
	res, err = m.downloader.Download(ctx, req)
	if err == nil && res == nil {
		err = errors.New("download finished without a result")
	}
	return res, err
}

func (m *Manager) update(id string, mutate func(*Task)) {
	if err := m.registry.Update(id, mutate); err != nil {
		log.Printf("Task %s could not be updated: %v", id, err)
	}
}

// Submit records a queued task and hands it to the worker loop. When the
// queue is full the record is dropped again and ErrQueueFull is returned.
func (m *Manager) Submit(payload Payload) (Task, error) {
	if payload.IsBatch() && len(payload.Videos) == 0 {
		return Task{}, errors.New("batch must contain at least one video")
	}
	t, err := m.registry.Create(m.newID())
	if err != nil {
		return Task{}, err
	}

	select {
	case m.taskQueue <- job{id: t.ID, payload: payload}:
		log.Printf("Task %s submitted to queue.", t.ID)
		return t, nil
	default:
		m.registry.Evict(t.ID)
		log.Printf("Task %s rejected: queue full.", t.ID)
		return Task{}, ErrQueueFull
	}
}

func (m *Manager) Get(taskID string) (Task, error) {
	return m.registry.Get(taskID)
}

func (m *Manager) Counts() Counts {
	return m.registry.Counts()
}

// track registers a download about to start. It refuses once Wait has been
// called.
func (m *Manager) track() bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	if m.draining {
		return false
	}
	m.inflight.Add(1)
	return true
}

// Wait stops new downloads from starting and blocks until every started
// download has finished or ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	m.inflightMu.Lock()
	m.draining = true
	m.inflightMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
