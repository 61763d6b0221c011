// Package worker ejecuta las llamadas de impresora encoladas, una a la vez.
package worker

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/adcondev/pos-printer/internal/dispatch"
	"github.com/adcondev/pos-printer/internal/server"
	workererrors "github.com/adcondev/pos-printer/internal/worker/errors"
)

// Config holds worker configuration
type Config struct {
	// CallTimeout bounds each dispatched call; zero means no bound.
	CallTimeout time.Duration
}

// ClientNotifier interface for sending results back to clients
type ClientNotifier interface {
	NotifyClient(conn *websocket.Conn, response server.Response) error
}

// Dispatcher executes a single named call.
type Dispatcher interface {
	Dispatch(ctx context.Context, call dispatch.Call) dispatch.Result
}

// Worker consumes calls from the queue and executes them through the dispatcher
type Worker struct {
	jobQueue      <-chan *server.Job
	dispatcher    Dispatcher
	notifier      ClientNotifier
	config        Config
	stopChan      chan struct{}
	baseCtx       context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	jobsProcessed int64
	jobsFailed    int64
	lastJobTime   time.Time
}

// NewWorker creates a new call worker
func NewWorker(jobQueue <-chan *server.Job, dispatcher Dispatcher, notifier ClientNotifier, config Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		jobQueue:   jobQueue,
		dispatcher: dispatcher,
		notifier:   notifier,
		config:     config,
		stopChan:   make(chan struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Start begins the worker goroutine
func (w *Worker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()

	log.Println("[WORKER] ✅ Call worker started and ready")
}

// Stop gracefully stops the worker; an in-flight call is cancelled.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopChan)
	w.cancel()
	w.wg.Wait()

	stats := w.Stats()
	log.Printf("[WORKER] 🛑 Call worker stopped (processed: %d, failed: %d)", stats.JobsProcessed, stats.JobsFailed)
}

// run is the main worker loop
func (w *Worker) run() {
	defer w.wg.Done()

	log.Println("[WORKER] 👂 Waiting for calls...")

	for {
		select {
		case <-w.stopChan:
			log.Println("[WORKER] 📴 Received stop signal")
			return

		case job, ok := <-w.jobQueue:
			if !ok {
				log.Println("[WORKER] 📴 Job channel closed, exiting")
				return
			}
			w.processJob(job)
		}
	}
}

// processJob handles a single call
func (w *Worker) processJob(job *server.Job) {
	startTime := time.Now()
	log.Printf("[WORKER] 🔄 Processing %s: %s", job.Method, job.ID)

	res := w.execute(job)

	duration := time.Since(startTime)
	failed := res.Err != nil || res.Cause != nil

	// Update statistics
	w.mu.Lock()
	w.lastJobTime = time.Now()
	if failed {
		w.jobsFailed++
	} else {
		w.jobsProcessed++
	}
	w.mu.Unlock()

	if failed {
		log.Printf("[WORKER] ❌ %s %s failed after %v: %v", job.Method, job.ID, duration, failureCause(res))
	} else {
		log.Printf("[WORKER] ✅ %s %s completed in %v", job.Method, job.ID, duration)
	}

	response := buildResponse(job, res)

	// Notify client (async to not block worker loop)
	if job.ClientConn != nil && w.notifier != nil {
		go func() {
			if err := w.notifier.NotifyClient(job.ClientConn, response); err != nil {
				log.Printf("[WORKER] ⚠️ Failed to notify client for job %s: %v", job.ID, err)
			}
		}()
	}
}

// execute runs the call with a per-call deadline, never letting a panic escape
func (w *Worker) execute(job *server.Job) (res dispatch.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WORKER] 💥 Panic in job %s: %v\nStack: %s", job.ID, r, debug.Stack())
			res = dispatch.Result{
				Err:   &dispatch.Error{Code: dispatch.CodePrintError, Message: fmt.Sprintf("%v", r)},
				Cause: fmt.Errorf("panic recovered in %s: %v", job.Method, r),
			}
		}
	}()

	ctx := w.baseCtx
	if w.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.CallTimeout)
		defer cancel()
	}

	return w.dispatcher.Dispatch(ctx, dispatch.Call{Method: job.Method, Args: job.Args})
}

// buildResponse converts a dispatch result into the client message
func buildResponse(job *server.Job, res dispatch.Result) server.Response {
	response := server.Response{
		Tipo: "result",
		ID:   job.ID,
	}

	switch {
	case res.NotImplemented:
		response.Status = "not_implemented"
		response.Mensaje = fmt.Sprintf("Call '%s' is not implemented", job.Method)
	case res.Err != nil:
		response.Status = "error"
		response.Codigo = res.Err.Code
		response.Mensaje = workererrors.ExtractUserFriendlyError(failureCause(res))
	default:
		response.Status = "success"
		response.Resultado = res.Value
		// A declined call (0) still tells the client why.
		if res.Cause != nil {
			response.Mensaje = workererrors.ExtractUserFriendlyError(res.Cause)
		}
	}
	return response
}

func failureCause(res dispatch.Result) error {
	if res.Cause != nil {
		return res.Cause
	}
	if res.Err != nil {
		return res.Err
	}
	return nil
}

// Stats returns current worker statistics
func (w *Worker) Stats() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Statistics{
		IsRunning:     w.isRunning,
		JobsProcessed: w.jobsProcessed,
		JobsFailed:    w.jobsFailed,
		LastJobTime:   w.lastJobTime,
	}
}

// Statistics holds worker runtime statistics
type Statistics struct {
	IsRunning     bool      `json:"is_running"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastJobTime   time.Time `json:"last_job_time,omitempty"`
}
