package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/javelin/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("server: vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.VM) interface{}
	opts []vm.Option
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value interface{}
	err   error
}

// VMWorker serializes all program runs through a single goroutine. Every
// request gets a freshly bootstrapped VM, so runs never observe each
// other's classes or heap.
type VMWorker struct {
	base     []vm.Option
	requests chan vmRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
// base options apply to every VM the worker creates.
func NewVMWorker(base ...vm.Option) *VMWorker {
	w := &VMWorker{
		base:     base,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on a new VM, recovering from panics.
func (w *VMWorker) execute(req vmRequest) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("vm worker recovered: %v", r)
			result.err = fmt.Errorf("%v", r)
		}
	}()
	opts := append(append([]vm.Option(nil), w.base...), req.opts...)
	result.value = req.fn(vm.NewVM(opts...))
	return result
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. opts are added to the worker's base options for
// this request only. Returns the result and any error (including panics).
func (w *VMWorker) Do(fn func(*vm.VM) interface{}, opts ...vm.Option) (interface{}, error) {
	req := vmRequest{
		fn:   fn,
		opts: opts,
		done: make(chan vmResult, 1),
	}
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
