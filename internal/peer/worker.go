package peer

import "sync"

// worker runs one record's Conn calls in order on its own goroutine. push
// never blocks, so the event loop can hand off work while a slow primitive
// is still running.
type worker struct {
	mu       sync.Mutex
	queue    []func()
	final    func()
	stopping bool
	wake     chan struct{}
}

func newWorker() *worker {
	w := &worker{wake: make(chan struct{}, 1)}
	go w.run()
	return w
}

func (w *worker) push(task func()) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, task)
	w.mu.Unlock()
	w.signal()
}

// stop drops queued tasks and runs final once the current task returns
func (w *worker) stop(final func()) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	w.queue = nil
	w.final = final
	w.mu.Unlock()
	w.signal()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	for range w.wake {
		for {
			w.mu.Lock()
			if w.stopping {
				final := w.final
				w.mu.Unlock()
				if final != nil {
					final()
				}
				return
			}
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			task := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			task()
		}
	}
}
