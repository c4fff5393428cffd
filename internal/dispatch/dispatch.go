// Package dispatch implements a single-threaded cooperative event loop: a
// readiness and timer wheel multiplexing OS handles, plus an MPSC task
// queue fed across goroutines via a self-pipe wakeup, built on
// golang.org/x/sys/unix.Poll.
package dispatch

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Callback is invoked with the ready fd and its registered user data.
type Callback func(fd int, userData any)

type registration struct {
	callback Callback
	userData any
}

// Dispatcher is the single-threaded readiness + timer loop. All methods
// that touch internal state other than Enqueue are intended to be called
// from the goroutine running Run; Enqueue is the one MPSC-safe entry point
// for other goroutines.
type Dispatcher struct {
	logger *slog.Logger

	handles map[int]registration

	timers      timerHeap
	timerIndex  map[int]*timer
	nextTimerID int

	wakeupR *os.File
	wakeupW *os.File

	taskMu sync.Mutex
	tasks  []func()
}

// New creates a Dispatcher and opens its wakeup pipe.
func New(logger *slog.Logger) (*Dispatcher, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("dispatch: opening wakeup pipe: %w", err)
	}
	d := &Dispatcher{
		logger:      logger.With("subsystem", "dispatch"),
		handles:     make(map[int]registration),
		timerIndex:  make(map[int]*timer),
		nextTimerID: 1,
		wakeupR:     r,
		wakeupW:     w,
	}
	d.handles[int(r.Fd())] = registration{callback: d.drainWakeup}
	return d, nil
}

// Close releases the wakeup pipe. Run must not be called again afterwards.
func (d *Dispatcher) Close() error {
	werr := d.wakeupW.Close()
	rerr := d.wakeupR.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Add registers fd for readiness notification. callback is invoked with
// (fd, userData) whenever fd becomes ready.
func (d *Dispatcher) Add(fd int, callback Callback, userData any) {
	d.handles[fd] = registration{callback: callback, userData: userData}
}

// Remove deregisters fd. Removing an fd that was never registered is a
// no-op.
func (d *Dispatcher) Remove(fd int) {
	delete(d.handles, fd)
}

// CallLater schedules fn to run after delay from now, returning a timer id
// that can be passed to RemoveCallLater.
func (d *Dispatcher) CallLater(delay time.Duration, fn func()) int {
	id := d.nextTimerID
	d.nextTimerID++
	t := &timer{deadline: time.Now().Add(delay), id: id, fn: fn}
	heap.Push(&d.timers, t)
	d.timerIndex[id] = t
	return id
}

// RemoveCallLater cancels a pending timer by id. Removing a non-existent
// id is a no-op.
func (d *Dispatcher) RemoveCallLater(id int) {
	t, ok := d.timerIndex[id]
	if !ok {
		return
	}
	heap.Remove(&d.timers, t.index)
	delete(d.timerIndex, id)
}

// Enqueue adds a task to the FIFO queue and wakes the dispatcher loop. It
// is the only method safe to call from a goroutine other than the one
// running Run: other goroutines communicate with the loop exclusively by
// enqueueing a task here and letting the wakeup pipe signal it.
func (d *Dispatcher) Enqueue(fn func()) {
	d.taskMu.Lock()
	d.tasks = append(d.tasks, fn)
	d.taskMu.Unlock()
	// A single byte write is atomic for any PIPE_BUF-sized pipe per POSIX;
	// a full pipe buffer just means the dispatcher is already about to wake.
	_, _ = d.wakeupW.Write([]byte{1})
}

// drainWakeup is the callback registered on the wakeup pipe's read end: it
// discards the pipe bytes and drains the task queue.
func (d *Dispatcher) drainWakeup(fd int, _ any) {
	buf := make([]byte, 1024)
	for {
		n, err := d.wakeupR.Read(buf)
		if n < len(buf) || err != nil {
			break
		}
	}

	d.taskMu.Lock()
	pending := d.tasks
	d.tasks = nil
	d.taskMu.Unlock()

	for _, fn := range pending {
		d.runGuarded(fn)
	}
}

// runGuarded invokes fn, recovering and logging any panic so a single bad
// event can never kill the process.
func (d *Dispatcher) runGuarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recovered panic in dispatcher callback", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// nextTimeout computes the poll timeout: time until the next timer fires,
// 0 if one already expired, or -1 (block indefinitely) if none are
// pending.
func (d *Dispatcher) nextTimeout() int {
	if d.timers.Len() == 0 {
		return -1
	}
	remaining := time.Until(d.timers[0].deadline)
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

// fireExpiredTimers runs all timers whose deadline has passed, in
// deadline order, removing each before invoking it so a callback that
// re-schedules itself does not see a stale entry.
func (d *Dispatcher) fireExpiredTimers() {
	now := time.Now()
	for d.timers.Len() > 0 && !d.timers[0].deadline.After(now) {
		t := heap.Pop(&d.timers).(*timer)
		delete(d.timerIndex, t.id)
		d.runGuarded(t.fn)
	}
}

// Run executes the dispatcher loop until ctx is cancelled:
// compute the timeout, wait for readiness, dispatch ready callbacks
// sequentially, then fire expired timers in deadline order.
func (d *Dispatcher) Run(ctx context.Context) error {
	// Cancellation writes to the wakeup pipe so a poll blocked with no
	// timers pending returns and the loop sees ctx.Done.
	stop := context.AfterFunc(ctx, func() { _, _ = d.wakeupW.Write([]byte{1}) })
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pollFds := make([]unix.PollFd, 0, len(d.handles))
		order := make([]int, 0, len(d.handles))
		for fd := range d.handles {
			pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			order = append(order, fd)
		}

		timeout := d.nextTimeout()
		n, err := unix.Poll(pollFds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("dispatch: poll: %w", err)
		}

		if n > 0 {
			for i, pfd := range pollFds {
				if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
					continue
				}
				fd := order[i]
				reg, ok := d.handles[fd]
				if !ok {
					d.logger.Error("data ready for unmanaged fd", "fd", fd)
					continue
				}
				cb, userData := reg.callback, reg.userData
				d.runGuarded(func() { cb(fd, userData) })
			}
		}

		d.fireExpiredTimers()
	}
}
