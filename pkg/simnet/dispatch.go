package simnet

import "fmt"

// DispatchSequential delivers the oldest queued message. It returns false if
// the queue was empty.
func (r *Router) DispatchSequential() (bool, error) {
	if err := r.checkManualDispatch(); err != nil {
		return false, err
	}

	return r.dispatchOne(func(n int) int { return 0 }), nil
}

// DispatchRandomOne delivers a queued message chosen uniformly at random. It
// returns false if the queue was empty.
func (r *Router) DispatchRandomOne() (bool, error) {
	if err := r.checkManualDispatch(); err != nil {
		return false, err
	}

	return r.dispatchOne(r.randomIndex), nil
}

// DispatchRandomAll empties the queue in random order, including messages
// queued by the deliveries themselves, and returns the number of dispatched
// messages.
func (r *Router) DispatchRandomAll() (int, error) {
	if err := r.checkManualDispatch(); err != nil {
		return 0, err
	}

	n := 0
	for r.dispatchOne(r.randomIndex) {
		n++
	}

	return n, nil
}

// DispatchAll empties the queue in FIFO order.
func (r *Router) DispatchAll() (int, error) {
	if err := r.checkManualDispatch(); err != nil {
		return 0, err
	}

	return r.flush(), nil
}

// DispatchIndex delivers the message at a given position in the queue.
func (r *Router) DispatchIndex(index int) error {
	if err := r.checkManualDispatch(); err != nil {
		return err
	}

	r.queueMu.Lock()

	if index < 0 || index >= len(r.queue) {
		n := len(r.queue)
		r.queueMu.Unlock()

		return fmt.Errorf("invalid queue index %d (%d queued messages)",
			index, n)
	}

	msg := r.removeQueued(index)

	r.queueMu.Unlock()

	r.deliver(msg)

	return nil
}

// DispatchMatching delivers, oldest first, every message currently queued
// for which fn returns true. Messages queued during these deliveries are not
// considered.
func (r *Router) DispatchMatching(fn func(Message) bool) (int, error) {
	if err := r.checkManualDispatch(); err != nil {
		return 0, err
	}

	r.queueMu.Lock()

	var selected, kept []Message
	for _, msg := range r.queue {
		if fn(msg) {
			selected = append(selected, msg)
		} else {
			kept = append(kept, msg)
		}
	}

	r.queue = kept

	r.queueMu.Unlock()

	for _, msg := range selected {
		r.deliver(msg)
	}

	return len(selected), nil
}

func (r *Router) checkManualDispatch() error {
	if r.Cfg.Mode == ModeRounds {
		return ErrDispatchDisabled
	}

	return nil
}

// flush delivers queued messages in FIFO order until the queue is empty and
// returns the number of delivered messages.
func (r *Router) flush() int {
	n := 0
	for r.dispatchOne(func(int) int { return 0 }) {
		n++
	}

	return n
}

// dispatchOne removes the message selected by indexFunc, which is called
// with the queue length and the queue lock held, and delivers it.
func (r *Router) dispatchOne(indexFunc func(int) int) bool {
	r.queueMu.Lock()

	if len(r.queue) == 0 {
		r.queueMu.Unlock()
		return false
	}

	msg := r.removeQueued(indexFunc(len(r.queue)))

	r.queueMu.Unlock()

	r.deliver(msg)

	return true
}

func (r *Router) removeQueued(index int) Message {
	msg := r.queue[index]

	copy(r.queue[index:], r.queue[index+1:])
	r.queue = r.queue[:len(r.queue)-1]

	return msg
}

func (r *Router) randomIndex(n int) int {
	return r.randGenerator.Intn(n)
}
