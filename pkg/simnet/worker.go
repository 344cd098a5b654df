package simnet

import (
	"fmt"
	"time"
)

// Start launches the auto-dispatch worker if it is enabled. Errors which
// cannot be handled by the worker, such as panics, are sent to errorChan.
func (r *Router) Start(errorChan chan<- error) error {
	if !r.Cfg.AutoDispatch {
		return nil
	}

	if r.stopChan != nil {
		return fmt.Errorf("router already started")
	}

	r.Log.Debug(1, "starting dispatch worker (policy: %s, interval: %v)",
		r.Cfg.DispatchPolicy, r.Cfg.DispatchInterval)

	r.errorChan = errorChan
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.main()

	return nil
}

func (r *Router) Stop() {
	if r.stopChan == nil {
		return
	}

	r.Log.Debug(1, "stopping dispatch worker")

	close(r.stopChan)
	r.wg.Wait()

	r.stopChan = nil

	r.Log.Debug(1, "dispatch worker stopped")
}

func (r *Router) main() {
	defer r.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			r.Log.Error("panic: %s\n%s", msg, trace)

			if r.errorChan != nil {
				r.errorChan <- fmt.Errorf("panic: %s", msg)
			}
		}
	}()

	ticker := time.NewTicker(r.Cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return

		case <-ticker.C:
			r.onDispatchTicker()
		}
	}
}

func (r *Router) onDispatchTicker() {
	switch r.Cfg.DispatchPolicy {
	case DispatchPolicySequential:
		r.dispatchOne(func(int) int { return 0 })

	case DispatchPolicyRandom:
		r.dispatchOne(r.randomIndex)

	default:
		Panicf("unexpected dispatch policy %q", r.Cfg.DispatchPolicy)
	}
}
