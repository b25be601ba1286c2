package soft

import (
	"sync"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
)

type submission struct {
	waits   []*semaphore
	cmds    [][]command
	signals []*semaphore
	fence   *fence
}

// A queue executes submissions in order on a dedicated worker go-routine.
type queue struct {
	logger log.Logger
	dev    *Device
	class  gpu.QueueClass

	wg      sync.WaitGroup
	pending sync.WaitGroup

	// A channel for receiving submissions.
	subChan chan submission

	// A channel for signaling the worker to exit.
	closeChan chan struct{}
}

func newQueue(dev *Device, class gpu.QueueClass) *queue {
	return &queue{
		logger:  log.New("soft " + class.String() + " queue"),
		dev:     dev,
		class:   class,
		subChan: make(chan submission, 16),
	}
}

func (q *queue) submit(sub submission) {
	q.pending.Add(1)
	q.subChan <- sub
}

// Block until every submission so far has executed.
func (q *queue) waitIdle() {
	q.pending.Wait()
}

// Spawn a go-routine to process submissions.
func (q *queue) startWorker() {
	if q.closeChan != nil {
		return
	}
	q.closeChan = make(chan struct{})

	readyChan := make(chan struct{})
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		close(readyChan)
		for {
			select {
			case sub := <-q.subChan:
				q.execute(sub)
			case <-q.closeChan:
				// Ack close
				q.closeChan <- struct{}{}
				return
			}
		}
	}()

	// Wait for go-routine to start
	<-readyChan
}

func (q *queue) execute(sub submission) {
	defer q.pending.Done()

	for _, sem := range sub.waits {
		sem.wait()
	}

	var err error
	ex := &execState{dev: q.dev}
exec:
	for _, cmds := range sub.cmds {
		for _, cmd := range cmds {
			if err = cmd(ex); err != nil {
				break exec
			}
		}
	}

	if err != nil {
		q.logger.Errorf("submission failed: %v", err)
		q.dev.recordError(err)
	}

	if sub.fence != nil {
		sub.fence.signal(err)
	}
	for _, sem := range sub.signals {
		sem.signal()
	}
}

// Stop the worker after pending submissions have executed.
func (q *queue) close() {
	if q.closeChan == nil {
		return
	}
	q.waitIdle()
	q.closeChan <- struct{}{}
	<-q.closeChan
	q.wg.Wait()
	close(q.closeChan)
	q.closeChan = nil
}
