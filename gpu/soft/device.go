// Package soft implements the gpu device interfaces on the CPU. Queues run
// on worker go-routines, acceleration structures are SAH bounding volume
// hierarchies and compute programs are kernels registered by name.
package soft

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/achilleasa/prism/gpu"
	"github.com/achilleasa/prism/log"
)

// Options for the software device.
type Options struct {
	// Device name reported by Name().
	Name string

	// Number of go-routines executing compute workgroups. Defaults to
	// runtime.NumCPU().
	Workers int

	// Host fence waits fail with gpu.ErrDeviceLost after this timeout. A zero
	// value waits forever.
	FenceTimeout time.Duration
}

type Device struct {
	logger log.Logger
	opts   Options
	epoch  time.Time

	storage *storage
	queues  [gpu.NumQueueClasses]*queue

	mu          sync.Mutex
	accels      map[gpu.AccelHandle]*accelStructure
	accelByAddr map[uint64]*accelStructure
	nextAccel   gpu.AccelHandle
	err         error
	closed      bool
}

// Create a software device and start its queue workers.
func New(opts Options) *Device {
	if opts.Name == "" {
		opts.Name = "soft"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	dev := &Device{
		logger:      log.New(fmt.Sprintf("soft device (%s)", opts.Name)),
		opts:        opts,
		epoch:       time.Now(),
		storage:     newStorage(),
		accels:      make(map[gpu.AccelHandle]*accelStructure),
		accelByAddr: make(map[uint64]*accelStructure),
	}
	for class := gpu.QueueClass(0); class < gpu.NumQueueClasses; class++ {
		dev.queues[class] = newQueue(dev, class)
		dev.queues[class].startWorker()
	}

	dev.logger.Infof("started %d queues, %d compute workers", gpu.NumQueueClasses, opts.Workers)
	return dev
}

func (d *Device) Name() string {
	return d.opts.Name
}

// Number of compute workers.
func (d *Device) Workers() int {
	return d.opts.Workers
}

func (d *Device) Storage() gpu.Storage {
	return d.storage
}

func (d *Device) CommandContext() gpu.CommandContext {
	return commandContext{dev: d}
}

func (d *Device) NewCommandBuffer(queue gpu.QueueClass) gpu.CommandBuffer {
	return &commandBuffer{dev: d, queue: queue}
}

func (d *Device) Submit(queueClass gpu.QueueClass, info gpu.SubmitInfo, f gpu.Fence) error {
	if queueClass >= gpu.NumQueueClasses {
		return fmt.Errorf("soft device: unknown queue class %d", queueClass)
	}

	sub := submission{}
	for _, sem := range info.Wait {
		s, ok := sem.(*semaphore)
		if !ok {
			return fmt.Errorf("soft device: foreign semaphore %T", sem)
		}
		sub.waits = append(sub.waits, s)
	}
	for _, sem := range info.Signal {
		s, ok := sem.(*semaphore)
		if !ok {
			return fmt.Errorf("soft device: foreign semaphore %T", sem)
		}
		sub.signals = append(sub.signals, s)
	}
	for _, buf := range info.Buffers {
		cb, ok := buf.(*commandBuffer)
		if !ok {
			return fmt.Errorf("soft device: foreign command buffer %T", buf)
		}
		if cb.recording {
			return fmt.Errorf("soft device: command buffer submitted while recording")
		}
		if cb.queue != queueClass {
			return fmt.Errorf("soft device: %s command buffer submitted to %s queue", cb.queue, queueClass)
		}
		sub.cmds = append(sub.cmds, append([]command(nil), cb.cmds...))
	}
	if f != nil {
		fc, ok := f.(*fence)
		if !ok {
			return fmt.Errorf("soft device: foreign fence %T", f)
		}
		if fc.Signaled() {
			return fmt.Errorf("soft device: submitted fence must be unsignaled")
		}
		sub.fence = fc
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return fmt.Errorf("soft device: submit after close: %w", gpu.ErrDeviceLost)
	}

	d.queues[queueClass].submit(sub)
	return nil
}

// Wait for all queues to drain. Returns the first execution error recorded
// since the last call.
func (d *Device) WaitIdle() error {
	for _, q := range d.queues {
		q.waitIdle()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.err
	d.err = nil
	return err
}

func (d *Device) recordError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *Device) CreateFence(signaled bool) gpu.Fence {
	return newFence(signaled, d.opts.FenceTimeout)
}

func (d *Device) CreateSemaphore() gpu.Semaphore {
	return newSemaphore()
}

func (d *Device) CreateQueryPool(count uint32) gpu.QueryPool {
	return newQueryPool(count)
}

func (d *Device) TimestampPeriod() time.Duration {
	return time.Nanosecond
}

// Stop the queue workers. Pending submissions are executed first.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	for _, q := range d.queues {
		q.close()
	}
	buffers, images := d.storage.liveCount()
	d.logger.Infof("closed device with %d live buffers and %d live images", buffers, images)
}
