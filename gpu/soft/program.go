package soft

import (
	"fmt"
	"sort"
	"sync"

	"github.com/achilleasa/prism/gpu"
)

// Workgroup size along X and Y used by all kernels.
const LocalSize = 32

// A Kernel executes one workgroup. Invocations outside the image extent
// must be filtered by the kernel itself.
type Kernel func(ctx *KernelContext, groupX, groupY, groupZ uint32)

var (
	kernelMu sync.RWMutex
	kernels  = make(map[string]Kernel)
)

// Register a kernel under a program name. Registering the same name again
// replaces the kernel; programs created afterwards pick up the new version.
func RegisterKernel(name string, kernel Kernel) {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	kernels[name] = kernel
}

// Names of the registered kernels.
func Kernels() []string {
	kernelMu.RLock()
	defer kernelMu.RUnlock()
	names := make([]string, 0, len(kernels))
	for name := range kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type program struct {
	name      string
	kernel    Kernel
	spec      []uint32
	pushSize  int
	layout    gpu.BindingLayout
	destroyed bool
}

func (p *program) Name() string {
	return p.name
}

func (p *program) Destroy() {
	p.destroyed = true
}

func (d *Device) CreateComputeProgram(info gpu.ProgramInfo) (gpu.Program, error) {
	kernelMu.RLock()
	kernel, found := kernels[info.Name]
	kernelMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("soft device: program %q: %w", info.Name, gpu.ErrUnknownProgram)
	}

	return &program{
		name:     info.Name,
		kernel:   kernel,
		spec:     append([]uint32(nil), info.Specialization...),
		pushSize: info.PushConstantSize,
		layout:   append(gpu.BindingLayout(nil), info.Layout...),
	}, nil
}

type bindingSet struct {
	layout      gpu.BindingLayout
	descriptors map[uint32]gpu.Descriptor
	destroyed   bool
}

func (s *bindingSet) Destroy() {
	s.destroyed = true
}

func (d *Device) CreateBindingSet(layout gpu.BindingLayout, descriptors []gpu.Descriptor) (gpu.BindingSet, error) {
	slots := make(map[uint32]gpu.Binding, len(layout))
	for _, binding := range layout {
		slots[binding.Index] = binding
	}

	set := &bindingSet{
		layout:      append(gpu.BindingLayout(nil), layout...),
		descriptors: make(map[uint32]gpu.Descriptor, len(descriptors)),
	}
	for _, desc := range descriptors {
		binding, found := slots[desc.Binding]
		if !found {
			return nil, fmt.Errorf("soft device: descriptor for undeclared binding %d", desc.Binding)
		}

		count := binding.Count
		if count == 0 {
			count = 1
		}

		var attached int
		switch binding.Type {
		case gpu.UniformBuffer, gpu.StorageBuffer:
			attached = len(desc.Buffers)
		case gpu.StorageImage, gpu.SampledImage:
			attached = len(desc.Images)
		case gpu.AccelerationStructure:
			if _, err := d.accel(desc.Accel); err != nil {
				return nil, fmt.Errorf("soft device: binding %d: %w", desc.Binding, err)
			}
			attached = 1
		}
		if uint32(attached) != count {
			return nil, fmt.Errorf("soft device: binding %d expects %d resources; got %d", desc.Binding, count, attached)
		}
		set.descriptors[desc.Binding] = desc
	}

	for _, binding := range layout {
		if _, found := set.descriptors[binding.Index]; !found {
			return nil, fmt.Errorf("soft device: binding %d left unbound", binding.Index)
		}
	}
	return set, nil
}

// KernelContext gives a kernel access to its bound resources.
type KernelContext struct {
	Specialization []uint32
	PushConstants  []byte

	// Dispatch size in workgroups.
	Groups [3]uint32

	buffers map[uint32][][]byte
	images  map[uint32][]*ImageView
	accels  map[uint32]TopLevel
}

// First buffer bound at binding.
func (ctx *KernelContext) Buffer(binding uint32) []byte {
	if bufs := ctx.buffers[binding]; len(bufs) > 0 {
		return bufs[0]
	}
	return nil
}

// First image bound at binding.
func (ctx *KernelContext) Image(binding uint32) *ImageView {
	if imgs := ctx.images[binding]; len(imgs) > 0 {
		return imgs[0]
	}
	return nil
}

// All images bound at an array binding.
func (ctx *KernelContext) Images(binding uint32) []*ImageView {
	return ctx.images[binding]
}

// Top-level structure bound at binding.
func (ctx *KernelContext) TopLevel(binding uint32) (TopLevel, bool) {
	tl, found := ctx.accels[binding]
	return tl, found
}

// Resolve the bound resources of a set. Destroyed resources fail the dispatch.
func (d *Device) resolveSet(set *bindingSet) (*KernelContext, error) {
	ctx := &KernelContext{
		buffers: make(map[uint32][][]byte),
		images:  make(map[uint32][]*ImageView),
		accels:  make(map[uint32]TopLevel),
	}
	for binding, desc := range set.descriptors {
		for _, handle := range desc.Buffers {
			buf, err := d.storage.buffer(handle)
			if err != nil {
				return nil, fmt.Errorf("soft device: binding %d: %w", binding, err)
			}
			ctx.buffers[binding] = append(ctx.buffers[binding], buf.data)
		}
		for _, handle := range desc.Images {
			img, err := d.storage.image(handle)
			if err != nil {
				return nil, fmt.Errorf("soft device: binding %d: %w", binding, err)
			}
			ctx.images[binding] = append(ctx.images[binding], &img.view)
		}
		if desc.Accel != 0 {
			as, err := d.accel(desc.Accel)
			if err != nil {
				return nil, fmt.Errorf("soft device: binding %d: %w", binding, err)
			}
			if !as.built {
				return nil, fmt.Errorf("soft device: binding %d: acceleration structure %d is not built", binding, desc.Accel)
			}
			ctx.accels[binding] = TopLevel{as: as}
		}
	}
	return ctx, nil
}

// Run all workgroups of a dispatch across the compute workers.
func (d *Device) dispatch(ex *execState, groups [3]uint32) error {
	if ex.program == nil {
		return fmt.Errorf("soft device: dispatch without a bound program")
	}
	if ex.set == nil {
		return fmt.Errorf("soft device: dispatch of %q without a bound set", ex.program.name)
	}
	if len(ex.push) < ex.program.pushSize {
		return fmt.Errorf("soft device: program %q expects %d bytes of push constants; got %d", ex.program.name, ex.program.pushSize, len(ex.push))
	}

	ctx, err := d.resolveSet(ex.set)
	if err != nil {
		return err
	}
	ctx.Specialization = ex.program.spec
	ctx.PushConstants = ex.push
	ctx.Groups = groups

	total := groups[0] * groups[1] * groups[2]
	if total == 0 {
		return nil
	}

	workChan := make(chan uint32, d.opts.Workers)
	var wg sync.WaitGroup
	for w := 0; w < d.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range workChan {
				gx := group % groups[0]
				gy := (group / groups[0]) % groups[1]
				gz := group / (groups[0] * groups[1])
				ex.program.kernel(ctx, gx, gy, gz)
			}
		}()
	}
	for group := uint32(0); group < total; group++ {
		workChan <- group
	}
	close(workChan)
	wg.Wait()
	return nil
}
