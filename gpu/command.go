package gpu

// Commands recorded into a command buffer run on the queue it is submitted
// to. Recording errors are deferred and reported by End.
type CommandBuffer interface {
	Queue() QueueClass

	// Start recording, discarding previously recorded commands.
	Begin() error
	End() error

	BuildAccelerationStructure(info BuildInfo)

	BindProgram(program Program)
	BindSet(set BindingSet)
	PushConstants(data []byte)
	Dispatch(x, y, z uint32)

	ImageBarrier(image uint32, from, to ImageLayout)
	CopyImage(src, dst uint32, extent Extent)

	ResetQueries(pool QueryPool, first, count uint32)
	WriteTimestamp(pool QueryPool, index uint32)

	// Render into a swapchain or storage image.
	BeginRenderPass(target uint32)

	// Draw a full-screen triangle sampling the given image into the current
	// render target.
	DrawFullscreen(texture uint32)

	EndRenderPass()
}

// CommandContext hands out one-time command buffers.
type CommandContext interface {
	BeginOneTime(queue QueueClass) (CommandBuffer, error)

	// Submit a one-time command buffer. If waitIdle is set the call blocks
	// until the queue has executed it.
	Submit(cb CommandBuffer, waitIdle bool) error
}
