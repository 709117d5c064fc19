package gfx

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/neurlang/wayland/wl"
	"github.com/rs/zerolog"

	"github.com/wayvid/wayvid/internal/layout"
)

// PresentationContext is the per-Surface GPU presentation target: a
// VK_KHR_wayland_surface + swapchain bound to one layer surface's
// wl_surface, sized to that output's pixel geometry. Bring-up and teardown
// mirror VulkanBackend's cascading create/destroy-on-error pattern in
// voodoo_vulkan.go, generalized from an offscreen color image to an
// on-screen swapchain.
type PresentationContext struct {
	log zerolog.Logger

	dev *Device

	mu     sync.Mutex
	width  int
	height int

	wlSurface *wl.Surface

	surface   vk.Surface
	swapchain vk.Swapchain

	images     []vk.Image
	imageViews []vk.ImageView

	commandPool   vk.CommandPool
	commandBuffer vk.CommandBuffer

	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	inFlight       vk.Fence

	current           bool // true between MakeCurrent and UnbindCurrent
	currentImageIndex uint32
	currentImageValid bool

	// Staging buffer and intermediate frame image, (re)sized to match
	// whatever frame SubmitFrame last uploaded. Grounded on
	// voodoo_vulkan.go's createStagingBuffer/findMemoryType pattern,
	// generalized from readback (GPU->CPU) to upload (CPU->GPU): same
	// host-visible/host-coherent memory requirement, opposite transfer
	// direction.
	stagingBuffer   vk.Buffer
	stagingMemory   vk.DeviceMemory
	stagingCapacity int

	frameImage       vk.Image
	frameImageMemory vk.DeviceMemory
	frameW, frameH   int
}

// NewPresentationContext acquires the process-wide Device and builds a
// swapchain targeting wlSurface at (width, height), the output's current
// pixel geometry. Every stage that fails tears down everything the
// earlier stages built, then releases the Device, so a failed
// construction never leaks process-wide Vulkan state.
func NewPresentationContext(log zerolog.Logger, display *wl.Display, wlSurface *wl.Surface, width, height int) (*PresentationContext, error) {
	dev, err := Acquire(log)
	if err != nil {
		return nil, fmt.Errorf("acquire vulkan device: %w", err)
	}

	pc := &PresentationContext{
		log:       log,
		dev:       dev,
		width:     width,
		height:    height,
		wlSurface: wlSurface,
	}

	if err := pc.createSurface(display, wlSurface); err != nil {
		dev.Release()
		return nil, fmt.Errorf("create wayland surface: %w", err)
	}
	if err := pc.createSwapchain(); err != nil {
		pc.destroySurface()
		dev.Release()
		return nil, fmt.Errorf("create swapchain: %w", err)
	}
	if err := pc.createCommandPool(); err != nil {
		pc.destroySwapchain()
		pc.destroySurface()
		dev.Release()
		return nil, fmt.Errorf("create command pool: %w", err)
	}
	if err := pc.createSyncObjects(); err != nil {
		pc.destroyCommandPool()
		pc.destroySwapchain()
		pc.destroySurface()
		dev.Release()
		return nil, fmt.Errorf("create sync objects: %w", err)
	}

	return pc, nil
}

func (pc *PresentationContext) createSurface(display *wl.Display, wlSurface *wl.Surface) error {
	instance, _, _, _, _ := pc.dev.Handle()

	createInfo := vk.WaylandSurfaceCreateInfo{
		SType:   vk.StructureTypeWaylandSurfaceCreateInfoKhr,
		Display: unsafe.Pointer(display),
		Surface: unsafe.Pointer(wlSurface),
	}

	var surface vk.Surface
	if res := vk.CreateWaylandSurface(instance, &createInfo, nil, &surface); res != vk.Success {
		return fmt.Errorf("vkCreateWaylandSurfaceKHR failed: %d", res)
	}
	pc.surface = surface
	return nil
}

// createSwapchain builds a FIFO-present (vsync'd) swapchain, matching the
// frame pacer's expectation that the compositor's own cadence gates
// presentation rather than racing ahead of it.
func (pc *PresentationContext) createSwapchain() error {
	_, physicalDevice, device, _, queueFamily := pc.dev.Handle()

	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, pc.surface, &capabilities); res != vk.Success {
		return fmt.Errorf("vkGetPhysicalDeviceSurfaceCapabilitiesKHR failed: %d", res)
	}
	capabilities.Deref()

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfoKhr,
		Surface:          pc.surface,
		MinImageCount:    imageCount,
		ImageFormat:      vk.FormatB8g8r8a8Unorm,
		ImageColorSpace:  vk.ColorSpaceSrgbNonlinear,
		ImageExtent:      vk.Extent2D{Width: uint32(pc.width), Height: uint32(pc.height)},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
	}

	var swapchain vk.Swapchain
	if res := vk.CreateSwapchain(device, &createInfo, nil, &swapchain); res != vk.Success {
		return fmt.Errorf("vkCreateSwapchainKHR failed: %d", res)
	}
	pc.swapchain = swapchain

	var count uint32
	vk.GetSwapchainImages(device, swapchain, &count, nil)
	images := make([]vk.Image, count)
	vk.GetSwapchainImages(device, swapchain, &count, images)
	pc.images = images

	pc.imageViews = make([]vk.ImageView, len(images))
	for i, img := range images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   vk.FormatB8g8r8a8Unorm,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var view vk.ImageView
		if res := vk.CreateImageView(device, &viewInfo, nil, &view); res != vk.Success {
			return fmt.Errorf("vkCreateImageView failed: %d", res)
		}
		pc.imageViews[i] = view
	}

	_ = queueFamily
	return nil
}

func (pc *PresentationContext) createCommandPool() error {
	_, _, device, _, queueFamily := pc.dev.Handle()

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device, &poolInfo, nil, &pool); res != vk.Success {
		return fmt.Errorf("vkCreateCommandPool failed: %d", res)
	}
	pc.commandPool = pool

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(device, &allocInfo, buffers); res != vk.Success {
		return fmt.Errorf("vkAllocateCommandBuffers failed: %d", res)
	}
	pc.commandBuffer = buffers[0]
	return nil
}

func (pc *PresentationContext) createSyncObjects() error {
	_, _, device, _, _ := pc.dev.Handle()

	semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var avail, finished vk.Semaphore
	if res := vk.CreateSemaphore(device, &semInfo, nil, &avail); res != vk.Success {
		return fmt.Errorf("vkCreateSemaphore (image available) failed: %d", res)
	}
	pc.imageAvailable = avail
	if res := vk.CreateSemaphore(device, &semInfo, nil, &finished); res != vk.Success {
		return fmt.Errorf("vkCreateSemaphore (render finished) failed: %d", res)
	}
	pc.renderFinished = finished

	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	var fence vk.Fence
	if res := vk.CreateFence(device, &fenceInfo, nil, &fence); res != vk.Success {
		return fmt.Errorf("vkCreateFence failed: %d", res)
	}
	pc.inFlight = fence
	return nil
}

// MakeCurrent acquires the next swapchain image and begins recording the
// command buffer that will render into it. The event pump calls this
// immediately before handing control to the bound Player's Render.
func (pc *PresentationContext) MakeCurrent() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.current {
		return fmt.Errorf("presentation context already current")
	}

	_, _, device, _, _ := pc.dev.Handle()
	vk.WaitForFences(device, 1, []vk.Fence{pc.inFlight}, vk.True, ^uint64(0))
	vk.ResetFences(device, 1, []vk.Fence{pc.inFlight})

	var imageIndex uint32
	res := vk.AcquireNextImage(device, pc.swapchain, ^uint64(0), pc.imageAvailable, vk.NullFence, &imageIndex)
	if res != vk.Success && res != vk.Suboptimal {
		return fmt.Errorf("vkAcquireNextImageKHR failed: %d", res)
	}
	pc.currentImageIndex = imageIndex
	pc.currentImageValid = true

	vk.ResetCommandBuffer(pc.commandBuffer, 0)
	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if res := vk.BeginCommandBuffer(pc.commandBuffer, &beginInfo); res != vk.Success {
		return fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}

	pc.current = true
	return nil
}

// UnbindCurrent ends command recording without presenting; used when a
// Player fails to produce a frame this tick.
func (pc *PresentationContext) UnbindCurrent() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.current {
		return
	}
	vk.EndCommandBuffer(pc.commandBuffer)
	pc.current = false
	pc.currentImageValid = false
}

// SwapBuffers submits the recorded command buffer and presents the
// acquired image, the terminal step of one event-pump render tick.
func (pc *PresentationContext) SwapBuffers() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if !pc.current {
		return fmt.Errorf("swap buffers called without a current frame")
	}
	if res := vk.EndCommandBuffer(pc.commandBuffer); res != vk.Success {
		pc.current = false
		pc.currentImageValid = false
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}

	_, _, _, queue, _ := pc.dev.Handle()

	waitStages := []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{pc.imageAvailable},
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{pc.commandBuffer},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{pc.renderFinished},
	}
	if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, pc.inFlight); res != vk.Success {
		pc.current = false
		pc.currentImageValid = false
		return fmt.Errorf("vkQueueSubmit failed: %d", res)
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{pc.renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{pc.swapchain},
		PImageIndices:      []uint32{pc.currentImageIndex},
	}
	res := vk.QueuePresent(queue, &presentInfo)
	pc.current = false
	pc.currentImageValid = false
	if res != vk.Success && res != vk.Suboptimal {
		return fmt.Errorf("vkQueuePresentKHR failed: %d", res)
	}
	return nil
}

// SubmitFrame implements player.Sink: it uploads one decoded BGRA frame
// into the staging buffer, copies it into an intermediate transfer image
// sized to (w,h), and blits src (normalised source crop) into dst
// (destination pixel rect) of the swapchain image currently acquired by
// MakeCurrent. Must be called between MakeCurrent and SwapBuffers/
// UnbindCurrent, which Surface.Render's call chain guarantees.
//
// The upload/copy/blit sequence is the CPU-to-GPU mirror of
// voodoo_vulkan.go's GPU-to-CPU readback: same host-visible staging
// buffer and findMemoryType helper, opposite vkCmdCopyBufferToImage
// direction, followed by a vkCmdBlitImage this presentation context adds
// to apply layout scaling that a plain same-size copy couldn't.
func (pc *PresentationContext) SubmitFrame(data []byte, w, h int, src layout.Rect, dst layout.IntRect) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if !pc.current || !pc.currentImageValid {
		return fmt.Errorf("submit frame: no current frame")
	}
	if w <= 0 || h <= 0 || len(data) == 0 {
		return fmt.Errorf("submit frame: invalid frame %dx%d (%d bytes)", w, h, len(data))
	}

	if err := pc.ensureStagingBufferLocked(len(data)); err != nil {
		return fmt.Errorf("ensure staging buffer: %w", err)
	}
	if err := pc.ensureFrameImageLocked(w, h); err != nil {
		return fmt.Errorf("ensure frame image: %w", err)
	}
	if err := pc.uploadToStagingLocked(data); err != nil {
		return fmt.Errorf("upload to staging: %w", err)
	}

	dstImage := pc.images[pc.currentImageIndex]

	pc.recordImageBarrierLocked(pc.frameImage, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	pc.recordBufferToImageCopyLocked(w, h)
	pc.recordImageBarrierLocked(pc.frameImage, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal)

	pc.recordImageBarrierLocked(dstImage, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	pc.recordBlitLocked(w, h, src, dst)
	pc.recordImageBarrierLocked(dstImage, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc)

	return nil
}

// recordBufferToImageCopyLocked records a vkCmdCopyBufferToImage of the
// whole staging buffer into frameImage, sized exactly (w,h); caller must
// hold pc.mu and have already transitioned frameImage to
// TRANSFER_DST_OPTIMAL.
func (pc *PresentationContext) recordBufferToImageCopyLocked(w, h int) {
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{Width: uint32(w), Height: uint32(h), Depth: 1},
	}
	vk.CmdCopyBufferToImage(pc.commandBuffer, pc.stagingBuffer, pc.frameImage, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

// recordBlitLocked records a vkCmdBlitImage from frameImage's src crop
// rectangle (normalised [0,1]^2, converted to pixels here) into the
// swapchain image's dst pixel rectangle, applying layout.Transform's
// scale/crop in a single GPU blit.
func (pc *PresentationContext) recordBlitLocked(w, h int, src layout.Rect, dst layout.IntRect) {
	srcX0 := int32(src.X * float64(w))
	srcY0 := int32(src.Y * float64(h))
	srcX1 := int32((src.X + src.W) * float64(w))
	srcY1 := int32((src.Y + src.H) * float64(h))

	dstX0 := int32(dst.X)
	dstY0 := int32(dst.Y)
	dstX1 := int32(dst.X + dst.W)
	dstY1 := int32(dst.Y + dst.H)

	blit := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		SrcOffsets: [2]vk.Offset3D{
			{X: srcX0, Y: srcY0, Z: 0},
			{X: srcX1, Y: srcY1, Z: 1},
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		DstOffsets: [2]vk.Offset3D{
			{X: dstX0, Y: dstY0, Z: 0},
			{X: dstX1, Y: dstY1, Z: 1},
		},
	}

	vk.CmdBlitImage(
		pc.commandBuffer,
		pc.frameImage, vk.ImageLayoutTransferSrcOptimal,
		pc.images[pc.currentImageIndex], vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit},
		vk.FilterLinear,
	)
}

// recordImageBarrierLocked records a vkCmdPipelineBarrier transitioning
// img from oldLayout to newLayout across the full transfer stage, the
// same coarse TRANSFER->TRANSFER synchronization voodoo_vulkan.go uses
// around its own buffer/image copies.
func (pc *PresentationContext) recordImageBarrierLocked(img vk.Image, oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
		SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit | vk.AccessTransferReadBit),
		DstAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit | vk.AccessTransferReadBit),
	}

	vk.CmdPipelineBarrier(
		pc.commandBuffer,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier},
	)
}

// uploadToStagingLocked memory-maps the staging buffer, copies data in,
// and unmaps — the buffer was created HOST_VISIBLE|HOST_COHERENT so no
// explicit flush is required, mirroring voodoo_vulkan.go's staging buffer
// usage.
func (pc *PresentationContext) uploadToStagingLocked(data []byte) error {
	_, _, device, _, _ := pc.dev.Handle()

	var mapped unsafe.Pointer
	if res := vk.MapMemory(device, pc.stagingMemory, 0, vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
		return fmt.Errorf("vkMapMemory failed: %d", res)
	}
	dst := unsafe.Slice((*byte)(mapped), len(data))
	copy(dst, data)
	vk.UnmapMemory(device, pc.stagingMemory)
	return nil
}

// ensureStagingBufferLocked (re)allocates the staging buffer when size
// exceeds its current capacity; the buffer is never shrunk so a
// fluctuating frame size (a playlist mixing resolutions) doesn't
// reallocate every tick.
func (pc *PresentationContext) ensureStagingBufferLocked(size int) error {
	if pc.stagingBuffer != nil && size <= pc.stagingCapacity {
		return nil
	}
	pc.destroyStagingBufferLocked()

	_, _, device, _, _ := pc.dev.Handle()

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	if res := vk.CreateBuffer(device, &bufferInfo, nil, &buffer); res != vk.Success {
		return fmt.Errorf("vkCreateBuffer (staging) failed: %d", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &memReqs)
	memReqs.Deref()

	memTypeIndex, err := pc.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyBuffer(device, buffer, nil)
		return err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyBuffer(device, buffer, nil)
		return fmt.Errorf("vkAllocateMemory (staging) failed: %d", res)
	}
	vk.BindBufferMemory(device, buffer, memory, 0)

	pc.stagingBuffer = buffer
	pc.stagingMemory = memory
	pc.stagingCapacity = size
	return nil
}

// ensureFrameImageLocked (re)allocates the intermediate transfer image
// when (w,h) changes, the device-local equivalent of
// voodoo_vulkan.go's render-target image creation but TRANSFER_SRC/DST
// rather than COLOR_ATTACHMENT, since this image only ever serves as a
// blit source.
func (pc *PresentationContext) ensureFrameImageLocked(w, h int) error {
	if pc.frameImage != nil && w == pc.frameW && h == pc.frameH {
		return nil
	}
	pc.destroyFrameImageLocked()

	_, _, device, _, _ := pc.dev.Handle()

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.FormatB8g8r8a8Unorm,
		Extent:    vk.Extent3D{Width: uint32(w), Height: uint32(h), Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var image vk.Image
	if res := vk.CreateImage(device, &imageInfo, nil, &image); res != vk.Success {
		return fmt.Errorf("vkCreateImage (frame) failed: %d", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, image, &memReqs)
	memReqs.Deref()

	memTypeIndex, err := pc.findMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(device, image, nil)
		return err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyImage(device, image, nil)
		return fmt.Errorf("vkAllocateMemory (frame) failed: %d", res)
	}
	vk.BindImageMemory(device, image, memory, 0)

	pc.frameImage = image
	pc.frameImageMemory = memory
	pc.frameW, pc.frameH = w, h
	return nil
}

// findMemoryType finds a physical-device memory type matching both
// typeFilter and properties, a direct port of voodoo_vulkan.go's
// findMemoryType.
func (pc *PresentationContext) findMemoryType(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	_, physicalDevice, _, _, _ := pc.dev.Handle()

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memProps)
	memProps.Deref()

	for i := uint32(0); i < memProps.MemoryTypeCount; i++ {
		memProps.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memProps.MemoryTypes[i].PropertyFlags&properties) == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("failed to find suitable memory type")
}

// Resize rebuilds the swapchain for a new output pixel size, called by
// Surface when the layer-shell compositor sends a configure event with a
// changed extent.
func (pc *PresentationContext) Resize(width, height int) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	_, _, device, _, _ := pc.dev.Handle()
	vk.DeviceWaitIdle(device)

	pc.destroySwapchainLocked()
	pc.width, pc.height = width, height
	if err := pc.createSwapchain(); err != nil {
		return fmt.Errorf("recreate swapchain: %w", err)
	}
	return nil
}

// Destroy tears down the presentation context and releases the
// process-wide Device, in reverse order of construction.
func (pc *PresentationContext) Destroy() {
	pc.mu.Lock()
	_, _, device, _, _ := pc.dev.Handle()
	if device != nil {
		vk.DeviceWaitIdle(device)
	}
	pc.destroyFrameImageLocked()
	pc.destroyStagingBufferLocked()
	pc.destroySyncObjects()
	pc.destroyCommandPool()
	pc.destroySwapchainLocked()
	pc.destroySurface()
	pc.mu.Unlock()

	pc.dev.Release()
}

func (pc *PresentationContext) destroySyncObjects() {
	_, _, device, _, _ := pc.dev.Handle()
	if pc.imageAvailable != nil {
		vk.DestroySemaphore(device, pc.imageAvailable, nil)
		pc.imageAvailable = nil
	}
	if pc.renderFinished != nil {
		vk.DestroySemaphore(device, pc.renderFinished, nil)
		pc.renderFinished = nil
	}
	if pc.inFlight != nil {
		vk.DestroyFence(device, pc.inFlight, nil)
		pc.inFlight = nil
	}
}

func (pc *PresentationContext) destroyCommandPool() {
	_, _, device, _, _ := pc.dev.Handle()
	if pc.commandPool != nil {
		vk.DestroyCommandPool(device, pc.commandPool, nil)
		pc.commandPool = nil
	}
}

func (pc *PresentationContext) destroySwapchain() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.destroySwapchainLocked()
}

func (pc *PresentationContext) destroySwapchainLocked() {
	_, _, device, _, _ := pc.dev.Handle()
	for _, view := range pc.imageViews {
		vk.DestroyImageView(device, view, nil)
	}
	pc.imageViews = nil
	pc.images = nil
	if pc.swapchain != nil {
		vk.DestroySwapchain(device, pc.swapchain, nil)
		pc.swapchain = nil
	}
}

func (pc *PresentationContext) destroySurface() {
	instance, _, _, _, _ := pc.dev.Handle()
	if pc.surface != nil {
		vk.DestroySurface(instance, pc.surface, nil)
		pc.surface = nil
	}
}

func (pc *PresentationContext) destroyStagingBufferLocked() {
	_, _, device, _, _ := pc.dev.Handle()
	if pc.stagingBuffer != nil {
		vk.DestroyBuffer(device, pc.stagingBuffer, nil)
		pc.stagingBuffer = nil
	}
	if pc.stagingMemory != nil {
		vk.FreeMemory(device, pc.stagingMemory, nil)
		pc.stagingMemory = nil
	}
	pc.stagingCapacity = 0
}

func (pc *PresentationContext) destroyFrameImageLocked() {
	_, _, device, _, _ := pc.dev.Handle()
	if pc.frameImage != nil {
		vk.DestroyImage(device, pc.frameImage, nil)
		pc.frameImage = nil
	}
	if pc.frameImageMemory != nil {
		vk.FreeMemory(device, pc.frameImageMemory, nil)
		pc.frameImageMemory = nil
	}
	pc.frameW, pc.frameH = 0, 0
}
