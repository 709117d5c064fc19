// Package gfx owns the process-wide Vulkan instance/device (the Graphics
// Context) and the per-Surface presentation context backed by it. Bring-up
// follows the cascading create/destroy-on-error shape of
// _examples/IntuitionAmiga-IntuitionEngine/voodoo_vulkan.go's
// VulkanBackend.initVulkan, generalized from Voodoo's offscreen
// render-to-staging-buffer target to an on-screen VK_KHR_wayland_surface
// swapchain presentation context.
package gfx

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/rs/zerolog"
)

// Device is the single process-wide Vulkan instance + physical/logical
// device pair shared by every Surface's PresentationContext, reference
// counted so the last Surface to close tears it down.
type Device struct {
	log zerolog.Logger

	mu       sync.Mutex
	refCount int

	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32

	vulkanInitialized bool
}

var (
	processDevice     *Device
	processDeviceOnce sync.Once
	processDeviceMu   sync.Mutex
)

// Acquire returns the process-wide Device, creating and initializing it on
// first use and bumping its reference count. Callers must pair every
// Acquire with a Release.
func Acquire(log zerolog.Logger) (*Device, error) {
	processDeviceMu.Lock()
	defer processDeviceMu.Unlock()

	if processDevice == nil {
		d := &Device{log: log}
		if err := d.init(); err != nil {
			return nil, err
		}
		processDevice = d
	}
	processDevice.mu.Lock()
	processDevice.refCount++
	processDevice.mu.Unlock()
	return processDevice, nil
}

// Release decrements the reference count and tears the Device down once
// the last Surface has released it.
func (d *Device) Release() {
	processDeviceMu.Lock()
	defer processDeviceMu.Unlock()

	d.mu.Lock()
	d.refCount--
	remaining := d.refCount
	d.mu.Unlock()

	if remaining > 0 {
		return
	}
	d.destroy()
	processDevice = nil
}

// Handle returns the raw handles a PresentationContext needs to build its
// swapchain; it does not take ownership of them.
func (d *Device) Handle() (vk.Instance, vk.PhysicalDevice, vk.Device, vk.Queue, uint32) {
	return d.instance, d.physicalDevice, d.device, d.queue, d.queueFamily
}

// init performs the one-time instance/device bring-up, mirroring
// VulkanBackend.initVulkan's cascading create/destroy-on-error structure:
// each stage destroys everything already created before it if a later
// stage fails.
func (d *Device) init() error {
	if !d.vulkanInitialized {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return fmt.Errorf("load vulkan library: %w", err)
		}
		if err := vk.Init(); err != nil {
			return fmt.Errorf("initialize vulkan loader: %w", err)
		}
		d.vulkanInitialized = true
	}

	if err := d.createInstance(); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	if err := d.selectPhysicalDevice(); err != nil {
		d.destroyInstance()
		return fmt.Errorf("select physical device: %w", err)
	}
	if err := d.createDevice(); err != nil {
		d.destroyInstance()
		return fmt.Errorf("create device: %w", err)
	}

	d.log.Info().Msg("vulkan device initialized")
	return nil
}

func (d *Device) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   "wayvidd\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "wayvid\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}

	extensions := []string{
		"VK_KHR_surface\x00",
		"VK_KHR_wayland_surface\x00",
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("vkCreateInstance failed: %d", res)
	}
	d.instance = instance
	vk.InitInstance(instance)
	return nil
}

// selectPhysicalDevice picks the first GPU exposing a graphics queue,
// grounded on VulkanBackend.selectPhysicalDevice's graphics-queue scan.
// Whether that queue family can present to a Wayland surface is not
// checked here.
func (d *Device) selectPhysicalDevice() error {
	var deviceCount uint32
	vk.EnumeratePhysicalDevices(d.instance, &deviceCount, nil)
	if deviceCount == 0 {
		return fmt.Errorf("no vulkan-capable gpus found")
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	vk.EnumeratePhysicalDevices(d.instance, &deviceCount, devices)

	for _, device := range devices {
		var queueFamilyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
		queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

		for i, qf := range queueFamilies {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
				continue
			}
			d.physicalDevice = device
			d.queueFamily = uint32(i)
			return nil
		}
	}

	return fmt.Errorf("no suitable gpu with a graphics queue found")
}

func (d *Device) createDevice() error {
	queuePriority := float32(1.0)
	queueCreateInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{queuePriority},
	}

	extensions := []string{"VK_KHR_swapchain\x00"}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       []vk.DeviceQueueCreateInfo{queueCreateInfo},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	var device vk.Device
	if res := vk.CreateDevice(d.physicalDevice, &deviceCreateInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("vkCreateDevice failed: %d", res)
	}
	d.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, d.queueFamily, 0, &queue)
	d.queue = queue
	return nil
}

func (d *Device) destroyInstance() {
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

func (d *Device) destroyDevice() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
}

func (d *Device) destroy() {
	d.destroyDevice()
	d.destroyInstance()
	d.log.Info().Msg("vulkan device torn down")
}
