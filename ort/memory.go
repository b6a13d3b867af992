package ort

import (
	"runtime"
)

// MemoryLocation names an allocator and the device its memory lives on.
type MemoryLocation struct {
	Name      string
	Allocator AllocatorType
	DeviceID  int
	MemType   MemType
}

// MemoryInfo is an OrtMemoryInfo handle. Tensors created over caller-owned
// buffers use it to tell the runtime where the buffer lives.
type MemoryInfo struct {
	handle   uintptr
	location MemoryLocation
}

// CreateMemoryInfo wraps OrtApi::CreateMemoryInfo.
func CreateMemoryInfo(name string, allocatorType AllocatorType, deviceID int, memType MemType) (*MemoryInfo, error) {
	loc := MemoryLocation{Name: name, Allocator: allocatorType, DeviceID: deviceID, MemType: memType}

	ortCallMu.RLock()
	defer ortCallMu.RUnlock()

	mu.Lock()
	create := createMemoryInfoFunc
	mu.Unlock()
	if create == nil {
		return nil, ErrNotInitialized
	}

	cname, cnamePtr := GoToCstring(loc.Name)
	info := &MemoryInfo{location: loc}
	// #nosec G115 -- device ordinals are small; the runtime rejects invalid ones.
	status := create(cnamePtr, loc.Allocator, int32(loc.DeviceID), loc.MemType, &info.handle)
	runtime.KeepAlive(cname)
	if err := statusError("create memory info", status); err != nil {
		return nil, err
	}

	runtime.SetFinalizer(info, func(m *MemoryInfo) {
		_ = m.Destroy()
	})
	return info, nil
}

// CreateCpuMemoryInfo describes host memory.
func CreateCpuMemoryInfo(allocatorType AllocatorType, memType MemType) (*MemoryInfo, error) {
	return CreateMemoryInfo(MemoryInfoNameCPU, allocatorType, 0, memType)
}

// CreateCUDAMemoryInfo describes device memory on the given CUDA device.
func CreateCUDAMemoryInfo(deviceID int) (*MemoryInfo, error) {
	return CreateMemoryInfo(MemoryInfoNameCUDA, AllocatorTypeDevice, deviceID, MemTypeDefault)
}

// Location reports the parameters the memory info was created with.
func (m *MemoryInfo) Location() MemoryLocation {
	if m == nil {
		return MemoryLocation{}
	}
	return m.location
}

// IsValid reports whether m still holds a runtime handle.
func (m *MemoryInfo) IsValid() bool {
	return m.ortHandle() != 0
}

// Destroy releases the handle. Later calls are no-ops.
func (m *MemoryInfo) Destroy() error {
	if m == nil {
		return nil
	}

	ortCallMu.Lock()
	defer ortCallMu.Unlock()

	mu.Lock()
	h, release := m.handle, releaseMemoryInfoFunc
	m.handle = 0
	runtime.SetFinalizer(m, nil)
	mu.Unlock()

	if h != 0 && release != nil {
		release(h)
	}
	return nil
}

func (m *MemoryInfo) ortHandle() uintptr {
	if m == nil {
		return 0
	}
	mu.Lock()
	defer mu.Unlock()
	return m.handle
}
