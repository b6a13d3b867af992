package inference

import (
	"fmt"
	"strconv"

	"github.com/amikos-tech/ort-forward/ort"
)

// DeviceKind tells host memory apart from accelerator memory.
type DeviceKind int

const (
	DeviceHost DeviceKind = iota
	DeviceAccelerator
)

// Device is where an adapter executes or where a tensor's buffer lives.
// Index is meaningful only for DeviceAccelerator.
type Device struct {
	Kind  DeviceKind
	Index int
}

// HostDevice returns the host (CPU) device.
func HostDevice() Device { return Device{Kind: DeviceHost} }

// AcceleratorDevice returns the CUDA device with the given index.
func AcceleratorDevice(index int) Device { return Device{Kind: DeviceAccelerator, Index: index} }

// IsHost reports whether d is host memory.
func (d Device) IsHost() bool { return d.Kind == DeviceHost }

func (d Device) String() string {
	if d.IsHost() {
		return "cpu"
	}
	return fmt.Sprintf("cuda:%d", d.Index)
}

// ProviderSpec is one entry of the ordered execution provider list a session
// is created with.
type ProviderSpec struct {
	Name    string
	Options map[string]string
}

func cloneProviders(providers []ProviderSpec) []ProviderSpec {
	out := make([]ProviderSpec, len(providers))
	for i, p := range providers {
		out[i] = ProviderSpec{Name: p.Name}
		if p.Options != nil {
			out[i].Options = make(map[string]string, len(p.Options))
			for k, v := range p.Options {
				out[i].Options[k] = v
			}
		}
	}
	return out
}

func providerNames(providers []ProviderSpec) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	return names
}

// selectDevice picks the accelerator when deviceID is non-negative and the
// runtime offers CUDA, and the host otherwise. The CPU provider is always last.
func selectDevice(deviceID int, available []string) (Device, []ProviderSpec) {
	cpu := ProviderSpec{Name: ort.CPUExecutionProvider}
	if deviceID < 0 || !contains(available, ort.CUDAExecutionProvider) {
		return HostDevice(), []ProviderSpec{cpu}
	}
	cuda := ProviderSpec{
		Name:    ort.CUDAExecutionProvider,
		Options: map[string]string{"device_id": strconv.Itoa(deviceID)},
	}
	return AcceleratorDevice(deviceID), []ProviderSpec{cuda, cpu}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
