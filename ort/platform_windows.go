//go:build windows

package ort

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func loadLibrary(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, err
	}
	return uintptr(h), nil
}

func getSymbol(lib uintptr, name string) (uintptr, error) {
	proc, err := windows.GetProcAddress(windows.Handle(lib), name)
	if err != nil {
		return 0, fmt.Errorf("symbol %s: %w", name, err)
	}
	return uintptr(unsafe.Pointer(proc)), nil
}

func closeLibrary(lib uintptr) error {
	if lib == 0 {
		return nil
	}
	return windows.FreeLibrary(windows.Handle(lib))
}

// goStringToORTChar returns s as the wchar_t* ORTCHAR_T expects on Windows,
// plus the backing memory the caller must keep alive.
func goStringToORTChar(s string) (uintptr, any, error) {
	wide, err := windows.UTF16FromString(s)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to convert path to UTF-16: %w", err)
	}
	// #nosec G103 -- wide is returned to the caller, which keeps it alive across the call.
	return uintptr(unsafe.Pointer(unsafe.SliceData(wide))), wide, nil
}

func tryLockFile(f *os.File) error {
	var ol windows.Overlapped
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	return windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, &ol)
}

func unlockFile(f *os.File) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, &ol)
}

func isLockWouldBlock(err error) bool {
	return errors.Is(err, windows.ERROR_LOCK_VIOLATION) || errors.Is(err, windows.ERROR_SHARING_VIOLATION)
}
