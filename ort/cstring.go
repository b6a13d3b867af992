package ort

import "unsafe"

// Strings handed back by ONNX Runtime (versions, error messages, names) are
// short; anything longer is treated as unterminated.
const maxCStringLen = 1 << 20

// Addresses in the first page are never valid C strings.
const minCStringAddr = 4096

// CstringToGo copies the NUL-terminated string at ptr. Null and
// obviously invalid pointers yield "".
func CstringToGo(ptr uintptr) string {
	if ptr < minCStringAddr {
		return ""
	}
	// #nosec G103 -- ptr is a char* returned by ONNX Runtime.
	base := unsafe.Pointer(ptr) //nolint:govet
	n := 0
	for n < maxCStringLen && *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(base), n))
}

// GoToCstring returns a NUL-terminated copy of s and the address of its first
// byte. The slice must stay reachable for as long as C code may read the pointer.
func GoToCstring(s string) ([]byte, uintptr) {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b, uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// makeCStringPointerArray converts values to C strings and returns the
// backing slices with an array of their addresses, for char** parameters.
// Both results must stay reachable for the duration of the call.
func makeCStringPointerArray(values []string) ([][]byte, []uintptr) {
	if len(values) == 0 {
		return nil, nil
	}
	backings := make([][]byte, len(values))
	ptrs := make([]uintptr, len(values))
	for i, v := range values {
		backings[i], ptrs[i] = GoToCstring(v)
	}
	return backings, ptrs
}
