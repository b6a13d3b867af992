package ort

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// Function pointers resolved from the OrtApi table. Guarded by mu; callers
// snapshot the pointer under mu and invoke it while holding ortCallMu.RLock.
var (
	getVersionStringFunc func() uintptr
	getErrorCodeFunc     func(uintptr) int32
	getErrorMessageFunc  func(uintptr) uintptr
	releaseStatusFunc    func(uintptr)

	createEnvFunc  func(int32, uintptr, *uintptr) uintptr
	releaseEnvFunc func(uintptr)

	createMemoryInfoFunc  func(uintptr, AllocatorType, int32, MemType, *uintptr) uintptr
	releaseMemoryInfoFunc func(uintptr)

	createTensorWithDataAsOrtValueFunc func(uintptr, uintptr, uintptr, *int64, uintptr, TensorElementDataType, *uintptr) uintptr
	releaseValueFunc                   func(uintptr)
	getTensorMutableDataFunc           func(uintptr, *uintptr) uintptr
	getTensorTypeAndShapeFunc          func(uintptr, *uintptr) uintptr
	getTensorElementTypeFunc           func(uintptr, *int32) uintptr
	getDimensionsCountFunc             func(uintptr, *uintptr) uintptr
	getDimensionsFunc                  func(uintptr, *int64, uintptr) uintptr
	releaseTensorTypeAndShapeInfoFunc  func(uintptr)

	createSessionOptionsFunc        func(*uintptr) uintptr
	releaseSessionOptionsFunc       func(uintptr)
	setIntraOpNumThreadsFunc        func(uintptr, int32) uintptr
	setGraphOptimizationLevelFunc   func(uintptr, int32) uintptr
	registerCustomOpsLibraryFunc    func(uintptr, uintptr) uintptr
	createCUDAProviderOptionsFunc   func(*uintptr) uintptr
	updateCUDAProviderOptionsFunc   func(uintptr, *uintptr, *uintptr, uintptr) uintptr
	appendExecutionProviderCUDAFunc func(uintptr, uintptr) uintptr
	releaseCUDAProviderOptionsFunc  func(uintptr)
	getAvailableProvidersFunc       func(*uintptr, *int32) uintptr
	releaseAvailableProvidersFunc   func(uintptr, int32) uintptr

	createSessionFunc               func(uintptr, uintptr, uintptr, *uintptr) uintptr
	runSessionFunc                  func(uintptr, uintptr, *uintptr, *uintptr, uintptr, *uintptr, uintptr, *uintptr) uintptr
	releaseSessionFunc              func(uintptr)
	sessionGetInputCountFunc        func(uintptr, *uintptr) uintptr
	sessionGetOutputCountFunc       func(uintptr, *uintptr) uintptr
	sessionGetInputNameFunc         func(uintptr, uintptr, uintptr, *uintptr) uintptr
	sessionGetOutputNameFunc        func(uintptr, uintptr, uintptr, *uintptr) uintptr
	sessionGetInputTypeInfoFunc     func(uintptr, uintptr, *uintptr) uintptr
	sessionGetOutputTypeInfoFunc    func(uintptr, uintptr, *uintptr) uintptr
	getOnnxTypeFromTypeInfoFunc     func(uintptr, *int32) uintptr
	castTypeInfoToTensorInfoFunc    func(uintptr, *uintptr) uintptr
	releaseTypeInfoFunc             func(uintptr)
	getAllocatorWithDefaultOptsFunc func(*uintptr) uintptr
	allocatorFreeFunc               func(uintptr, uintptr) uintptr

	createIoBindingFunc      func(uintptr, *uintptr) uintptr
	releaseIoBindingFunc     func(uintptr)
	bindInputFunc            func(uintptr, uintptr, uintptr) uintptr
	bindOutputToDeviceFunc   func(uintptr, uintptr, uintptr) uintptr
	getBoundOutputValuesFunc func(uintptr, uintptr, *uintptr, *uintptr) uintptr
	clearBoundInputsFunc     func(uintptr)
	clearBoundOutputsFunc    func(uintptr)
	runWithBindingFunc       func(uintptr, uintptr, uintptr) uintptr
)

type apiBinding struct {
	name string
	addr uintptr
	fptr any
}

func apiBindings(api *OrtApi) []apiBinding {
	return []apiBinding{
		{"GetErrorCode", api.GetErrorCode, &getErrorCodeFunc},
		{"GetErrorMessage", api.GetErrorMessage, &getErrorMessageFunc},
		{"ReleaseStatus", api.ReleaseStatus, &releaseStatusFunc},
		{"CreateEnv", api.CreateEnv, &createEnvFunc},
		{"ReleaseEnv", api.ReleaseEnv, &releaseEnvFunc},
		{"CreateMemoryInfo", api.CreateMemoryInfo, &createMemoryInfoFunc},
		{"ReleaseMemoryInfo", api.ReleaseMemoryInfo, &releaseMemoryInfoFunc},
		{"CreateTensorWithDataAsOrtValue", api.CreateTensorWithDataAsOrtValue, &createTensorWithDataAsOrtValueFunc},
		{"ReleaseValue", api.ReleaseValue, &releaseValueFunc},
		{"GetTensorMutableData", api.GetTensorMutableData, &getTensorMutableDataFunc},
		{"GetTensorTypeAndShape", api.GetTensorTypeAndShape, &getTensorTypeAndShapeFunc},
		{"GetTensorElementType", api.GetTensorElementType, &getTensorElementTypeFunc},
		{"GetDimensionsCount", api.GetDimensionsCount, &getDimensionsCountFunc},
		{"GetDimensions", api.GetDimensions, &getDimensionsFunc},
		{"ReleaseTensorTypeAndShapeInfo", api.ReleaseTensorTypeAndShapeInfo, &releaseTensorTypeAndShapeInfoFunc},
		{"CreateSessionOptions", api.CreateSessionOptions, &createSessionOptionsFunc},
		{"ReleaseSessionOptions", api.ReleaseSessionOptions, &releaseSessionOptionsFunc},
		{"SetIntraOpNumThreads", api.SetIntraOpNumThreads, &setIntraOpNumThreadsFunc},
		{"SetSessionGraphOptimizationLevel", api.SetSessionGraphOptimizationLevel, &setGraphOptimizationLevelFunc},
		{"RegisterCustomOpsLibrary_V2", api.RegisterCustomOpsLibrary_V2, &registerCustomOpsLibraryFunc},
		{"CreateCUDAProviderOptions", api.CreateCUDAProviderOptions, &createCUDAProviderOptionsFunc},
		{"UpdateCUDAProviderOptions", api.UpdateCUDAProviderOptions, &updateCUDAProviderOptionsFunc},
		{"SessionOptionsAppendExecutionProvider_CUDA_V2", api.SessionOptionsAppendExecutionProvider_CUDA_V2, &appendExecutionProviderCUDAFunc},
		{"ReleaseCUDAProviderOptions", api.ReleaseCUDAProviderOptions, &releaseCUDAProviderOptionsFunc},
		{"GetAvailableProviders", api.GetAvailableProviders, &getAvailableProvidersFunc},
		{"ReleaseAvailableProviders", api.ReleaseAvailableProviders, &releaseAvailableProvidersFunc},
		{"CreateSession", api.CreateSession, &createSessionFunc},
		{"Run", api.Run, &runSessionFunc},
		{"ReleaseSession", api.ReleaseSession, &releaseSessionFunc},
		{"SessionGetInputCount", api.SessionGetInputCount, &sessionGetInputCountFunc},
		{"SessionGetOutputCount", api.SessionGetOutputCount, &sessionGetOutputCountFunc},
		{"SessionGetInputName", api.SessionGetInputName, &sessionGetInputNameFunc},
		{"SessionGetOutputName", api.SessionGetOutputName, &sessionGetOutputNameFunc},
		{"SessionGetInputTypeInfo", api.SessionGetInputTypeInfo, &sessionGetInputTypeInfoFunc},
		{"SessionGetOutputTypeInfo", api.SessionGetOutputTypeInfo, &sessionGetOutputTypeInfoFunc},
		{"GetOnnxTypeFromTypeInfo", api.GetOnnxTypeFromTypeInfo, &getOnnxTypeFromTypeInfoFunc},
		{"CastTypeInfoToTensorInfo", api.CastTypeInfoToTensorInfo, &castTypeInfoToTensorInfoFunc},
		{"ReleaseTypeInfo", api.ReleaseTypeInfo, &releaseTypeInfoFunc},
		{"GetAllocatorWithDefaultOptions", api.GetAllocatorWithDefaultOptions, &getAllocatorWithDefaultOptsFunc},
		{"AllocatorFree", api.AllocatorFree, &allocatorFreeFunc},
		{"CreateIoBinding", api.CreateIoBinding, &createIoBindingFunc},
		{"ReleaseIoBinding", api.ReleaseIoBinding, &releaseIoBindingFunc},
		{"BindInput", api.BindInput, &bindInputFunc},
		{"BindOutputToDevice", api.BindOutputToDevice, &bindOutputToDeviceFunc},
		{"GetBoundOutputValues", api.GetBoundOutputValues, &getBoundOutputValuesFunc},
		{"ClearBoundInputs", api.ClearBoundInputs, &clearBoundInputsFunc},
		{"ClearBoundOutputs", api.ClearBoundOutputs, &clearBoundOutputsFunc},
		{"RunWithBinding", api.RunWithBinding, &runWithBindingFunc},
	}
}

// bindAPIFunctions registers Go trampolines for every table entry we call.
// Caller must hold mu.
func bindAPIFunctions(api *OrtApi) error {
	bindings := apiBindings(api)
	for _, b := range bindings {
		if b.addr == 0 {
			return fmt.Errorf("ONNX Runtime API function %s is not available", b.name)
		}
	}
	for _, b := range bindings {
		purego.RegisterFunc(b.fptr, b.addr)
	}
	return nil
}

// clearAPIFunctions drops every resolved function pointer. Caller must hold mu.
func clearAPIFunctions() {
	getVersionStringFunc = nil
	getErrorCodeFunc = nil
	getErrorMessageFunc = nil
	releaseStatusFunc = nil

	createEnvFunc = nil
	releaseEnvFunc = nil

	createMemoryInfoFunc = nil
	releaseMemoryInfoFunc = nil

	createTensorWithDataAsOrtValueFunc = nil
	releaseValueFunc = nil
	getTensorMutableDataFunc = nil
	getTensorTypeAndShapeFunc = nil
	getTensorElementTypeFunc = nil
	getDimensionsCountFunc = nil
	getDimensionsFunc = nil
	releaseTensorTypeAndShapeInfoFunc = nil

	createSessionOptionsFunc = nil
	releaseSessionOptionsFunc = nil
	setIntraOpNumThreadsFunc = nil
	setGraphOptimizationLevelFunc = nil
	registerCustomOpsLibraryFunc = nil
	createCUDAProviderOptionsFunc = nil
	updateCUDAProviderOptionsFunc = nil
	appendExecutionProviderCUDAFunc = nil
	releaseCUDAProviderOptionsFunc = nil
	getAvailableProvidersFunc = nil
	releaseAvailableProvidersFunc = nil

	createSessionFunc = nil
	runSessionFunc = nil
	releaseSessionFunc = nil
	sessionGetInputCountFunc = nil
	sessionGetOutputCountFunc = nil
	sessionGetInputNameFunc = nil
	sessionGetOutputNameFunc = nil
	sessionGetInputTypeInfoFunc = nil
	sessionGetOutputTypeInfoFunc = nil
	getOnnxTypeFromTypeInfoFunc = nil
	castTypeInfoToTensorInfoFunc = nil
	releaseTypeInfoFunc = nil
	getAllocatorWithDefaultOptsFunc = nil
	allocatorFreeFunc = nil

	createIoBindingFunc = nil
	releaseIoBindingFunc = nil
	bindInputFunc = nil
	bindOutputToDeviceFunc = nil
	getBoundOutputValuesFunc = nil
	clearBoundInputsFunc = nil
	clearBoundOutputsFunc = nil
	runWithBindingFunc = nil
}
