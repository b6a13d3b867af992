package ort

// OrtApiBase represents the base API structure
type OrtApiBase struct {
	GetApi           uintptr
	GetVersionString uintptr
}

// OrtApi mirrors the leading part of the ONNX Runtime C API function table.
// Field order must match struct OrtApi in onnxruntime_c_api.h exactly; only the
// prefix up to RegisterCustomOpsLibrary_V2 is declared, which every API version
// accepted by InitializeEnvironment provides.
type OrtApi struct {
	CreateStatus    uintptr
	GetErrorCode    uintptr
	GetErrorMessage uintptr

	CreateEnv                 uintptr
	CreateEnvWithCustomLogger uintptr
	EnableTelemetryEvents     uintptr
	DisableTelemetryEvents    uintptr

	CreateSession          uintptr
	CreateSessionFromArray uintptr
	Run                    uintptr

	CreateSessionOptions             uintptr
	SetOptimizedModelFilePath        uintptr
	CloneSessionOptions              uintptr
	SetSessionExecutionMode          uintptr
	EnableProfiling                  uintptr
	DisableProfiling                 uintptr
	EnableMemPattern                 uintptr
	DisableMemPattern                uintptr
	EnableCpuMemArena                uintptr
	DisableCpuMemArena               uintptr
	SetSessionLogId                  uintptr
	SetSessionLogVerbosityLevel      uintptr
	SetSessionLogSeverityLevel       uintptr
	SetSessionGraphOptimizationLevel uintptr
	SetIntraOpNumThreads             uintptr
	SetInterOpNumThreads             uintptr

	CreateCustomOpDomain     uintptr
	CustomOpDomain_Add       uintptr
	AddCustomOpDomain        uintptr
	RegisterCustomOpsLibrary uintptr

	SessionGetInputCount                     uintptr
	SessionGetOutputCount                    uintptr
	SessionGetOverridableInitializerCount    uintptr
	SessionGetInputTypeInfo                  uintptr
	SessionGetOutputTypeInfo                 uintptr
	SessionGetOverridableInitializerTypeInfo uintptr
	SessionGetInputName                      uintptr
	SessionGetOutputName                     uintptr
	SessionGetOverridableInitializerName     uintptr

	CreateRunOptions                  uintptr
	RunOptionsSetRunLogVerbosityLevel uintptr
	RunOptionsSetRunLogSeverityLevel  uintptr
	RunOptionsSetRunTag               uintptr
	RunOptionsGetRunLogVerbosityLevel uintptr
	RunOptionsGetRunLogSeverityLevel  uintptr
	RunOptionsGetRunTag               uintptr
	RunOptionsSetTerminate            uintptr
	RunOptionsUnsetTerminate          uintptr

	CreateTensorAsOrtValue         uintptr
	CreateTensorWithDataAsOrtValue uintptr
	IsTensor                       uintptr
	GetTensorMutableData           uintptr

	FillStringTensor          uintptr
	GetStringTensorDataLength uintptr
	GetStringTensorContent    uintptr

	CastTypeInfoToTensorInfo     uintptr
	GetOnnxTypeFromTypeInfo      uintptr
	CreateTensorTypeAndShapeInfo uintptr
	SetTensorElementType         uintptr

	SetDimensions              uintptr
	GetTensorElementType       uintptr
	GetDimensionsCount         uintptr
	GetDimensions              uintptr
	GetSymbolicDimensions      uintptr
	GetTensorShapeElementCount uintptr
	GetTensorTypeAndShape      uintptr
	GetTypeInfo                uintptr
	GetValueType               uintptr
	CreateMemoryInfo           uintptr
	CreateCpuMemoryInfo        uintptr
	CompareMemoryInfo          uintptr
	MemoryInfoGetName          uintptr
	MemoryInfoGetId            uintptr
	MemoryInfoGetMemType       uintptr
	MemoryInfoGetType          uintptr

	AllocatorAlloc                 uintptr
	AllocatorFree                  uintptr
	AllocatorGetInfo               uintptr
	GetAllocatorWithDefaultOptions uintptr
	AddFreeDimensionOverride       uintptr
	GetValue                       uintptr
	GetValueCount                  uintptr
	CreateValue                    uintptr
	CreateOpaqueValue              uintptr
	GetOpaqueValue                 uintptr

	KernelInfoGetAttribute_float  uintptr
	KernelInfoGetAttribute_int64  uintptr
	KernelInfoGetAttribute_string uintptr
	KernelContext_GetInputCount   uintptr
	KernelContext_GetOutputCount  uintptr
	KernelContext_GetInput        uintptr
	KernelContext_GetOutput       uintptr

	ReleaseEnv                    uintptr
	ReleaseStatus                 uintptr
	ReleaseMemoryInfo             uintptr
	ReleaseSession                uintptr
	ReleaseValue                  uintptr
	ReleaseRunOptions             uintptr
	ReleaseTypeInfo               uintptr
	ReleaseTensorTypeAndShapeInfo uintptr
	ReleaseSessionOptions         uintptr
	ReleaseCustomOpDomain         uintptr

	GetDenotationFromTypeInfo      uintptr
	CastTypeInfoToMapTypeInfo      uintptr
	CastTypeInfoToSequenceTypeInfo uintptr
	GetMapKeyType                  uintptr
	GetMapValueType                uintptr
	GetSequenceElementType         uintptr
	ReleaseMapTypeInfo             uintptr
	ReleaseSequenceTypeInfo        uintptr

	SessionEndProfiling                  uintptr
	SessionGetModelMetadata              uintptr
	ModelMetadataGetProducerName         uintptr
	ModelMetadataGetGraphName            uintptr
	ModelMetadataGetDomain               uintptr
	ModelMetadataGetDescription          uintptr
	ModelMetadataLookupCustomMetadataMap uintptr
	ModelMetadataGetVersion              uintptr
	ReleaseModelMetadata                 uintptr

	CreateEnvWithGlobalThreadPools                    uintptr
	DisablePerSessionThreads                          uintptr
	CreateThreadingOptions                            uintptr
	ReleaseThreadingOptions                           uintptr
	ModelMetadataGetCustomMetadataMapKeys             uintptr
	AddFreeDimensionOverrideByName                    uintptr
	GetAvailableProviders                             uintptr
	ReleaseAvailableProviders                         uintptr
	GetStringTensorElementLength                      uintptr
	GetStringTensorElement                            uintptr
	FillStringTensorElement                           uintptr
	AddSessionConfigEntry                             uintptr
	CreateAllocator                                   uintptr
	ReleaseAllocator                                  uintptr
	RunWithBinding                                    uintptr
	CreateIoBinding                                   uintptr
	ReleaseIoBinding                                  uintptr
	BindInput                                         uintptr
	BindOutput                                        uintptr
	BindOutputToDevice                                uintptr
	GetBoundOutputNames                               uintptr
	GetBoundOutputValues                              uintptr
	ClearBoundInputs                                  uintptr
	ClearBoundOutputs                                 uintptr
	TensorAt                                          uintptr
	CreateAndRegisterAllocator                        uintptr
	SetLanguageProjection                             uintptr
	SessionGetProfilingStartTimeNs                    uintptr
	SetGlobalIntraOpNumThreads                        uintptr
	SetGlobalInterOpNumThreads                        uintptr
	SetGlobalSpinControl                              uintptr
	AddInitializer                                    uintptr
	CreateEnvWithCustomLoggerAndGlobalTPs             uintptr
	SessionOptionsAppendExecutionProvider_CUDA        uintptr
	SessionOptionsAppendExecutionProvider_ROCM        uintptr
	SessionOptionsAppendExecutionProvider_OpenVINO    uintptr
	SetGlobalDenormalAsZero                           uintptr
	CreateArenaCfg                                    uintptr
	ReleaseArenaCfg                                   uintptr
	ModelMetadataGetGraphDescription                  uintptr
	SessionOptionsAppendExecutionProvider_TensorRT    uintptr
	SetCurrentGpuDeviceId                             uintptr
	GetCurrentGpuDeviceId                             uintptr
	KernelInfoGetAttributeArray_float                 uintptr
	KernelInfoGetAttributeArray_int64                 uintptr
	CreateArenaCfgV2                                  uintptr
	AddRunConfigEntry                                 uintptr
	CreatePrepackedWeightsContainer                   uintptr
	ReleasePrepackedWeightsContainer                  uintptr
	CreateSessionWithPrepackedWeights                 uintptr
	CreateSessionFromArrayWithPrepacked               uintptr
	SessionOptionsAppendExecutionProvider_TensorRT_V2 uintptr
	CreateTensorRTProviderOptions                     uintptr
	UpdateTensorRTProviderOptions                     uintptr
	GetTensorRTProviderOptionsAsString                uintptr
	ReleaseTensorRTProviderOptions                    uintptr
	EnableOrtCustomOps                                uintptr
	RegisterAllocator                                 uintptr
	UnregisterAllocator                               uintptr
	IsSparseTensor                                    uintptr
	CreateSparseTensorAsOrtValue                      uintptr
	FillSparseTensorCoo                               uintptr
	FillSparseTensorCsr                               uintptr
	FillSparseTensorBlockSparse                       uintptr
	CreateSparseTensorWithValuesAsOrtValue            uintptr
	UseCooIndices                                     uintptr
	UseCsrIndices                                     uintptr
	UseBlockSparseIndices                             uintptr
	GetSparseTensorFormat                             uintptr
	GetSparseTensorValuesTypeAndShape                 uintptr
	GetSparseTensorValues                             uintptr
	GetSparseTensorIndicesTypeShape                   uintptr
	GetSparseTensorIndices                            uintptr
	HasValue                                          uintptr
	KernelContext_GetGPUComputeStream                 uintptr
	GetTensorMemoryInfo                               uintptr
	GetExecutionProviderApi                           uintptr
	SessionOptionsSetCustomCreateThreadFn             uintptr
	SessionOptionsSetCustomThreadCreation             uintptr
	SessionOptionsSetCustomJoinThreadFn               uintptr
	SetGlobalCustomCreateThreadFn                     uintptr
	SetGlobalCustomThreadCreationOptions              uintptr
	SetGlobalCustomJoinThreadFn                       uintptr
	SynchronizeBoundInputs                            uintptr
	SynchronizeBoundOutputs                           uintptr
	SessionOptionsAppendExecutionProvider_CUDA_V2     uintptr
	CreateCUDAProviderOptions                         uintptr
	UpdateCUDAProviderOptions                         uintptr
	GetCUDAProviderOptionsAsString                    uintptr
	ReleaseCUDAProviderOptions                        uintptr
	SessionOptionsAppendExecutionProvider_MIGraphX    uintptr
	AddExternalInitializers                           uintptr
	CreateOpAttr                                      uintptr
	ReleaseOpAttr                                     uintptr
	CreateOp                                          uintptr
	InvokeOp                                          uintptr
	ReleaseOp                                         uintptr
	SessionOptionsAppendExecutionProvider             uintptr
	CopyKernelInfo                                    uintptr
	ReleaseKernelInfo                                 uintptr
	GetTrainingApi                                    uintptr
	SessionOptionsAppendExecutionProvider_CANN        uintptr
	CreateCANNProviderOptions                         uintptr
	UpdateCANNProviderOptions                         uintptr
	GetCANNProviderOptionsAsString                    uintptr
	ReleaseCANNProviderOptions                        uintptr
	MemoryInfoGetDeviceType                           uintptr
	UpdateEnvWithCustomLogLevel                       uintptr
	SetGlobalIntraOpThreadAffinity                    uintptr
	RegisterCustomOpsLibrary_V2                       uintptr
}

// Value represents an ONNX Runtime value (tensor, sequence, map, etc.)
type Value interface {
	// Destroy releases the underlying resources
	Destroy() error
	// Type returns the type of the value
	Type() ValueType
}

// ortValue is implemented by every Value backed by an OrtValue handle.
type ortValue interface {
	ortValueHandle() uintptr
}

// ValueType represents the type of an ONNX Runtime value
type ValueType int

const (
	ValueTypeUnknown ValueType = iota
	ValueTypeTensor
	ValueTypeSequence
	ValueTypeMap
	ValueTypeOpaque
	ValueTypeOptional
)

// TensorInfo describes a declared model input or output.
// Dynamic dimensions are reported as -1.
type TensorInfo struct {
	Name        string
	ElementType TensorElementDataType
	Shape       Shape
}
