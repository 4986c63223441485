package types

import "errors"

// File errors.
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrCouldNotParseFile = errors.New("could not parse file")
)

// Document errors reported by the configuration loader.
var (
	ErrInvalidFormat    = errors.New("invalid document format")
	ErrKeyNotFound      = errors.New("required key not found")
	ErrInvalidValueType = errors.New("invalid value type")
)

// Device errors. Every fallible context and driver operation returns one of
// these, possibly wrapped with call-site detail; match with errors.Is.
var (
	ErrInitFailed                   = errors.New("device initialisation failed")
	ErrCouldNotCreateInstance       = errors.New("could not create instance")
	ErrNoAvailableDevices           = errors.New("no available devices")
	ErrCouldNotCreateSelectedDevice = errors.New("could not create selected device")
	ErrNotAvailable                 = errors.New("operation not available")
	ErrAllocFailed                  = errors.New("device memory allocation failed")
	ErrCouldNotCreateBuffer         = errors.New("could not create buffer")
	ErrUploadFailed                 = errors.New("upload to device failed")
	ErrDownloadFailed               = errors.New("download from device failed")
	ErrLaunchFailed                 = errors.New("kernel launch failed")
	ErrCouldNotCompileShader        = errors.New("could not compile shader")
	ErrShaderVersionNotSupported    = errors.New("shader version or type not supported")
	ErrCouldNotUpdateDescriptors    = errors.New("could not update descriptors")
	ErrCouldNotUpdatePipeline       = errors.New("could not update pipeline")
	ErrCouldNotUpdateKernelModule   = errors.New("could not update kernel module")
	ErrCouldNotCreatePipeline       = errors.New("could not create pipeline")
	ErrCouldNotRegisterKernel       = errors.New("could not register kernel")
	ErrCouldNotDispatchKernel       = errors.New("could not dispatch kernel to command buffer")
	ErrKernelTimeout                = errors.New("kernel timeout reached")
)
