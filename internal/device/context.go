package device

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arsalan-anwari/tether-io/internal/config"
	"github.com/arsalan-anwari/tether-io/internal/metrics"
	"github.com/arsalan-anwari/tether-io/internal/types"
)

// Context is the driver-polymorphic compute context. It forwards every
// operation to the active driver unchanged, wraps errors with call context
// and records transfer metrics. A failed operation leaves the context
// usable; Exit is terminal.
type Context struct {
	driver Driver
	kind   types.DeviceDriver
	log    *zap.Logger

	liveBuffers int64
}

// NewContext wraps an explicit driver instance.
func NewContext(driver Driver, kind types.DeviceDriver, log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{driver: driver, kind: kind, log: log.Named(kind.String())}
}

// New constructs a context over the registered driver for kind.
func New(kind types.DeviceDriver, log *zap.Logger) (*Context, error) {
	driver, err := NewDriver(kind)
	if err != nil {
		return nil, err
	}
	return NewContext(driver, kind, log), nil
}

// DriverKind reports which driver backs this context.
func (c *Context) DriverKind() types.DeviceDriver {
	return c.kind
}

func (c *Context) Init(ver types.Version, appName string) error {
	c.log.Debug("init", zap.Stringer("version", ver), zap.String("app", appName))
	if err := c.driver.Init(ver, appName); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return nil
}

func (c *Context) SetDevice(sel types.DeviceSelect) error {
	c.log.Debug("set device", zap.Stringer("selector", sel))
	if err := c.driver.SetDevice(sel); err != nil {
		return fmt.Errorf("set device: %w", err)
	}
	return nil
}

func (c *Context) Allocate(sizeBytes uintptr, method types.AllocMethod) (Buffer, error) {
	buf, err := c.driver.Allocate(sizeBytes, method)
	if err != nil {
		return Buffer{}, fmt.Errorf("allocate %d bytes: %w", sizeBytes, err)
	}
	c.liveBuffers++
	metrics.DeviceBuffersLive.Inc()
	c.log.Debug("allocated buffer", zap.Uint64("id", uint64(buf.ID)), zap.Uint64("bytes", uint64(buf.Size)))
	return buf, nil
}

func (c *Context) Upload(dst Buffer, src []byte, method types.UploadMethod) error {
	if err := c.driver.Upload(dst, src, method); err != nil {
		return fmt.Errorf("upload %d bytes: %w", len(src), err)
	}
	metrics.DeviceBytesUploaded.Add(float64(len(src)))
	return nil
}

func (c *Context) Download(dst []byte, src Buffer, method types.DownloadMethod) error {
	if err := c.driver.Download(dst, src, method); err != nil {
		return fmt.Errorf("download %d bytes: %w", len(dst), err)
	}
	metrics.DeviceBytesDownloaded.Add(float64(len(dst)))
	return nil
}

func (c *Context) RegisterKernel(cfg config.KernelConfig, workgroup types.Vec3, buffers []Buffer) (Kernel, error) {
	task, err := c.driver.RegisterKernel(cfg, workgroup, buffers)
	if err != nil {
		return Kernel{}, fmt.Errorf("register kernel %q: %w", cfg.Name, err)
	}
	c.log.Debug("registered kernel",
		zap.String("kernel", cfg.Name),
		zap.Stringer("workgroup", workgroup),
		zap.Int("buffers", len(buffers)))
	return task, nil
}

func (c *Context) LaunchKernel(task Kernel, grid types.Vec3, buffers []Buffer, method types.LaunchMethod, params []byte) error {
	if err := c.driver.LaunchKernel(task, grid, buffers, method, params); err != nil {
		return fmt.Errorf("launch kernel: %w", err)
	}
	c.log.Debug("submitted kernel", zap.Uint64("id", uint64(task.ID)), zap.Stringer("grid", grid))
	return nil
}

func (c *Context) WaitForKernel(task Kernel, timeout time.Duration) error {
	start := time.Now()
	err := c.driver.WaitForKernel(task, timeout)
	metrics.KernelWaitDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		return fmt.Errorf("wait for kernel: %w", err)
	}
	return nil
}

func (c *Context) WaitForLastKernel(timeout time.Duration) error {
	start := time.Now()
	err := c.driver.WaitForLastKernel(timeout)
	metrics.KernelWaitDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	if err != nil {
		return fmt.Errorf("wait for last kernel: %w", err)
	}
	return nil
}

func (c *Context) DestroyKernel(task Kernel) error {
	if err := c.driver.DestroyKernel(task); err != nil {
		return fmt.Errorf("destroy kernel: %w", err)
	}
	return nil
}

func (c *Context) Limits() (Limits, error) {
	limits, err := c.driver.Limits()
	if err != nil {
		return Limits{}, fmt.Errorf("limits: %w", err)
	}
	return limits, nil
}

func (c *Context) Exit() error {
	c.log.Debug("exit")
	if err := c.driver.Exit(); err != nil {
		return fmt.Errorf("exit: %w", err)
	}
	metrics.DeviceBuffersLive.Sub(float64(c.liveBuffers))
	c.liveBuffers = 0
	return nil
}
