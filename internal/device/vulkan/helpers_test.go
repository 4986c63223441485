package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"

	"github.com/arsalan-anwari/tether-io/internal/types"
)

const (
	hostVisible  = uint32(vk.MemoryPropertyHostVisibleBit)
	hostCoherent = uint32(vk.MemoryPropertyHostCoherentBit)
	deviceLocal  = uint32(vk.MemoryPropertyDeviceLocalBit)
)

func TestPickMemoryType(t *testing.T) {
	testCases := []struct {
		name     string
		typeBits uint32
		flags    []uint32
		want     uint32
		expected int
	}{
		{
			name:     "first matching type wins",
			typeBits: 0b111,
			flags:    []uint32{deviceLocal, hostVisible | hostCoherent, hostVisible | hostCoherent},
			want:     hostVisible | hostCoherent,
			expected: 1,
		},
		{
			name:     "type bits filter candidates",
			typeBits: 0b100,
			flags:    []uint32{hostVisible | hostCoherent, hostVisible | hostCoherent, hostVisible | hostCoherent},
			want:     hostVisible | hostCoherent,
			expected: 2,
		},
		{
			name:     "superset of requested flags is accepted",
			typeBits: 0b1,
			flags:    []uint32{hostVisible | hostCoherent | deviceLocal},
			want:     hostVisible | hostCoherent,
			expected: 0,
		},
		{
			name:     "partial flag match is rejected",
			typeBits: 0b11,
			flags:    []uint32{hostVisible, hostCoherent},
			want:     hostVisible | hostCoherent,
			expected: -1,
		},
		{
			name:     "no candidates",
			typeBits: 0,
			flags:    []uint32{hostVisible | hostCoherent},
			want:     hostVisible | hostCoherent,
			expected: -1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, pickMemoryType(tc.typeBits, tc.flags, tc.want))
		})
	}
}

func TestPickDevice(t *testing.T) {
	discrete := candidate{deviceType: vk.PhysicalDeviceTypeDiscreteGpu, computeFamily: 0}
	integrated := candidate{deviceType: vk.PhysicalDeviceTypeIntegratedGpu, computeFamily: 1}
	noCompute := candidate{deviceType: vk.PhysicalDeviceTypeDiscreteGpu, computeFamily: -1}

	testCases := []struct {
		name       string
		candidates []candidate
		sel        types.DeviceSelect
		expected   int
	}{
		{"first compute capable skips non-compute", []candidate{noCompute, integrated, discrete}, types.FirstComputeCapable, 1},
		{"discrete filter", []candidate{integrated, discrete}, types.Discrete, 1},
		{"integrated filter", []candidate{discrete, integrated}, types.Integrated, 1},
		{"no match", []candidate{noCompute}, types.FirstComputeCapable, -1},
		{"discrete requested but absent", []candidate{integrated}, types.Discrete, -1},
		{"first available", []candidate{discrete, integrated}, types.FirstAvailable, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, pickDevice(tc.candidates, tc.sel))
		})
	}
}

func TestUnwindRunsInReverseOrder(t *testing.T) {
	var order []int
	u := newUnwind()
	u.push(func() { order = append(order, 1) })
	u.push(func() { order = append(order, 2) })
	u.push(func() { order = append(order, 3) })

	u.run()
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestUnwindDisarmed(t *testing.T) {
	ran := false
	u := newUnwind()
	u.push(func() { ran = true })
	u.disarm()

	u.run()
	assert.False(t, ran)
}

func TestStateMachineBeforeInit(t *testing.T) {
	d := New()

	_, err := d.Allocate(16, types.AllocBase)
	assert.ErrorIs(t, err, types.ErrNotAvailable)

	err = d.SetDevice(types.FirstComputeCapable)
	assert.ErrorIs(t, err, types.ErrNotAvailable)

	_, err = d.Limits()
	assert.ErrorIs(t, err, types.ErrNotAvailable)

	// Teardown of an untouched driver is a no-op.
	assert.NoError(t, d.Exit())
	assert.NoError(t, d.Exit())
}
