// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package wgpu_engine

import (
	"fmt"

	"honnef.co/go/ptrace/renderer"
	"honnef.co/go/wgpu"
)

// Device is a headless WebGPU device and its queue.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	// Timestamps reports whether the device was created with timestamp query
	// support.
	Timestamps bool
}

// Acquire requests a high-performance adapter and creates a device on it.
// Timestamp queries are requested when the adapter offers them.
func Acquire() (*Device, error) {
	instance := wgpu.CreateInstance(wgpu.InstanceDescriptor{})
	adapter, err := instance.RequestAdapter(wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: no WebGPU adapter: %s", renderer.ErrCapability, err)
	}

	var features []wgpu.FeatureName
	timestamps := adapter.HasFeature(wgpu.FeatureNameTimestampQuery)
	if timestamps {
		features = append(features, wgpu.FeatureNameTimestampQuery)
	}
	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "ptrace",
		RequiredFeatures: features,
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: creating WebGPU device: %s", renderer.ErrCapability, err)
	}

	return &Device{
		instance:   instance,
		adapter:    adapter,
		Device:     dev,
		Queue:      dev.Queue(),
		Timestamps: timestamps,
	}, nil
}

func (d *Device) Release() {
	d.Queue.Release()
	d.Device.Release()
	d.adapter.Release()
	d.instance.Release()
}
