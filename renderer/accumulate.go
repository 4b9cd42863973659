// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import "fmt"

// Strategy selects how the accumulation image is bound for reading and
// writing.
type Strategy int

const (
	// StrategyAuto uses StrategyInPlace if the engine supports image
	// aliasing and StrategyPingPong otherwise.
	StrategyAuto Strategy = iota
	// StrategyInPlace binds a single image to both the read and the write
	// unit. Every invocation reads its own texel before writing it.
	StrategyInPlace
	// StrategyPingPong alternates between two images: iteration k reads image
	// k%2 and writes image (k+1)%2.
	StrategyPingPong
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyInPlace:
		return "in-place"
	case StrategyPingPong:
		return "ping-pong"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Accumulator maps frame indices to the images a path tracing dispatch reads
// and writes.
type Accumulator struct {
	strategy Strategy
	images   [2]ImageProxy
}

// NewAccumulator returns an accumulator for images. StrategyInPlace needs one
// image, StrategyPingPong two.
func NewAccumulator(strategy Strategy, images ...ImageProxy) *Accumulator {
	acc := &Accumulator{strategy: strategy}
	switch strategy {
	case StrategyInPlace:
		if len(images) != 1 {
			panic(fmt.Sprintf("in-place accumulation needs 1 image, got %d", len(images)))
		}
		acc.images = [2]ImageProxy{images[0], images[0]}
	case StrategyPingPong:
		if len(images) != 2 {
			panic(fmt.Sprintf("ping-pong accumulation needs 2 images, got %d", len(images)))
		}
		acc.images = [2]ImageProxy{images[0], images[1]}
	default:
		panic(fmt.Sprintf("unresolved strategy %s", strategy))
	}
	return acc
}

func (acc *Accumulator) Strategy() Strategy { return acc.strategy }

// Bindings returns the images iteration k reads from and writes to.
func (acc *Accumulator) Bindings(k uint32) (read, write ImageProxy) {
	return acc.images[k%2], acc.images[(k+1)%2]
}

// Latest returns the image holding the estimate after k completed
// iterations. Its contents are undefined for k == 0.
func (acc *Accumulator) Latest(k uint32) ImageProxy {
	return acc.images[k%2]
}

// BlendWeight is the weight of the new sample in iteration k.
func BlendWeight(k uint32) float32 {
	return 1 / (float32(k) + 1)
}

// Blend folds sample into the average old of k previous samples. For k == 0,
// old is undefined and ignored.
func Blend(old, sample float32, k uint32) float32 {
	if k == 0 {
		return sample
	}
	fk := float32(k)
	return (old*fk + sample) / (fk + 1)
}

// resolveStrategy picks the strategy for an engine with the given
// capabilities.
func resolveStrategy(s Strategy, caps Capabilities) (Strategy, error) {
	switch s {
	case StrategyAuto:
		if caps.ImageAliasing {
			return StrategyInPlace, nil
		}
		return StrategyPingPong, nil
	case StrategyInPlace:
		if !caps.ImageAliasing {
			return 0, fmt.Errorf("%w: in-place accumulation needs image aliasing", ErrCapability)
		}
		return s, nil
	case StrategyPingPong:
		return s, nil
	default:
		return 0, fmt.Errorf("unknown strategy %d", int(s))
	}
}
