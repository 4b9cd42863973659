// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package scene

// The walls are spheres large enough to look flat from inside the box.
const wall = 1e5

// CornellBox returns the fixed scene rendered by the program: five walls and a
// floor, a mirror ball, a glass ball and a spherical area light.
func CornellBox() *Scene {
	grey := Vec3{.75, .75, .75}
	white := Vec3{.999, .999, .999}
	return New(
		NewSphere(Vec3{-wall - 2.6, 0, 0}, wall, Vec3{}, Vec3{0, 91.0 / 255, 172.0 / 255}, Diffuse), // left
		NewSphere(Vec3{wall + 2.6, 0, 0}, wall, Vec3{}, Vec3{139.0 / 255, 0, 18.0 / 255}, Diffuse),  // right
		NewSphere(Vec3{0, wall + 2, 0}, wall, Vec3{}, grey, Diffuse),                                // top
		NewSphere(Vec3{0, -wall - 2, 0}, wall, Vec3{}, grey, Diffuse),                               // bottom
		NewSphere(Vec3{0, 0, -wall - 2.8}, wall, Vec3{}, grey, Diffuse),                             // back
		NewSphere(Vec3{0, 0, wall + 7.9}, wall, Vec3{}, grey, Diffuse),                              // front
		NewSphere(Vec3{-1.3, -1.2, -1.3}, 0.8, Vec3{}, white, Specular),
		NewSphere(Vec3{1.3, -1.2, -0.2}, 0.8, Vec3{}, white, Refractive),
		NewSphere(Vec3{0, 11.96, 0}, 10, Vec3{16, 16, 16}, Vec3{}, Diffuse), // light
	)
}

// BuildScene returns the scene used by the renderer. It cannot fail.
func BuildScene() *Scene { return CornellBox() }
