// Package scene holds the host-side anchors the driver moves and the objects
// a game places in view.
package scene

import (
	"image/color"

	"simuser.ai/internal/mathx"
)

// Transform is a world-space pose.
type Transform struct {
	Position mathx.Vec3
	Rotation mathx.Quat
}

// SetPositionAndRotation overwrites the pose.
func (t *Transform) SetPositionAndRotation(p mathx.Vec3, r mathx.Quat) {
	t.Position = p
	t.Rotation = r
}

// Forward is the +Z axis of the transform.
func (t *Transform) Forward() mathx.Vec3 {
	return t.Rotation.Rotate(mathx.XYZ(0, 0, 1))
}

// Rig is the simulated user: the camera viewpoint and two hand proxies.
type Rig struct {
	Camera    Transform
	LeftHand  Transform
	RightHand Transform
}

// NewRig returns a rig standing at the origin with eyes at a typical height.
func NewRig() *Rig {
	return &Rig{
		Camera:    Transform{Position: mathx.XYZ(0, 1.6, 0), Rotation: mathx.QuatIdent()},
		LeftHand:  Transform{Position: mathx.XYZ(-0.2, 1.2, 0.3), Rotation: mathx.QuatIdent()},
		RightHand: Transform{Position: mathx.XYZ(0.2, 1.2, 0.3), Rotation: mathx.QuatIdent()},
	}
}

// Marker is a sphere drawn by the renderer.
type Marker struct {
	Position mathx.Vec3
	Radius   float32
	Color    color.NRGBA
}

// MarkerSource supplies the markers of the current frame.
type MarkerSource interface {
	Markers() []Marker
}

var (
	LeftHandColor  = color.NRGBA{R: 40, G: 90, B: 230, A: 255}
	RightHandColor = color.NRGBA{R: 230, G: 60, B: 40, A: 255}
)

// HandMarkers draws the two hand proxies.
func (r *Rig) HandMarkers(radius float32) []Marker {
	return []Marker{
		{Position: r.LeftHand.Position, Radius: radius, Color: LeftHandColor},
		{Position: r.RightHand.Position, Radius: radius, Color: RightHandColor},
	}
}
