// Package geom implements the gap evaluators: pure geometric primitives that
// measure the signed distance between features. They hold no state and are
// safe to evaluate concurrently across independent candidates.
package geom

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/dynamo"
)

var (
	// ErrNonFinite is returned when any input coordinate is NaN or Inf.
	ErrNonFinite = fmt.Errorf("geom: non-finite input: %w", dynamo.ErrInvalidState)

	// ErrDegenerateNormal is returned when a plane normal has zero length.
	ErrDegenerateNormal = errors.New("geom: plane normal has zero length")
)

const (
	// parallelEps is the squared-sine threshold below which two segments are
	// treated as parallel.
	parallelEps   = 1e-12
	degenerateEps = 1e-14
)

var up = mgl64.Vec3{0, 0, 1}

// TriangleGap is the result of a point–triangle query.
type TriangleGap struct {
	Gap     float64
	Closest mgl64.Vec3
	// Normal is the unit face normal, +z for a degenerate triangle.
	Normal mgl64.Vec3
	// Direction is the derivative of Gap with respect to the query point.
	Direction mgl64.Vec3
	// Barycentric weights of Closest with respect to (a, b, c).
	Barycentric [3]float64
	Inside      bool
}

// EdgeGap is the result of an edge–edge query.
type EdgeGap struct {
	Gap      float64
	ClosestA mgl64.Vec3
	ClosestB mgl64.Vec3
	// Direction is the unit vector from ClosestB to ClosestA.
	Direction mgl64.Vec3
	// S and T are the segment parameters of ClosestA and ClosestB.
	S, T float64
}

// PlaneGap is the result of a point–plane query.
type PlaneGap struct {
	Gap       float64
	Projected mgl64.Vec3
	Normal    mgl64.Vec3
}

// PointTriangle measures the signed gap between p and triangle (a, b, c).
// The point is projected onto the triangle's plane; if the projection lies
// inside, it is the closest point, otherwise the closest point lies on one
// of the three edges. The gap is positive on the side the normal points to.
func PointTriangle(p, a, b, c mgl64.Vec3) (TriangleGap, error) {
	if !dynamo.AllFinite(p, a, b, c) {
		return TriangleGap{}, ErrNonFinite
	}

	ab := b.Sub(a)
	ac := c.Sub(a)
	normal, ok := unit(ab.Cross(ac))
	if !ok {
		normal = up
	}

	height := normal.Dot(p.Sub(a))
	projected := p.Sub(normal.Mul(height))

	if u, v, w, ok := barycentric(projected, a, ab, ac); ok && u >= 0 && v >= 0 && w >= 0 {
		return TriangleGap{
			Gap:         height,
			Closest:     projected,
			Normal:      normal,
			Direction:   normal,
			Barycentric: [3]float64{u, v, w},
			Inside:      true,
		}, nil
	}

	// Outside (or degenerate): nearest point over the three edges.
	type edgeHit struct {
		point  mgl64.Vec3
		bary   [3]float64
		distSq float64
	}
	verts := [3]mgl64.Vec3{a, b, c}
	hits := [3]edgeHit{}
	for i, e := range [3][2]int{{0, 1}, {1, 2}, {2, 0}} {
		q, t := ClosestOnSegment(p, verts[e[0]], verts[e[1]])
		var bary [3]float64
		bary[e[0]] = 1 - t
		bary[e[1]] = t
		d := p.Sub(q)
		hits[i] = edgeHit{point: q, bary: bary, distSq: d.Dot(d)}
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.distSq < best.distSq {
			best = h
		}
	}

	sign := 1.0
	if height < 0 {
		sign = -1
	}
	dist := math.Sqrt(best.distSq)
	direction, ok := unit(p.Sub(best.point).Mul(sign))
	if !ok {
		direction = normal
	}

	return TriangleGap{
		Gap:         sign * dist,
		Closest:     best.point,
		Normal:      normal,
		Direction:   direction,
		Barycentric: best.bary,
	}, nil
}

// EdgeEdge measures the distance between segments (a0, a1) and (b0, b1)
// by clamped least squares. For near-parallel segments the first parameter
// is clamped to zero before solving for the second.
func EdgeEdge(a0, a1, b0, b1 mgl64.Vec3) (EdgeGap, error) {
	if !dynamo.AllFinite(a0, a1, b0, b1) {
		return EdgeGap{}, ErrNonFinite
	}

	d1 := a1.Sub(a0)
	d2 := b1.Sub(b0)
	r := a0.Sub(b0)
	aa := d1.Dot(d1)
	ee := d2.Dot(d2)
	f := d2.Dot(r)

	var s, t float64
	switch {
	case aa <= degenerateEps && ee <= degenerateEps:
		s, t = 0, 0
	case aa <= degenerateEps:
		s = 0
		t = clamp01(f / ee)
	default:
		c := d1.Dot(r)
		if ee <= degenerateEps {
			t = 0
			s = clamp01(-c / aa)
			break
		}
		b := d1.Dot(d2)
		denom := aa*ee - b*b
		if denom > parallelEps*aa*ee {
			s = clamp01((b*f - c*ee) / denom)
		} else {
			s = 0
		}
		t = (b*s + f) / ee
		if t < 0 {
			t = 0
			s = clamp01(-c / aa)
		} else if t > 1 {
			t = 1
			s = clamp01((b - c) / aa)
		}
	}

	pa := a0.Add(d1.Mul(s))
	pb := b0.Add(d2.Mul(t))
	delta := pa.Sub(pb)
	direction, ok := unit(delta)
	if !ok {
		if direction, ok = unit(d1.Cross(d2)); !ok {
			direction = up
		}
	}

	return EdgeGap{
		Gap:       delta.Len(),
		ClosestA:  pa,
		ClosestB:  pb,
		Direction: direction,
		S:         s,
		T:         t,
	}, nil
}

// PointPlane returns the signed distance from p to the plane through origin
// with the given (not necessarily unit) normal.
func PointPlane(p, origin, normal mgl64.Vec3) (PlaneGap, error) {
	if !dynamo.AllFinite(p, origin, normal) {
		return PlaneGap{}, ErrNonFinite
	}
	n, ok := unit(normal)
	if !ok {
		return PlaneGap{}, ErrDegenerateNormal
	}
	gap := n.Dot(p.Sub(origin))
	return PlaneGap{
		Gap:       gap,
		Projected: p.Sub(n.Mul(gap)),
		Normal:    n,
	}, nil
}

// ClosestOnSegment returns the point of segment (a, b) closest to p and its
// parameter t in [0, 1].
func ClosestOnSegment(p, a, b mgl64.Vec3) (mgl64.Vec3, float64) {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq <= degenerateEps {
		return a, 0
	}
	t := clamp01(p.Sub(a).Dot(ab) / lenSq)
	return a.Add(ab.Mul(t)), t
}

// Unit normalizes v, reporting false for a zero or non-finite vector.
func Unit(v mgl64.Vec3) (mgl64.Vec3, bool) {
	return unit(v)
}

func unit(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if !(l > degenerateEps) || math.IsInf(l, 0) {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

func barycentric(q, a, ab, ac mgl64.Vec3) (u, v, w float64, ok bool) {
	aq := q.Sub(a)
	d00 := ab.Dot(ab)
	d01 := ab.Dot(ac)
	d11 := ac.Dot(ac)
	d20 := aq.Dot(ab)
	d21 := aq.Dot(ac)
	denom := d00*d11 - d01*d01
	if math.Abs(denom) <= degenerateEps*math.Max(1, d00*d11) {
		return 0, 0, 0, false
	}
	v = (d11*d20 - d01*d21) / denom
	w = (d00*d21 - d01*d20) / denom
	u = 1 - v - w
	return u, v, w, true
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
