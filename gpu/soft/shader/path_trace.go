package shader

import (
	"math"

	"github.com/achilleasa/prism/gpu/soft"
	"github.com/achilleasa/prism/scene"
	"github.com/achilleasa/prism/tracer"
	"github.com/achilleasa/prism/types"
)

const (
	rayEpsilon  = 1e-4
	maxDistance = 1e30
)

// Material of meshes that do not reference one.
var fallbackMaterial = scene.Material{
	BaseColor:       types.XYZW(0.8, 0.8, 0.8, 1),
	Roughness:       1,
	BaseTexture:     scene.NoTexture,
	EmissiveTexture: scene.NoTexture,
}

// Resources of a path tracing dispatch.
type traceContext struct {
	camera scene.UniformBlock
	tlas   soft.TopLevel
	pc     tracer.PushConstants

	out    *soft.ImageView
	accIn  []types.Vec4
	accOut []types.Vec4

	vertices    []scene.Vertex
	indices     []uint32
	materials   []scene.Material
	meshes      []scene.MeshRenderData
	modelMeshes []uint32
	emissive    []uint32
	textures    []*soft.ImageView
	lights      []scene.Light
}

// Interpolated attributes at a ray hit.
type surface struct {
	pos    types.Vec3
	normal types.Vec3
	color  types.Vec4
	tex    types.Vec2
	mat    *scene.Material
}

func newTraceContext(ctx *soft.KernelContext) (*traceContext, bool) {
	cameras := soft.View[scene.UniformBlock](ctx.Buffer(tracer.UniformBinding))
	tlas, hasTLAS := ctx.TopLevel(tracer.TopLevelBinding)
	out := ctx.Image(tracer.WriteImageBinding)
	if len(cameras) == 0 || !hasTLAS || out == nil {
		return nil, false
	}

	tc := &traceContext{
		camera:      cameras[0],
		tlas:        tlas,
		pc:          tracer.DecodePushConstants(ctx.PushConstants),
		out:         out,
		accIn:       soft.View[types.Vec4](ctx.Buffer(tracer.ReadAccumulationBinding)),
		accOut:      soft.View[types.Vec4](ctx.Buffer(tracer.WriteAccumulationBinding)),
		vertices:    soft.View[scene.Vertex](ctx.Buffer(tracer.VertexBinding)),
		indices:     soft.View[uint32](ctx.Buffer(tracer.IndexBinding)),
		materials:   soft.View[scene.Material](ctx.Buffer(tracer.MaterialBinding)),
		meshes:      soft.View[scene.MeshRenderData](ctx.Buffer(tracer.MeshRenderDataBinding)),
		modelMeshes: soft.View[uint32](ctx.Buffer(tracer.ModelMRDIndicesBinding)),
		emissive:    soft.View[uint32](ctx.Buffer(tracer.EmissiveMeshBinding)),
		textures:    ctx.Images(tracer.TextureBinding),
		lights:      soft.View[scene.Light](ctx.Buffer(tracer.LightBinding)),
	}

	// The emissive buffer is padded when empty; its element count is passed
	// as a specialization constant.
	if len(ctx.Specialization) > tracer.EmissiveMeshCountConstant {
		if count := int(ctx.Specialization[tracer.EmissiveMeshCountConstant]); count < len(tc.emissive) {
			tc.emissive = tc.emissive[:count]
		}
	}
	if len(ctx.Specialization) > tracer.TextureCountConstant {
		if count := int(ctx.Specialization[tracer.TextureCountConstant]); count < len(tc.textures) {
			tc.textures = tc.textures[:count]
		}
	}
	return tc, true
}

func pathTrace(ctx *soft.KernelContext, groupX, groupY, _ uint32) {
	tc, ok := newTraceContext(ctx)
	if !ok {
		return
	}

	width, height := tc.out.Extent.Width, tc.out.Extent.Height
	view := tc.pc.View()
	n := float32(tc.pc.SampleCount)
	forEachPixel(groupX, groupY, width, height, func(x, y uint32) {
		pixel := y*width + x
		if int(pixel) >= len(tc.accOut) || int(pixel) >= len(tc.accIn) {
			return
		}

		r := newRNG(pixel, tc.pc.SampleCount)
		c := tc.sample(r, x, y, width, height, view)
		if !finite(c) {
			c = types.Vec3{}
		}

		acc := c
		if view == tracer.ViewOff {
			acc = tc.accIn[pixel].Vec3().Mul(n).Add(c).Mul(1 / (n + 1))
		}
		tc.accOut[pixel] = acc.Vec4(1)
		tc.out.Set(x, y, acc.Mul(tc.camera.Exposure).Vec4(1))
	})
}

// Estimate the radiance arriving through pixel (x, y).
func (tc *traceContext) sample(r *rng, x, y, width, height uint32, view tracer.DebugView) types.Vec3 {
	jx, jy := float32(0.5), float32(0.5)
	if view == tracer.ViewOff {
		jx, jy = r.float32(), r.float32()
	}

	cam := &tc.camera
	sx := ((float32(x)+jx)/float32(width) - 0.5) * cam.SensorSize[0]
	sy := (0.5 - (float32(y)+jy)/float32(height)) * cam.SensorSize[1]
	dir := cam.U.Mul(sx).Add(cam.V.Mul(sy)).Sub(cam.W.Mul(cam.FocalLength)).Normalize()

	hit, found := tc.tlas.Trace(cam.Pos, dir, 0, maxDistance)
	if !found {
		return types.Vec3{}
	}
	s, ok := tc.resolve(cam.Pos, dir, hit)
	if !ok {
		return types.Vec3{}
	}

	albedo := s.mat.BaseColor.MulVec(s.color).Vec3()
	if tex, ok := tc.texture(s.mat.BaseTexture, s.tex); ok {
		albedo = albedo.MulVec(tex.Vec3())
	}
	var emitted types.Vec3
	if s.mat.IsEmissive() {
		emitted = s.mat.Emission.Vec3().Mul(s.mat.EmissionStrength)
		if tex, ok := tc.texture(s.mat.EmissiveTexture, s.tex); ok {
			emitted = emitted.MulVec(tex.Vec3())
		}
	}

	switch view {
	case tracer.ViewAttenuation:
		return albedo
	case tracer.ViewEmission:
		return emitted
	case tracer.ViewNormal:
		return s.normal.Mul(0.5).Add(types.XYZ(0.5, 0.5, 0.5))
	case tracer.ViewTexCoord:
		return types.XYZ(s.tex[0], s.tex[1], 0)
	}

	normal := s.normal
	if normal.Dot(dir) > 0 {
		normal = normal.Mul(-1)
	}
	incoming := tc.directLight(s.pos, normal).Add(tc.emitterLight(r, s.pos, normal))
	return emitted.Add(albedo.MulVec(incoming))
}

// Resolve the mesh, triangle and material of a hit and interpolate its
// vertex attributes.
func (tc *traceContext) resolve(origin, dir types.Vec3, hit soft.Hit) (surface, bool) {
	if int(hit.CustomIndex) >= len(tc.modelMeshes) {
		return surface{}, false
	}
	meshIdx := tc.modelMeshes[hit.CustomIndex] + hit.GeometryIndex
	if int(meshIdx) >= len(tc.meshes) {
		return surface{}, false
	}
	mesh := tc.meshes[meshIdx]
	v0, v1, v2, ok := tc.triangle(mesh, hit.PrimitiveIndex)
	if !ok {
		return surface{}, false
	}

	b1, b2 := hit.Bary[0], hit.Bary[1]
	b0 := 1 - b1 - b2
	s := surface{
		pos:    origin.Add(dir.Mul(hit.T)),
		normal: v0.Normal.Mul(b0).Add(v1.Normal.Mul(b1)).Add(v2.Normal.Mul(b2)).Normalize(),
		color:  v0.Color.Mul(b0).Add(v1.Color.Mul(b1)).Add(v2.Color.Mul(b2)),
		tex:    v0.Tex.Mul(b0).Add(v1.Tex.Mul(b1)).Add(v2.Tex.Mul(b2)),
		mat:    tc.material(mesh.MatIdx),
	}
	if s.normal.IsZero() {
		s.normal = v1.Pos.Sub(v0.Pos).Cross(v2.Pos.Sub(v0.Pos)).Normalize()
	}
	return s, true
}

func (tc *traceContext) triangle(mesh scene.MeshRenderData, primitive uint32) (v0, v1, v2 *scene.Vertex, ok bool) {
	base := int(mesh.IndicesIdx) + 3*int(primitive)
	if 3*primitive >= mesh.IdxCount || base+2 >= len(tc.indices) {
		return nil, nil, nil, false
	}
	i0, i1, i2 := int(tc.indices[base]), int(tc.indices[base+1]), int(tc.indices[base+2])
	if i0 >= len(tc.vertices) || i1 >= len(tc.vertices) || i2 >= len(tc.vertices) {
		return nil, nil, nil, false
	}
	return &tc.vertices[i0], &tc.vertices[i1], &tc.vertices[i2], true
}

func (tc *traceContext) material(idx int32) *scene.Material {
	if idx < 0 || int(idx) >= len(tc.materials) {
		return &fallbackMaterial
	}
	return &tc.materials[idx]
}

func (tc *traceContext) texture(idx int32, uv types.Vec2) (types.Vec4, bool) {
	if idx < 0 || int(idx) >= len(tc.textures) || uv[0] < 0 || uv[1] < 0 {
		return types.Vec4{}, false
	}
	return tc.textures[idx].Sample(uv), true
}

// Diffuse contribution of the punctual lights visible from p.
func (tc *traceContext) directLight(p, n types.Vec3) types.Vec3 {
	var sum types.Vec3
	origin := p.Add(n.Mul(rayEpsilon))
	for i := range tc.lights {
		light := &tc.lights[i]
		if light.Intensity <= 0 {
			continue
		}

		toLight := light.Pos.Sub(p)
		dist := toLight.Len()
		if dist < rayEpsilon {
			continue
		}
		dir := toLight.Mul(1 / dist)
		cos := n.Dot(dir)
		if cos <= 0 {
			continue
		}

		falloff := float32(1)
		if light.OuterConeAngle > -1 {
			cosAxis := -dir.Dot(light.Dir)
			if cosAxis < light.OuterConeAngle {
				continue
			}
			if light.InnerConeAngle > light.OuterConeAngle && cosAxis < light.InnerConeAngle {
				falloff = (cosAxis - light.OuterConeAngle) / (light.InnerConeAngle - light.OuterConeAngle)
			}
		}

		if tc.tlas.Occluded(origin, dir, 0, dist-rayEpsilon) {
			continue
		}
		sum = sum.Add(light.Color.Mul(light.Intensity * falloff * cos / (dist * dist * math.Pi)))
	}
	return sum
}

// Sample a point on a random emissive triangle and return its diffuse
// contribution at p.
func (tc *traceContext) emitterLight(r *rng, p, n types.Vec3) types.Vec3 {
	count := uint32(len(tc.emissive))
	if count == 0 {
		return types.Vec3{}
	}
	meshIdx := tc.emissive[r.uint32()%count]
	if int(meshIdx) >= len(tc.meshes) {
		return types.Vec3{}
	}
	mesh := tc.meshes[meshIdx]
	triangles := mesh.IdxCount / 3
	if triangles == 0 {
		return types.Vec3{}
	}
	v0, v1, v2, ok := tc.triangle(mesh, r.uint32()%triangles)
	if !ok {
		return types.Vec3{}
	}

	e1, e2 := v1.Pos.Sub(v0.Pos), v2.Pos.Sub(v0.Pos)
	cross := e1.Cross(e2)
	area := cross.Len() / 2
	if area == 0 {
		return types.Vec3{}
	}

	su := float32(math.Sqrt(float64(r.float32())))
	b1, b2 := r.float32()*su, 1-su
	q := v0.Pos.Add(e1.Mul(b1)).Add(e2.Mul(b2))

	toQ := q.Sub(p)
	dist2 := toQ.Dot(toQ)
	dist := float32(math.Sqrt(float64(dist2)))
	if dist < rayEpsilon {
		return types.Vec3{}
	}
	dir := toQ.Mul(1 / dist)
	cosSurface := n.Dot(dir)
	cosLight := float32(math.Abs(float64(cross.Normalize().Dot(dir))))
	if cosSurface <= 0 || cosLight == 0 {
		return types.Vec3{}
	}
	if tc.tlas.Occluded(p.Add(n.Mul(rayEpsilon)), dir, 0, dist*(1-1e-3)) {
		return types.Vec3{}
	}

	mat := tc.material(mesh.MatIdx)
	radiance := mat.Emission.Vec3().Mul(mat.EmissionStrength)
	invPdf := float32(count) * float32(triangles) * area
	return radiance.Mul(cosSurface * cosLight * invPdf / (dist2 * math.Pi))
}

func finite(v types.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			return false
		}
	}
	return true
}
