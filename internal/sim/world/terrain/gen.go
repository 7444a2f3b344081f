// Package terrain generates the colony terrain grid from a seed. Generation is
// a pure function of its parameters so resumed colonies get the same map.
package terrain

import "fieldresearch.ai/internal/sim/tasks"

// Palette names the terrain templates the generator paints with.
type Palette struct {
	// Base is chosen per region.
	Base []string
	// Stone is painted in clusters over any base.
	Stone string
	// Rich replaces the first base terrain inside its own clusters.
	Rich string
	// Floor covers the colony centre.
	Floor string
}

func DefaultPalette() Palette {
	return Palette{
		Base:  []string{"Soil", "Soil", "Sand", "Marsh"},
		Stone: "Granite_Rough",
		Rich:  "SoilRich",
		Floor: "WoodPlankFloor",
	}
}

type Params struct {
	Seed int64
	Size int

	RegionSize    int
	ClusterGrid   int
	ClusterRadius int
	StonePermille uint64
	RichPermille  uint64
	FloorRadius   int
	Palette       Palette
}

func DefaultParams(seed int64, size int) Params {
	return Params{
		Seed:          seed,
		Size:          size,
		RegionSize:    6,
		ClusterGrid:   8,
		ClusterRadius: 2,
		StonePermille: 450,
		RichPermille:  300,
		FloorRadius:   2,
		Palette:       DefaultPalette(),
	}
}

// Generate returns Size*Size terrain ids, row-major by Z.
func Generate(p Params) []string {
	if p.Size <= 0 {
		return nil
	}
	if p.RegionSize <= 0 {
		p.RegionSize = 1
	}
	if len(p.Palette.Base) == 0 {
		p.Palette = DefaultPalette()
	}
	out := make([]string, p.Size*p.Size)
	c := p.Size / 2
	for z := 0; z < p.Size; z++ {
		for x := 0; x < p.Size; x++ {
			out[z*p.Size+x] = p.at(x, z, c)
		}
	}
	return out
}

func (p Params) at(x, z, centre int) string {
	dx, dz := x-centre, z-centre
	if p.Palette.Floor != "" && p.FloorRadius > 0 && dx*dx+dz*dz <= p.FloorRadius*p.FloorRadius {
		return p.Palette.Floor
	}
	base := p.Palette.Base[Hash2(p.Seed, FloorDiv(x, p.RegionSize), FloorDiv(z, p.RegionSize))%uint64(len(p.Palette.Base))]
	if p.Palette.Stone != "" && InCluster(p.Seed^0x5157, x, z, p.ClusterGrid, p.ClusterRadius, p.StonePermille) {
		return p.Palette.Stone
	}
	if p.Palette.Rich != "" && base == p.Palette.Base[0] && InCluster(p.Seed^0x2a1c, x, z, p.ClusterGrid, p.ClusterRadius, p.RichPermille) {
		return p.Palette.Rich
	}
	return base
}

// Disc lists the cells within radius of centre that lie inside a size x size
// grid, ordered by Z then X.
func Disc(size int, centre tasks.Vec2i, radius int) []tasks.Vec2i {
	var out []tasks.Vec2i
	r2 := radius * radius
	for z := max(0, centre.Z-radius); z <= min(size-1, centre.Z+radius); z++ {
		for x := max(0, centre.X-radius); x <= min(size-1, centre.X+radius); x++ {
			dx, dz := x-centre.X, z-centre.Z
			if dx*dx+dz*dz <= r2 {
				out = append(out, tasks.Vec2i{X: x, Z: z})
			}
		}
	}
	return out
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// InCluster reports whether (x, z) lies in one of the clusters seeded on a
// grid-sized lattice; each lattice cell holds a cluster with probPermille.
func InCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := FloorDiv(x, grid)
	gz := FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := Hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}

			ox := int((h >> 10) % uint64(grid))
			oz := int((h >> 20) % uint64(grid))
			cx := cgx*grid + ox
			cz := cgz*grid + oz

			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}
