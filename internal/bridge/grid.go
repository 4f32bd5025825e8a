// Copyright 2025 James Ross
package bridge

import (
	"github.com/flyingrobots/vanet-signal-bridge/internal/vanet"
)

// grid is a uniform spatial index bucketing vehicles by cell, cell size
// equal to the short-range radius, so V2V neighbour enumeration visits
// only the 3x3 neighbourhood of cells around a transmitter instead of
// every other vehicle (spec §4.3's complexity note).
type grid struct {
	cellSize float64
	cells    map[cellKey][]int
	indexOf  map[int]vanet.Position
}

type cellKey struct{ x, y int }

func newGrid(cellSize float64, vehicles []vanet.Vehicle) *grid {
	if cellSize <= 0 {
		cellSize = 300
	}
	g := &grid{cellSize: cellSize, cells: map[cellKey][]int{}, indexOf: map[int]vanet.Position{}}
	for i, v := range vehicles {
		k := g.keyFor(v.Position)
		g.cells[k] = append(g.cells[k], i)
		g.indexOf[i] = v.Position
	}
	return g
}

func (g *grid) keyFor(p vanet.Position) cellKey {
	return cellKey{x: int(p.X / g.cellSize), y: int(p.Y / g.cellSize)}
}

// neighbours returns the indices of every vehicle in the 3x3 block of
// cells centred on pos, a superset of everything within cellSize of pos.
func (g *grid) neighbours(pos vanet.Position) []int {
	center := g.keyFor(pos)
	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			k := cellKey{x: center.x + dx, y: center.y + dy}
			out = append(out, g.cells[k]...)
		}
	}
	return out
}
