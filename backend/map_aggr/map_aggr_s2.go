// Package map_aggr groups outbreak clusters into map pins on s2 cells sized
// to the viewport.
package map_aggr

import (
	"sort"

	"farmapp/backend/outbreak"
	"farmapp/backend/server/api"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

type aggrUnit struct {
	cnt         int64
	severity    outbreak.Severity
	containment [4]bool // one per child cell
	pin         s2.Point
	origRes     []*api.MapResult
}

// Aggregator collects outbreaks of one viewport.
type Aggregator struct {
	level  int
	points map[s2.CellID][]*api.MapResult
	aggrs  map[s2.CellID]*aggrUnit
}

const (
	expectedCells       = 16
	minLevel            = 2
	maxLevel            = 18
	minRepToAggr        = 10
	weightDiffThreshold = 8
)

// CellBaseLevel is the s2 level at which about expectedCells cells cover the viewport.
func CellBaseLevel(vp *api.ViewPort, center *api.Point) int {
	minLL := s2.LatLngFromDegrees(vp.LatMin, vp.LonMin)
	maxLL := s2.LatLngFromDegrees(vp.LatMax, vp.LonMax)

	rect := s2.Rect{
		Lat: r1.Interval{
			Lo: minLL.Lat.Radians(),
			Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{
			Lo: minLL.Lng.Radians(),
			Hi: maxLL.Lng.Radians()},
	}
	vpArea := rect.Area()

	centerCell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(center.Lat, center.Lon))
	for lv := maxLevel; lv >= minLevel; lv-- {
		cc := s2.CellFromCellID(centerCell.Parent(lv))
		if vpArea/cc.ApproxArea() < expectedCells {
			return lv
		}
	}
	return minLevel
}

func NewAggregator(vp *api.ViewPort, center *api.Point) *Aggregator {
	return &Aggregator{
		level:  CellBaseLevel(vp, center),
		points: make(map[s2.CellID][]*api.MapResult),
		aggrs:  make(map[s2.CellID]*aggrUnit),
	}
}

func (a *Aggregator) AddOutbreak(o *api.Outbreak) {
	res := &api.MapResult{
		Latitude:   o.Location.Latitude,
		Longitude:  o.Location.Longitude,
		Count:      1,
		OutbreakID: o.ID,
		Severity:   o.Severity,
	}
	cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(res.Latitude, res.Longitude)).Parent(maxLevel)
	a.points[cell] = append(a.points[cell], res)
}

// Pins returns single outbreaks where they are sparse and counted pins
// elsewhere, the busiest first. A counted pin carries its worst severity.
func (a *Aggregator) Pins() []api.MapResult {
	a.aggregate()
	r := make([]api.MapResult, 0, len(a.aggrs))
	for _, unit := range a.aggrs {
		if unit.cnt <= minRepToAggr {
			for _, res := range unit.origRes {
				r = append(r, *res)
			}
			continue
		}
		ll := s2.LatLngFromPoint(unit.pin)
		r = append(r, api.MapResult{
			Latitude:  ll.Lat.Degrees(),
			Longitude: ll.Lng.Degrees(),
			Count:     unit.cnt,
			Severity:  unit.severity,
		})
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].Count != r[j].Count {
			return r[i].Count > r[j].Count
		}
		if r[i].Latitude != r[j].Latitude {
			return r[i].Latitude < r[j].Latitude
		}
		return r[i].Longitude < r[j].Longitude
	})
	return r
}

func worse(a, b outbreak.Severity) outbreak.Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func (a *Aggregator) computeCentroid(pCell s2.CellID, chAggrs []*aggrUnit) s2.Point {
	pins := make([]s2.Point, 0)
	maxWeight := int64(0)
	for _, aggr := range chAggrs {
		if maxWeight < aggr.cnt {
			maxWeight = aggr.cnt
		}
	}
	// Children much lighter than the heaviest one don't pull the pin.
	for _, aggr := range chAggrs {
		if maxWeight/aggr.cnt < weightDiffThreshold {
			pins = append(pins, aggr.pin)
		}
	}
	switch len(pins) {
	case 1:
		return pins[0]
	case 2:
		return s2.PlanarCentroid(pins[0], pins[0], pins[1])
	case 3:
		return s2.PlanarCentroid(pins[0], pins[1], pins[2])
	}
	return s2.PointFromLatLng(pCell.LatLng())
}

// aggrStep merges the units one level up, down to the base level.
func (a *Aggregator) aggrStep(level int) {
	if level < a.level {
		return
	}
	nextAggrs := make(map[s2.CellID]*aggrUnit)
	for cell, unit := range a.aggrs {
		p := cell.Parent(level)
		eu, ok := nextAggrs[p]
		if !ok {
			nextAggrs[p] = &aggrUnit{
				cnt:      unit.cnt,
				severity: unit.severity,
				origRes:  unit.origRes,
			}
		} else {
			nextAggrs[p] = &aggrUnit{
				cnt:         eu.cnt + unit.cnt,
				severity:    worse(eu.severity, unit.severity),
				containment: eu.containment,
			}
			if eu.cnt+unit.cnt <= minRepToAggr {
				nextAggrs[p].origRes = append(append([]*api.MapResult{}, eu.origRes...), unit.origRes...)
			}
		}
		nextAggrs[p].containment[cell.ChildPosition(level+1)] = true
	}
	for pCell, pUnit := range nextAggrs {
		chAggrs := make([]*aggrUnit, 0)
		for i, v := range pUnit.containment {
			if v {
				if chAggr, ok := a.aggrs[pCell.Children()[i]]; ok {
					chAggrs = append(chAggrs, chAggr)
				}
			}
		}
		pUnit.pin = a.computeCentroid(pCell, chAggrs)
	}
	a.aggrs = nextAggrs
	a.aggrStep(level - 1)
}

func (a *Aggregator) aggregate() {
	a.aggrs = make(map[s2.CellID]*aggrUnit)
	for cell, pts := range a.points {
		unit := &aggrUnit{
			cnt:         int64(len(pts)),
			containment: [4]bool{true, true, true, true},
			pin:         s2.PointFromLatLng(cell.LatLng()),
		}
		for _, p := range pts {
			unit.severity = worse(unit.severity, p.Severity)
		}
		if len(pts) <= minRepToAggr {
			unit.origRes = pts
		}
		a.aggrs[cell] = unit
	}
	a.aggrStep(maxLevel - 1)
}
