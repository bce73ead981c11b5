package field

import (
	"fmt"

	"github.com/cannsudemir/ats/comm"
	"github.com/cannsudemir/ats/mesh"
)

// GatherGhostedToMaster is the combine-to-owner step of the distributed
// accumulator: the ghost entries of each named component are summed into
// their owners. The owner values are then broadcast back, so after the call
// every copy of an entity holds the same total.
func (cv *CompositeVector) GatherGhostedToMaster(names ...string) error {
	for _, name := range cv.order(names) {
		comp := cv.comps[name]
		out := make(map[int][]comm.Packet)
		for _, g := range cv.mesh.Ghosts(comp.kind) {
			out[g.Owner] = append(out[g.Owner], comm.Packet{Row: g.OwnerLID, Value: comp.data[g.LID]})
		}
		in, _, err := cv.comm.Exchange(out)
		if err != nil {
			return fmt.Errorf("GatherGhostedToMaster(%s): %w", name, err)
		}
		for _, p := range in {
			comp.data[p.Row] += p.Value
		}
		if err = cv.broadcast(name, comp); err != nil {
			return err
		}
	}
	return nil
}

// ScatterMasterToGhosted is the broadcast-from-owner step: every ghost copy
// is overwritten by its owner's value.
func (cv *CompositeVector) ScatterMasterToGhosted(names ...string) error {
	for _, name := range cv.order(names) {
		if err := cv.broadcast(name, cv.comps[name]); err != nil {
			return err
		}
	}
	return nil
}

func (cv *CompositeVector) broadcast(name string, comp *component) error {
	out := make(map[int][]comm.Packet)
	for _, e := range cv.mesh.Exports(comp.kind) {
		out[e.Rank] = append(out[e.Rank], comm.Packet{Row: e.RemoteLID, Value: comp.data[e.LID]})
	}
	in, _, err := cv.comm.Exchange(out)
	if err != nil {
		return fmt.Errorf("ScatterMasterToGhosted(%s): %w", name, err)
	}
	for _, p := range in {
		comp.data[p.Row] = p.Value
	}
	return nil
}

// order returns the requested component names, or all of them, in
// declaration order so that every rank runs the same collectives.
func (cv *CompositeVector) order(names []string) []string {
	if len(names) == 0 {
		return cv.names
	}
	for _, name := range names {
		if _, ok := cv.comps[name]; !ok {
			panic(fmt.Sprintf("field: no component named %q", name))
		}
	}
	return names
}

// Kind returns the entity kind of a component.
func (cv *CompositeVector) Kind(name string) mesh.EntityKind {
	return cv.comps[name].kind
}
