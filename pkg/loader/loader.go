// Package loader fetches a plan snapshot and builds the node tree from it.
//
// Snapshots arrive as a flat node list with parent references. The loader
// validates the references form a forest (gonum's topological sort rejects
// cycles) before building the parent-owns-children tree, so downstream code
// can rely on acyclicity structurally.
package loader

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"planview/pkg/model"
)

// Snapshot is the wire form of a fetched plan.
type Snapshot struct {
	TaskID  string       `json:"task_id"`
	PlanID  string       `json:"plan_id"`
	Version int          `json:"version"`
	Nodes   []NodeRecord `json:"nodes"`

	// Optional pipeline shape, when the backend publishes it alongside the
	// plan.
	Phases   []model.Phase  `json:"phases,omitempty"`
	Branches []model.Branch `json:"branches,omitempty"`
}

// NodeRecord is one flat node row. Order breaks sibling ties; equal orders
// fall back to id so rebuilds are deterministic.
type NodeRecord struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id,omitempty"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Order       int    `json:"order,omitempty"`
}

// Load reads a snapshot from a local file.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Fetch retrieves a snapshot over HTTP.
func Fetch(url string) (*Snapshot, error) {
	client := http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned %s", resp.Status)
	}
	return Decode(resp.Body)
}

// Decode parses and validates a snapshot.
func Decode(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := validate(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// validate checks ids are present and unique, parents exist, and the parent
// references are acyclic.
func validate(snap *Snapshot) error {
	index := make(map[string]int64, len(snap.Nodes))
	for i, rec := range snap.Nodes {
		if rec.ID == "" {
			return fmt.Errorf("node %d has empty id", i)
		}
		if _, dup := index[rec.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", rec.ID)
		}
		index[rec.ID] = int64(i)
	}

	g := simple.NewDirectedGraph()
	for _, rec := range snap.Nodes {
		if rec.ParentID == "" {
			continue
		}
		if rec.ParentID == rec.ID {
			return fmt.Errorf("node %s is its own parent", rec.ID)
		}
		pi, ok := index[rec.ParentID]
		if !ok {
			return fmt.Errorf("node %s references unknown parent %s", rec.ID, rec.ParentID)
		}
		g.SetEdge(g.NewEdge(simple.Node(pi), simple.Node(index[rec.ID])))
	}
	if _, err := topo.Sort(g); err != nil {
		return fmt.Errorf("snapshot is cyclic: %w", err)
	}
	return nil
}

// BuildTree assembles the top-level stage list from the snapshot. Unknown
// statuses normalize to pending; unknown kinds are an error (the layout
// engine sizes by kind).
func (s *Snapshot) BuildTree() ([]*model.Node, error) {
	nodes := make(map[string]*model.Node, len(s.Nodes))
	for _, rec := range s.Nodes {
		kind := model.Kind(rec.Kind)
		if !kind.IsValid() {
			return nil, fmt.Errorf("node %s has unknown kind %q", rec.ID, rec.Kind)
		}
		nodes[rec.ID] = &model.Node{
			ID:          rec.ID,
			Kind:        kind,
			Name:        rec.Name,
			Description: rec.Description,
			Status:      model.Status(rec.Status).Normalize(),
		}
	}

	type childRef struct {
		order int
		node  *model.Node
	}
	children := make(map[string][]childRef)
	var roots []childRef
	for _, rec := range s.Nodes {
		ref := childRef{order: rec.Order, node: nodes[rec.ID]}
		if rec.ParentID == "" {
			roots = append(roots, ref)
			continue
		}
		children[rec.ParentID] = append(children[rec.ParentID], ref)
	}

	attach := func(refs []childRef) []*model.Node {
		sort.SliceStable(refs, func(i, j int) bool {
			if refs[i].order != refs[j].order {
				return refs[i].order < refs[j].order
			}
			return refs[i].node.ID < refs[j].node.ID
		})
		out := make([]*model.Node, len(refs))
		for i, r := range refs {
			out[i] = r.node
		}
		return out
	}

	for id, refs := range children {
		nodes[id].Children = attach(refs)
	}

	stages := attach(roots)
	for _, st := range stages {
		if st.Kind != model.KindStage {
			return nil, fmt.Errorf("top-level node %s has kind %s, want stage", st.ID, st.Kind)
		}
	}
	model.AggregateForest(stages)
	return stages, nil
}

// Pipeline returns the snapshot's pipeline shape, nil-safe.
func (s *Snapshot) Pipeline() ([]model.Phase, []model.Branch) {
	return s.Phases, s.Branches
}
