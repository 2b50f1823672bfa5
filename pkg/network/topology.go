package network

import (
	"fmt"
	"sort"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
)

// graphVertexID renders a BusId as the string vertex id lvlath's core.Graph
// expects; buses never reuse ids so this is injective.
func graphVertexID(id BusId) string { return fmt.Sprintf("b%d", id) }

func (n *Network) buildGraph() (*core.Graph, error) {
	g := core.NewGraph()
	for _, b := range n.buses {
		if err := g.AddVertex(graphVertexID(b.ID)); err != nil {
			return nil, err
		}
	}
	for _, br := range n.branches {
		if !br.InService {
			continue
		}
		if _, err := g.AddEdge(graphVertexID(br.From), graphVertexID(br.To), 0); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ConnectedComponents partitions in-service buses into connected
// components via repeated BFS, grounded on katalvlaran/lvlath's bfs
// package.
func (n *Network) ConnectedComponents() ([][]BusId, error) {
	g, err := n.buildGraph()
	if err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(n.buses))
	var components [][]BusId

	idOf := make(map[string]BusId, len(n.buses))
	for _, b := range n.buses {
		idOf[graphVertexID(b.ID)] = b.ID
	}

	// Deterministic traversal order: buses iterated by creation index.
	order := make([]string, 0, len(n.buses))
	for _, b := range n.buses {
		order = append(order, graphVertexID(b.ID))
	}

	for _, start := range order {
		if visited[start] {
			continue
		}
		res, err := bfs.BFS(g, start)
		if err != nil {
			return nil, err
		}
		comp := make([]BusId, 0, len(res.Order))
		for _, v := range res.Order {
			visited[v] = true
			comp = append(comp, idOf[v])
		}
		sort.Slice(comp, func(i, j int) bool { return comp[i] < comp[j] })
		components = append(components, comp)
	}
	return components, nil
}

// SpanningTreeParents runs BFS from root over in-service branches and
// returns each reachable bus's parent in the resulting spanning tree,
// used by the SOCP formulator to propagate recovered voltage angles
// along a spanning tree.
func (n *Network) SpanningTreeParents(root BusId) (map[BusId]BusId, error) {
	g, err := n.buildGraph()
	if err != nil {
		return nil, err
	}
	res, err := bfs.BFS(g, graphVertexID(root))
	if err != nil {
		return nil, err
	}

	idOf := make(map[string]BusId, len(n.buses))
	for _, b := range n.buses {
		idOf[graphVertexID(b.ID)] = b.ID
	}

	parents := make(map[BusId]BusId, len(res.Parent))
	for child, parent := range res.Parent {
		if parent == "" {
			continue
		}
		parents[idOf[child]] = idOf[parent]
	}
	return parents, nil
}
