package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow/internal/graph"
)

func TestReachableFrom(t *testing.T) {
	g := graph.New()
	g.AddTransition(1, 2)
	g.AddTransition(2, 3)
	g.AddTransition(1, 3)
	g.AddNode(4)

	reached := g.ReachableFrom(1)
	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, reached)

	require.False(t, reached[4])
	require.Empty(t, g.ReachableFrom(99))
}

func TestReachableFromHandlesCycles(t *testing.T) {
	g := graph.New()
	g.AddTransition(1, 2)
	g.AddTransition(2, 1)

	reached := g.ReachableFrom(1)
	require.Equal(t, map[int]bool{1: true, 2: true}, reached)
}

func TestIsTerminal(t *testing.T) {
	g := graph.New()
	g.AddTransition(1, 2)
	g.AddNode(3)

	require.False(t, g.IsTerminal(1))
	require.True(t, g.IsTerminal(2))
	require.True(t, g.IsTerminal(3))
	require.False(t, g.IsTerminal(99))

	require.Equal(t, []int{2}, g.Transitions(1))
}
