package merkle_tree

import (
	"fmt"

	"zkvote/vote-prover/vote"
)

// Interior nodes combine their children with vote.HashPair, so a proof is
// just the list of siblings without direction bits.
type EligibilityNode interface {
	depth() int
	Value() vote.Digest
	withValue(index int, val vote.Digest) EligibilityNode
	writeProof(index int, out []vote.Digest)
}

func indexIsLeft(index int, depth int) bool {
	return index&(1<<(depth-1)) == 0
}

type FullNode struct {
	dep   int
	val   vote.Digest
	Left  EligibilityNode
	Right EligibilityNode
}

type EmptyNode struct {
	dep             int
	emptyTreeValues []vote.Digest
}

func (node *FullNode) depth() int {
	return node.dep
}

func (node *EmptyNode) depth() int {
	return node.dep
}

func (node *FullNode) Value() vote.Digest {
	return node.val
}

func (node *EmptyNode) Value() vote.Digest {
	return node.emptyTreeValues[node.depth()]
}

func (node *FullNode) initHash() {
	node.val = vote.HashPair(node.Left.Value(), node.Right.Value())
}

func (node *FullNode) withValue(index int, val vote.Digest) EligibilityNode {
	result := FullNode{
		dep:   node.depth(),
		Left:  node.Left,
		Right: node.Right,
	}
	if node.depth() == 0 {
		result.val = val
	} else {
		if indexIsLeft(index, node.depth()) {
			result.Left = node.Left.withValue(index, val)
		} else {
			result.Right = node.Right.withValue(index, val)
		}
		result.initHash()
	}
	return &result
}

func (node *EmptyNode) withValue(index int, val vote.Digest) EligibilityNode {
	result := FullNode{
		dep: node.depth(),
	}
	if node.depth() == 0 {
		result.val = val
	} else {
		emptyChild := EmptyNode{dep: node.depth() - 1, emptyTreeValues: node.emptyTreeValues}
		initializedChild := emptyChild.withValue(index, val)
		if indexIsLeft(index, node.depth()) {
			result.Left = initializedChild
			result.Right = &emptyChild
		} else {
			result.Left = &emptyChild
			result.Right = initializedChild
		}
		result.initHash()
	}
	return &result
}

// writeProof fills out[level] with the sibling at that level, leaf level
// first, which is the order vote.FoldPath consumes.
func (node *FullNode) writeProof(index int, out []vote.Digest) {
	if node.depth() == 0 {
		return
	}
	if indexIsLeft(index, node.depth()) {
		out[node.depth()-1] = node.Right.Value()
		node.Left.writeProof(index, out)
	} else {
		out[node.depth()-1] = node.Left.Value()
		node.Right.writeProof(index, out)
	}
}

func (node *EmptyNode) writeProof(index int, out []vote.Digest) {
	for i := 0; i < node.depth(); i++ {
		out[i] = node.emptyTreeValues[i]
	}
}

type EligibilityTree struct {
	Root EligibilityNode
}

// NewTree returns a tree of the given depth whose leaves are all the zero
// digest.
func NewTree(depth int) EligibilityTree {
	emptyHashes := make([]vote.Digest, depth+1)
	for i := 1; i <= depth; i++ {
		emptyHashes[i] = vote.HashPair(emptyHashes[i-1], emptyHashes[i-1])
	}
	return EligibilityTree{Root: &EmptyNode{dep: depth, emptyTreeValues: emptyHashes}}
}

// BuildTree places leaves at indices 0..len(leaves)-1.
func BuildTree(depth int, leaves []vote.Digest) (EligibilityTree, error) {
	if depth < 0 || depth > vote.MaxProofDepth {
		return EligibilityTree{}, fmt.Errorf("tree depth %d out of range [0, %d]", depth, vote.MaxProofDepth)
	}
	if depth < 62 && len(leaves) > 1<<depth {
		return EligibilityTree{}, fmt.Errorf("%d leaves do not fit in a tree of depth %d", len(leaves), depth)
	}
	tree := NewTree(depth)
	for i, leaf := range leaves {
		tree.Update(i, leaf)
	}
	return tree, nil
}

func (tree *EligibilityTree) Depth() int {
	return tree.Root.depth()
}

func (tree *EligibilityTree) RootValue() vote.Digest {
	return tree.Root.Value()
}

func (tree *EligibilityTree) Update(index int, leaf vote.Digest) []vote.Digest {
	tree.Root = tree.Root.withValue(index, leaf)
	return tree.GetProofByIndex(index)
}

func (tree *EligibilityTree) GetProofByIndex(index int) []vote.Digest {
	proof := make([]vote.Digest, tree.Root.depth())
	tree.Root.writeProof(index, proof)
	return proof
}

func (tree *EligibilityTree) DeepCopy() *EligibilityTree {
	if tree == nil {
		return nil
	}
	return &EligibilityTree{
		Root: deepCopyNode(tree.Root),
	}
}

func deepCopyNode(node EligibilityNode) EligibilityNode {
	if node == nil {
		return nil
	}

	switch n := node.(type) {
	case *FullNode:
		return &FullNode{
			dep:   n.dep,
			val:   n.val,
			Left:  deepCopyNode(n.Left),
			Right: deepCopyNode(n.Right),
		}
	case *EmptyNode:
		emptyTreeValues := make([]vote.Digest, len(n.emptyTreeValues))
		copy(emptyTreeValues, n.emptyTreeValues)
		return &EmptyNode{
			dep:             n.dep,
			emptyTreeValues: emptyTreeValues,
		}
	default:
		panic("unknown node type")
	}
}
