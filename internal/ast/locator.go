package ast

import (
	"strconv"
	"strings"
)

const (
	segmentSeparator = "/"
	indexSeparator   = "@"
)

// Path returns the structural address of n relative to its document root,
// e.g. "/elements@2/features@0". The root's path is "".
func Path(n *Node) string {
	var segments []string
	for cur := n; cur != nil && cur.Container != nil; cur = cur.Container {
		seg := cur.ContainerFeature
		if cur.ContainerIndex >= 0 {
			seg += indexSeparator + strconv.Itoa(cur.ContainerIndex)
		}
		segments = append(segments, seg)
	}
	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteString(segmentSeparator)
		b.WriteString(segments[i])
	}
	return b.String()
}

// Resolve walks path down from root. It returns nil when the tree no longer
// has the addressed shape.
func Resolve(root *Node, path string) *Node {
	if root == nil {
		return nil
	}
	if path == "" {
		return root
	}
	if !strings.HasPrefix(path, segmentSeparator) {
		return nil
	}
	cur := root
	for _, seg := range strings.Split(path[1:], segmentSeparator) {
		name, idxText, hasIndex := strings.Cut(seg, indexSeparator)
		f := cur.Feature(name)
		if f == nil {
			return nil
		}
		switch {
		case hasIndex:
			if !f.Many {
				return nil
			}
			idx, err := strconv.Atoi(idxText)
			if err != nil || idx < 0 || idx >= len(f.Nodes) {
				return nil
			}
			cur = f.Nodes[idx]
		case f.Many || len(f.Nodes) != 1:
			return nil
		default:
			cur = f.Nodes[0]
		}
	}
	return cur
}
