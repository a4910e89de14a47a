package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"

	"github.com/quillon/domselect/address"
)

const elementNodeType = 1

// BuildTree walks the full DOM tree (DOM.getDocument depth=-1, pierced)
// and populates an address.Tree. Without the full-depth call, mutations
// on deep nodes are silently ignored by CDP.
func BuildTree(ctx context.Context, tab *Tab, tree *address.Tree) error {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(tab.Page.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser: DOM.getDocument: %w", err)
	}

	tree.Reset()
	tree.SetRoot(address.NodeID(doc.Root.NodeID))
	insertChildren(tree, doc.Root)
	return nil
}

func insertChildren(tree *address.Tree, parent *proto.DOMNode) {
	var prev address.NodeID
	for _, child := range parent.Children {
		if child.NodeType != elementNodeType {
			continue
		}
		id := address.NodeID(child.NodeID)
		tree.Insert(address.NodeID(parent.NodeID), prev, id, child.NodeName)
		prev = id
		insertChildren(tree, child)
	}
}

// TrackTree subscribes to CDP DOM events and keeps the tree current.
// onDocumentUpdated fires when the whole document is replaced (navigation,
// document.write); the caller rebuilds and re-anchors.
func TrackTree(ctx context.Context, tab *Tab, tree *address.Tree, logger *slog.Logger, onDocumentUpdated func()) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := (proto.DOMEnable{}.Call(tab.Page)); err != nil {
		return fmt.Errorf("browser: DOM.enable: %w", err)
	}

	go tab.Page.Context(ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			if e.Node == nil || e.Node.NodeType != elementNodeType {
				return
			}
			tree.Insert(
				address.NodeID(e.ParentNodeID),
				address.NodeID(e.PreviousNodeID),
				address.NodeID(e.Node.NodeID),
				e.Node.NodeName,
			)
			if len(e.Node.Children) > 0 {
				insertChildren(tree, e.Node)
			}
		},
		func(e *proto.DOMChildNodeRemoved) {
			tree.Remove(address.NodeID(e.NodeID))
		},
		func(e *proto.DOMDocumentUpdated) {
			logger.Info("browser: document updated, tree invalidated", "url", tab.PageURL)
			if onDocumentUpdated != nil {
				onDocumentUpdated()
			}
		},
	)()

	return nil
}
