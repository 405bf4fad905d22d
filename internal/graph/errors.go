package graph

import "errors"

var (
	ErrUnknownUnit          = errors.New("graph: unknown unit")
	ErrNodeNotFound         = errors.New("graph: node not found")
	ErrSelfLoop             = errors.New("graph: node cannot depend on itself")
	ErrDuplicateEdge        = errors.New("graph: edge already exists")
	ErrIncompatibleChannels = errors.New("graph: no shared channel between nodes")
	ErrBranchNotAllowed     = errors.New("graph: branch not allowed for unit")
	ErrCycle                = errors.New("graph: cycle detected, graph is not acyclic")
)
