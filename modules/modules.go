// Package modules declares the interfaces between the major subsystems: the
// chain node, the coordinator, the pool hub, and the gossip layer. Each
// subsystem implements its interface in a subpackage and takes its
// dependencies as interfaces declared here, which keeps the dependency graph
// acyclic and lets tests substitute any piece.
package modules

// Directory names used by each module inside the daemon's data directory.
const (
	// ChainDir is the chain node's persist folder.
	ChainDir = "chain"
	// CoordinatorDir is the coordinator's persist folder.
	CoordinatorDir = "coordinator"
	// PoolHubDir is the pool hub's persist folder.
	PoolHubDir = "poolhub"
)
