// Package cmap provides a concurrent map sharded by key hash.
//
// Registries that are read on every message and written only when a
// session opens or closes use it instead of a single mutex-guarded map:
//
//	hubs := cmap.New[string, *hub]()
//	h, loaded := hubs.GetOrSet(id, newHub(id))
//	hubs.DeleteIf(id, func(cur *hub) bool { return cur == h })
//
// Every method is safe for concurrent use. Range visits one shard at a
// time under its read lock, so it sees no consistent snapshot of the map.
package cmap
