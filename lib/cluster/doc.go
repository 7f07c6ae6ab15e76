// Package cluster describes the set of nodes taking part in a ckv cloud.
//
// A Cloud is an immutable membership snapshot. Every node builds the same
// snapshot from the same member list: member names are sorted and indexed
// 0..n-1, so a NodeIndex names the same node everywhere. The index is the bit
// a node occupies in a value's replica bitmask, which is why a cloud holds at
// most MaxTrackedNodes members.
//
// The home node of a key is chosen by rendezvous hashing over the member names.
// The choice depends only on the key hash and the membership, so every node
// routes a key to the same home without coordination.
//
// Membership can be static (a list of name=endpoint pairs) or agreed upon with
// the raft backed table in the rmember sub package.
package cluster
