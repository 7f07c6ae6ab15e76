/*
Package rmember keeps the membership table of a ckv cloud in a dragonboat
raft shard.

Nodes join the table while the cloud forms. Once an operator (or the first
node after the expected size is reached) locks the table, it never changes
again; every node builds the same cluster.Cloud from the locked table.

The state machine applies two commands:

	Join(name, endpoint)  add or update a member (rejected after Lock)
	Lock                  freeze the table

Usage:

	nh, _ := dragonboat.NewNodeHost(nhConfig)
	_ = nh.StartReplica(initialMembers, false, rmember.NewStateMachine, raftConfig)

	t := rmember.NewTable(nh, shardID, 5*time.Second)
	_ = t.Join(ctx, "node-1", "tcp:10.0.0.1:7000")
	cloud, _ := t.WaitLocked(ctx, "node-1")
*/
package rmember
