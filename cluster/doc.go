// Package cluster coordinates the engine instances of one deployment.
//
// Every instance registers a [Worker] record on startup — ID, hostname,
// polled queues, concurrency — and heartbeats it while running. A worker
// whose heartbeat goes quiet past the reap threshold is marked dead, and
// the tasks it was holding become claimable again, so a crashed instance
// mid-mailbox-batch does not strand its work.
//
// The package also elects a single leader per deployment. The leader is
// the instance that fires cron entries and reclaims stale tasks; the
// rest only poll queues. [Store.AcquireLeadership] grants a TTL-bound
// term, and the holder renews it at half the TTL. A leader that stops
// renewing — crashed, partitioned, draining — simply ages out, and the
// next instance to contest the vacant term takes over.
//
// Worker states move Active → Draining → Dead; Draining workers finish
// their in-flight tasks but claim no new ones.
package cluster
