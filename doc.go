/*
Package taorunner is an offline-resilient delivery proxy for QTI test
sessions. It sits between a test-taking frontend and the delivery
server, keeps the session usable through network loss, and reconciles
every deferred action once connectivity returns.

# Concept

Every action (move, skip, submitItem, exitTest, ...) goes through a
sync proxy. Online, the proxy delegates to the server and refreshes the
local navigation state from the response. Offline, it queues the action
durably and resolves it locally against a replica of the server's
navigation rules and a bounded item cache, so the test-taker keeps
progressing. On reconnect the whole queue replays as one batch, in
order, all-or-nothing: no action is ever lost, and actions the server
already applied are surfaced as conflicts instead of being retried.

# Key properties

  - Durable queue: a pending action lives in exactly one place, the
    store or the in-flight batch, never neither.
  - Deterministic offline navigation: linear parts, scoped moves and
    jump rules behave the way the server would.
  - Blocking lifecycle actions: exitTest, timeout and pause never
    pretend to succeed offline; the frontend is told to sync or export.

# Usage

	runner, err := taorunner.New("session-42",
		taorunner.WithServerURL("https://tao.example.com/taoQtiTest/Runner"),
		taorunner.WithHeader("X-Auth-Token", token),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer runner.Close()

	runner.Init(ctx, testMap, testContext)
	res, err := runner.Move(ctx, domain.DirectionNext, domain.ScopeItem, 0)

Stores are pluggable: the defaults cache in memory, while the file and
redis adapters under pkg/adapters survive a process restart.
*/
package taorunner
