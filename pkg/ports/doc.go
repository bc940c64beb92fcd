/*
Package ports defines the driven ports (interfaces) for the delivery proxy.

These interfaces decouple the core logic from external implementations,
allowing the proxy to work with various storage backends, transports and
connectivity signals.

# Key Interfaces

  - ItemStore: TTL- and size-bounded cache of item definitions.
  - ActionStore: durable, ordered queue of pending actions.
  - Transport: the abstract "send to server" capability.
  - ConnectivityMonitor: online/offline state and reconnect signal.
  - Exporter: persists the undelivered queue for manual replay.
*/
package ports
