/*
Package domain contains the core domain models for the offline delivery proxy.

It defines the entities shared by every layer: cached item definitions,
pending (undelivered) actions, the navigation tree (TestMap) and position
(TestContext), connectivity states, lifecycle events, and the error
taxonomy. This package is kept pure and free of external dependencies
like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - CachedItem: An item definition plus its latest submitted state, held locally.
  - PendingAction: A state-changing action queued while the server is unreachable.
  - TestMap / TestContext: The navigation tree and the current position within it.
  - SyncEvent / LifecycleHooks: Observable transitions of the sync proxy.
*/
package domain
