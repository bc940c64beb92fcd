// Package middleware decorates the persistence ports. Middlewares wrap
// a store and pass every call through, transforming the payload on the
// way in and out.
package middleware

import "github.com/oat-sa/tao-offline-runner/pkg/ports"

// ItemMiddleware wraps an item cache.
type ItemMiddleware func(next ports.ItemStore) ports.ItemStore

// ActionMiddleware wraps an action queue.
type ActionMiddleware func(next ports.ActionStore) ports.ActionStore
