// Package coherence keeps the cached views of interdependent storefront
// modules consistent as mutations flow through them.
//
// Modules announce mutations as events. The coordinator debounces bursts
// into batches, resolves the registered dependency edges against each
// batch, and issues the winning command per affected cache key:
// invalidate (mark stale), refresh (background refetch), or optimistic
// (splice the payload into the cached collection). Around that core it
// provides cache warming, bounded retries, optimistic updates with exact
// snapshot rollback, and multi-step transactions with reverse-order
// compensation.
//
// Typical wiring:
//
//	store := cache.NewMemoryStore()
//	co := coherence.New(store)
//	defer co.Close(ctx)
//
//	co.RegisterFetcher("sales", fetchSales)
//	co.RegisterDependency(graph.Edge{
//		Source:   "products",
//		Targets:  []string{"sales", "reports"},
//		Strategy: graph.StrategyInvalidate,
//		Weight:   10,
//	})
//
//	co.Emit(ctx, event.New("product.updated", "products", event.OpUpdate, "p-1", changes))
//
// The event is delivered synchronously to subscribers, then coalesced
// with any others arriving inside the batch window; when the window
// closes, the sales and reports caches are invalidated once, regardless
// of how many product events the burst contained.
package coherence
