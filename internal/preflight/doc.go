// Package preflight checks that searchidx can run before it does any work:
// the search engine answers, the embedder produces vectors of the expected
// size, the cache accepts writes and the host has room for the data
// directory and enough file descriptors for the configured concurrency.
//
//	checker := preflight.New(preflight.WithOutput(os.Stdout))
//	results := checker.Run(ctx,
//	    checker.SearchEngine(searcher),
//	    checker.Embedder(embedder, 384),
//	)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
