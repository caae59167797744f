// Package container provides the disposable component scope a task runs in.
//
// Components are registered as tagged variants: Ready wraps a built instance and
// Deferred wraps a constructor that runs on first lookup, with its parameters resolved
// from the same container or its parent. Lookup is by assignability to the requested
// type: exactly one match is required by Resolve, ResolveAll returns every match.
//
//	root := container.New(nil)
//	_ = root.Register(container.Ready(store))
//
//	scope := container.New(root, container.WithName("task "+task.ID))
//	defer scope.Close()
//	_ = scope.Register(container.Ready(task), container.Deferred(NewLoadStep))
//	s, err := container.Resolve[*LoadStep](scope)
//
// Close releases, in reverse order, what the container built or started. A failed
// release is logged and reported in a *CleanupError without stopping the others.
package container
