// Package dynamo provides the primitives shared by every stage of the
// barrier solver.
//
// The package defines:
//
//   - [Context]: per-evaluation tick information (dt, Newton iteration, time)
//   - [Settings]: solver settings carried by the simulated system
//   - sentinel errors for validation failures
//   - [ParallelFor]: chunked fan-out used for per-constraint work
//
// # Example
//
//	settings := dynamo.DefaultSettings()
//	ctx := dynamo.Context{Dt: settings.Dt}
//	dynamo.ParallelFor(len(states), 64, func(start, end int) {
//		for i := start; i < end; i++ {
//			out[i] = cs[i].Evaluate(states[i], ctx)
//		}
//	})
//
// # Thread Safety
//
// Context and Settings are plain values. ParallelFor callbacks must write
// to disjoint output slots.
package dynamo
