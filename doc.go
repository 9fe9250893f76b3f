/*
flume allows to consume named data sources through a uniform, lazily-evaluated, composable iteration pipeline, whatever the storage behind them.

A pipeline starts from a Driver, a small contract abstracting one storage or format backend (local files, object storage, memory, ...). The core never
looks inside an item: it forwards it, transforms it through injected functions, or drops it. Chain-building operations (Map, Filter, FlatMap, Take, Skip,
Shuffle, Prefetch as methods; Batch and the typed Map as free functions since they change the item type) each return a new pipeline value, so a definition
can be reused to spawn any number of independent iterations. Nothing runs at
construction: the driver opens on Iterate, and every stage pulls on demand.

Prefetch and Shuffle insert the only concurrent piece: a pool of workers pulling the upstream (one pull at a time, the upstream is not safe for
concurrent use) and a bounded staging buffer between those workers and the consumer. Producers block when the buffer is full, never drop. The transforms
declared between the previous stage boundary and the buffer run on the workers, which is how a decode or enrichment step spreads over several goroutines
while the rest of the pipeline stays single-threaded.

Shuffling is windowed: emission picks at random among the oldest items within a configurable horizon. This is a deliberate memory/quality tradeoff, it
randomizes locally with bounded memory instead of materializing the dataset. Ordered execution re-sequences concurrent results back to the upstream
order; combining it with shuffling is refused at iteration time since the two contradict each other.

Worker pool sizing follows the same reasoning as any bounded concurrency tuning: a large pool suits stages that wait (remote reads), a pool sized to cpu
count suits stages that compute. As for any performance tuning, you should try and tune.
*/

package flume
