package flume

// OpCount returns the number of chained operations, for tests.
func (p *Pipeline[T]) OpCount() int {
	return len(p.ops)
}
