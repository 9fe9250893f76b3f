package flume_test

import (
	"context"
	"io"

	"go.uber.org/atomic"

	"github.com/fogfactory/flume"
)

// countingDriver yields 0..n-1 (or an infinite sequence when n < 0) and
// records pulls, opens and closes, to observe what the pipeline does with its
// upstream.
type countingDriver struct {
	n      int
	pulls  atomic.Int64
	opens  atomic.Int64
	closes atomic.Int64
}

func (d *countingDriver) Restartable() bool { return true }

func (d *countingDriver) Open(context.Context) (flume.Iterator[int], error) {
	d.opens.Inc()
	return &countingIterator{d: d}, nil
}

type countingIterator struct {
	d   *countingDriver
	pos int
}

func (it *countingIterator) Next() (int, error) {
	if it.d.n >= 0 && it.pos >= it.d.n {
		return 0, io.EOF
	}
	it.d.pulls.Inc()
	v := it.pos
	it.pos++
	return v, nil
}

func (it *countingIterator) Close() error {
	it.d.closes.Inc()
	return nil
}

// brokenDriver yields 0..after-1 then fails with err.
type brokenDriver struct {
	after int
	err   error
}

func (d *brokenDriver) Restartable() bool { return true }

func (d *brokenDriver) Open(context.Context) (flume.Iterator[int], error) {
	return &brokenIterator{d: d}, nil
}

type brokenIterator struct {
	d   *brokenDriver
	pos int
}

func (it *brokenIterator) Next() (int, error) {
	if it.pos >= it.d.after {
		return 0, it.d.err
	}
	v := it.pos
	it.pos++
	return v, nil
}

func (it *brokenIterator) Close() error { return nil }

// failingDriver cannot even open.
type failingDriver struct {
	err error
}

func (d failingDriver) Restartable() bool { return true }

func (d failingDriver) Open(context.Context) (flume.Iterator[int], error) {
	return nil, d.err
}
