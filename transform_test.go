package flume_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"

	"github.com/fogfactory/flume"
	"github.com/fogfactory/flume/mem"
)

func TestTransforms(t *testing.T) {
	ctx := context.Background()

	t.Run("success_map_filter", func(t *testing.T) {
		// Arrange
		p := flume.From[int](mem.New(lo.RangeFrom(1, 10))).
			Map(func(i int) int { return i * 2 }).
			Filter(func(i int) bool { return i%4 == 0 })

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, []int{4, 8, 12, 16, 20})
	})

	t.Run("success_reference_equivalence", func(t *testing.T) {
		// Arrange
		input := lo.Range(50)
		triple := func(i int) int { return i * 3 }
		even := func(i int) bool { return i%2 == 0 }
		split := func(i int) []int { return []int{i, i + 1} }
		want := lo.FlatMap(
			lo.Filter(
				lo.Map(input, func(i, _ int) int { return triple(i) }),
				func(i, _ int) bool { return even(i) }),
			func(i, _ int) []int { return split(i) })
		p := flume.From[int](mem.New(input)).Map(triple).Filter(even).FlatMap(split)

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, want, "pipeline output equals the sequential application")
	})

	t.Run("success_flat_map_concatenates_in_order", func(t *testing.T) {
		// Arrange
		p := flume.From[int](mem.New([]int{1, 2, 3})).
			FlatMap(func(i int) []int { return []int{i, i * 10} })

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, []int{1, 10, 2, 20, 3, 30})
	})

	t.Run("success_batch_partial_tail", func(t *testing.T) {
		// Arrange
		p := flume.Batch(flume.From[int](mem.New(lo.RangeFrom(1, 6))), 4)

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, [][]int{{1, 2, 3, 4}, {5, 6}})
	})

	t.Run("success_batch_drop_partial", func(t *testing.T) {
		// Arrange
		p := flume.Batch(flume.From[int](mem.New(lo.RangeFrom(1, 6))), 4, flume.DropPartial())

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, [][]int{{1, 2, 3, 4}})
	})

	t.Run("config_error_batch_size_zero", func(t *testing.T) {
		// Arrange
		p := flume.Batch(flume.From[int](mem.New(lo.Range(3))), 0)

		// Act
		_, err := p.Collect(ctx)

		// Assert
		td.CmpTrue(t, errors.Is(err, flume.ErrConfig))
	})

	t.Run("success_skip_then_take", func(t *testing.T) {
		// Arrange
		p := flume.From[int](mem.New(lo.Range(10))).Skip(2).Take(3)

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, []int{2, 3, 4})
	})

	t.Run("success_skip_past_exhaustion", func(t *testing.T) {
		// Arrange
		p := flume.From[int](mem.New(lo.Range(5))).Skip(20)

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.CmpLen(t, got, 0)
	})

	t.Run("take_terminates_an_infinite_source", func(t *testing.T) {
		// Arrange
		driver := &countingDriver{n: -1}

		// Act
		got, err := flume.From[int](driver).Take(5).Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, lo.Range(5))
		td.Cmp(t, driver.pulls.Load(), int64(5), "no over-pull past the quota")
		td.Cmp(t, driver.closes.Load(), int64(1), "upstream released eagerly")
	})

	t.Run("take_zero_pulls_nothing", func(t *testing.T) {
		// Arrange
		driver := &countingDriver{n: -1}

		// Act
		got, err := flume.From[int](driver).Take(0).Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.CmpLen(t, got, 0)
		td.Cmp(t, driver.pulls.Load(), int64(0))
	})

	t.Run("success_typed_map", func(t *testing.T) {
		// Arrange
		p := flume.Map(flume.From[int](mem.New([]int{1, 2, 3})), strconv.Itoa)

		// Act
		got, err := p.Collect(ctx)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, got, []string{"1", "2", "3"})
	})

	t.Run("panic_in_transform_becomes_transform_error", func(t *testing.T) {
		// Arrange
		p := flume.From[int](mem.New([]int{1})).Map(func(int) int { panic("boom") })

		// Act
		_, err := p.Collect(ctx)

		// Assert
		var te *flume.TransformError
		td.CmpTrue(t, errors.As(err, &te))
		td.CmpContains(t, err.Error(), "boom")
	})

	t.Run("error_in_transform_keeps_its_cause", func(t *testing.T) {
		// Arrange
		cause := errors.New("bad record")
		p := flume.From[int](mem.New([]int{1})).MapErr(func(int) (int, error) { return 0, cause })

		// Act
		_, err := p.Collect(ctx)

		// Assert
		var te *flume.TransformError
		td.CmpTrue(t, errors.As(err, &te))
		td.CmpTrue(t, errors.Is(err, cause))
	})
}
