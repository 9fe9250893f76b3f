package flume_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maxatome/go-testdeep/td"

	"github.com/fogfactory/flume"
	"github.com/fogfactory/flume/file"
	"github.com/fogfactory/flume/mem"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("success_register_and_resolve", func(t *testing.T) {
		// Arrange
		reg := flume.NewRegistry()
		td.Require(t).CmpNoError(mem.Register(reg))

		// Act
		driver, err := reg.New("mem", flume.Config{"items": []any{1, 2, 3}})

		// Assert
		td.CmpNoError(t, err)
		got, err := flume.From[any](driver).Collect(ctx)
		td.CmpNoError(t, err)
		td.Cmp(t, got, []any{1, 2, 3})
	})

	t.Run("duplicate_registration_fails", func(t *testing.T) {
		// Arrange
		reg := flume.NewRegistry()
		td.Require(t).CmpNoError(mem.Register(reg))

		// Act
		err := mem.Register(reg)

		// Assert
		td.CmpTrue(t, errors.Is(err, flume.ErrConfig))
	})

	t.Run("unknown_driver_fails", func(t *testing.T) {
		// Arrange
		reg := flume.NewRegistry()

		// Act
		_, err := reg.New("nope", nil)

		// Assert
		td.CmpTrue(t, errors.Is(err, flume.ErrConfig))
	})

	t.Run("names_are_sorted", func(t *testing.T) {
		// Arrange
		reg := flume.NewRegistry()
		td.Require(t).CmpNoError(mem.Register(reg))
		td.Require(t).CmpNoError(file.Register(reg))

		// Act + Assert
		td.Cmp(t, reg.Names(), []string{"file", "mem"})
	})

	t.Run("erase_keeps_driver_semantics", func(t *testing.T) {
		// Arrange
		typed := mem.New([]int{7, 8}, mem.SinglePass())

		// Act
		erased := flume.Erase[int](typed)

		// Assert
		td.CmpFalse(t, erased.Restartable())
		it, err := erased.Open(ctx)
		td.Require(t).CmpNoError(err)
		t.Cleanup(func() { _ = it.Close() })
		v, err := it.Next()
		td.CmpNoError(t, err)
		td.Cmp(t, v, 7)
	})
}
