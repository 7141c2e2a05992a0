package errors_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	xe "github.com/opst/vortexflow/pkg/errors"
)

func createError(message string) error {
	return xe.New(message)
}

func TestNewError(t *testing.T) {
	t.Run("it knows location where it is created.", func(t *testing.T) {
		testee := createError("test error")
		errMessage := testee.Error()

		_, thisFile, _, _ := runtime.Caller(0)

		if !strings.Contains(errMessage, "createError") {
			t.Errorf("it does not know function name: %s", errMessage)
		}
		if !strings.Contains(errMessage, thisFile) {
			t.Errorf("it does not know file (%s): %s", thisFile, errMessage)
		}
	})

	t.Run("it supports errors protocol", func(t *testing.T) {
		err := xe.WrapWithNote("outer", fmt.Errorf("%w", xe.ErrReadOnly))
		if !errors.Is(err, xe.ErrReadOnly) {
			t.Error("it does not support unwrapping.")
		}
	})

	t.Run("Wrap(nil) is nil", func(t *testing.T) {
		if err := xe.Wrap(nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestTaxonomy(t *testing.T) {
	for name, testcase := range map[string]struct {
		err  error
		want error
	}{
		"configuration":   {err: xe.Configurationf("no root for %s", "mtool"), want: xe.ErrConfiguration},
		"read-only":       {err: xe.ReadOnlyf("cache %s", "hack"), want: xe.ErrReadOnly},
		"not implemented": {err: xe.NotImplementedf("scheme %s", "gopher"), want: xe.ErrNotImplemented},
		"invalid remote":  {err: xe.InvalidRemotef("path %s", "/a"), want: xe.ErrInvalidRemote},
	} {
		t.Run(name, func(t *testing.T) {
			if !errors.Is(testcase.err, testcase.want) {
				t.Errorf("%v is not %v", testcase.err, testcase.want)
			}
			if !strings.Contains(testcase.err.Error(), testcase.want.Error()) {
				t.Errorf("message does not mention category: %s", testcase.err)
			}
		})
	}
}
