package version_test

import (
	"testing"

	"github.com/sidmohan0/kanbun/internal/version"
)

func TestVersionIsSet(t *testing.T) {
	t.Parallel()

	if version.String() == "" {
		t.Fatal("version.String() must not be empty")
	}
}
