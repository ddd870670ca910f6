package bleproxy

import (
	"testing"

	"github.com/pkg/errors"
)

func TestErrorClassification(t *testing.T) {
	err := errors.Wrapf(ErrUnavailable, "no %v acl credits", "le")
	err = errors.Wrap(err, "can't send notification")

	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable: %v", err)
	}
	if IsInvalidArgument(err) || IsResourceExhausted(err) || IsFailedPrecondition(err) {
		t.Fatalf("misclassified: %v", err)
	}
	if IsInvalidArgument(errors.New("invalid argument")) {
		t.Fatalf("matched by message instead of identity")
	}
}
