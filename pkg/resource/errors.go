package resource

import (
	"errors"
	"fmt"
)

// ErrNormalization is matched by every *NormalizationError.
var ErrNormalization = errors.New("normalization failed")

// NormalizationError reports a resource that cannot be compared.
// The resource is skipped; the rest of the scan proceeds.
type NormalizationError struct {
	Type    string
	Region  string
	Address string
	Source  Source
	Reason  string
}

func (e *NormalizationError) Error() string {
	where := e.Address
	if where == "" {
		where = e.Type
	}
	return fmt.Sprintf("normalize %s %s (%s): %s", e.Source, where, e.Region, e.Reason)
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrNormalization
}
