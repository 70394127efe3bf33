package members

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("member not found")
	ErrEmptyImport = errors.New("nothing to import")
)

// ImportError lists the 1-based lines that have no name.
type ImportError struct {
	Lines []int
}

func (e *ImportError) Error() string {
	nums := make([]string, len(e.Lines))
	for i, n := range e.Lines {
		nums[i] = fmt.Sprint(n)
	}
	return "every member needs a name (lines " + strings.Join(nums, ", ") + ")"
}
