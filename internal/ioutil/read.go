package ioutil

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned by ReadAll when the input exceeds the limit
var ErrTooLarge = errors.New("body exceeds size limit")

// ReadAll reads r to EOF but refuses to buffer more than limit bytes.
// Unlike io.LimitReader it reports oversized input instead of truncating it.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return body, nil
}
