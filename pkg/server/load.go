package server

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/chenhao-ye/hopperkv/pkg/ghost"
)

// loadHeader is the required first line of a Load CSV, matching the
// source's hard-coded format check.
const loadHeader = "key,val_size"

// Load bulk-populates tenantID's cache and ghost cache from a CSV stream
// of "key,val_size" rows: each value is synthesized as val_size repeated
// 'v' bytes. Like SetC, this only warms the cache and ghost cache for
// MRC sampling — it never touches stats, the rate limiter, or the
// storage worker.
func (s *Instance) Load(ctx context.Context, tenantID string, r *bufio.Scanner) error {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return err
	}

	if !r.Scan() {
		return errors.New("server: empty load file")
	}
	if r.Text() != loadHeader {
		return errors.New("server: invalid load file format")
	}

	for r.Scan() {
		line := r.Text()
		key, sizeStr, ok := strings.Cut(line, ",")
		if !ok {
			return errors.New("server: invalid load file format")
		}
		valSize, err := strconv.Atoi(sizeStr)
		if err != nil || valSize < 0 {
			return errors.New("server: invalid load file format")
		}
		value := strings.Repeat("v", valSize)

		if err := t.exec(ctx, func() {
			t.cache[key] = value
			t.ghostCache.Access(key, uint32(len(key)+len(value)), ghost.Noop)
		}); err != nil {
			return err
		}
	}
	if err := r.Err(); err != nil {
		return errors.Wrap(err, "server: reading load file")
	}
	return nil
}
