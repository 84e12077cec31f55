package server

import (
	"context"
	"io"
)

// GhostSave writes tenantID's ghost cache checkpoint to w.
func (s *Instance) GhostSave(ctx context.Context, tenantID string, w io.Writer) error {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return err
	}
	var saveErr error
	if err := t.exec(ctx, func() { saveErr = t.ghostCache.Save(w) }); err != nil {
		return err
	}
	return saveErr
}

// GhostLoad replaces tenantID's ghost cache contents with a checkpoint
// previously produced by GhostSave.
func (s *Instance) GhostLoad(ctx context.Context, tenantID string, r io.Reader) error {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return err
	}
	var loadErr error
	if err := t.exec(ctx, func() { loadErr = t.ghostCache.Load(r) }); err != nil {
		return err
	}
	return loadErr
}
