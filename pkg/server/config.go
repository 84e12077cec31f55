package server

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/ghost"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

// ConfigGet returns the instance's current configuration snapshot.
// Configuration is instance-wide, not per-tenant: every tenant shares one
// backing-store table name / mock mode, admit_write policy, and
// ghost-cache sampling range, matching the source's process-wide
// `hopper::config` globals.
func (s *Instance) ConfigGet() config.Snapshot {
	return s.cfg.Snapshot()
}

// ConfigSetDynamoTable sets dynamo.table. Pure bookkeeping: the table
// name is only consulted the next time a backend connection is
// established, matching the source's "safe to modify concurrently only
// because submission runs on the main thread" comment.
func (s *Instance) ConfigSetDynamoTable(name string) {
	s.cfg.SetDynamoTable(name)
}

// ConfigSetAdmitWrite sets cache.admit_write.
func (s *Instance) ConfigSetAdmitWrite(admit bool) {
	s.cfg.SetAdmitWrite(admit)
}

// ConfigDisableMock records dynamo.mock as disabled in the config store.
// Tenants' storage backends are left as they are: a tenant registered with
// a MockBackend keeps serving from it.
func (s *Instance) ConfigDisableMock(ctx context.Context) error {
	s.cfg.DisableMock()
	return nil
}

// ConfigSetMockFormat applies "dynamo.mock format keySize valSize":
// validates and records the format in the config store, then reconfigures
// every tenant's mock backend, if it has one, to synthesize values in
// that format. Grounded on storage::update_mock_format being called only
// after config validation succeeds.
func (s *Instance) ConfigSetMockFormat(ctx context.Context, keySize, valSize uint32) error {
	if err := s.cfg.SetMockFormat(keySize, valSize); err != nil {
		return err
	}
	for _, t := range s.allTenants() {
		mb, ok := t.backend.(*storage.MockBackend)
		if !ok {
			continue
		}
		if err := t.exec(ctx, func() {
			_ = mb.SetFormat(keySize, valSize)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ConfigSetMockImage applies "dynamo.mock image path...": records the
// paths in the config store and loads each into every tenant's mock
// backend's image map.
func (s *Instance) ConfigSetMockImage(ctx context.Context, open func(path string) (io.ReadCloser, error), paths []string) error {
	for _, t := range s.allTenants() {
		mb, ok := t.backend.(*storage.MockBackend)
		if !ok {
			continue
		}
		if err := t.exec(ctx, func() { mb.EnableImage() }); err != nil {
			return err
		}
		for _, p := range paths {
			r, err := open(p)
			if err != nil {
				return errors.Wrapf(err, "server: opening image file %q", p)
			}
			loadErr := t.exec(ctx, func() {
				err = mb.LoadImage(r)
			})
			r.Close()
			if loadErr != nil {
				return loadErr
			}
			if err != nil {
				return errors.Wrapf(err, "server: loading image file %q", p)
			}
		}
	}
	s.cfg.SetMockImage(paths)
	return nil
}

// ConfigSetGhostRange applies "ghost.range tick minTick maxTick": rounds
// and validates the new range via the config store, then rebuilds every
// tenant's ghost cache from scratch with it — mirroring the source's
// ghost::init() call, generalized from one process-wide ghost cache to
// one per tenant.
func (s *Instance) ConfigSetGhostRange(ctx context.Context, tick, minTick, maxTick uint64) error {
	gr, err := s.cfg.SetGhostRange(tick, minTick, maxTick)
	if err != nil {
		return err
	}
	for _, t := range s.allTenants() {
		gc, err := ghost.New(gr.Tick, gr.MinTick, gr.MaxTick)
		if err != nil {
			return err
		}
		if err := t.exec(ctx, func() { t.ghostCache = gc }); err != nil {
			return err
		}
	}
	return nil
}
