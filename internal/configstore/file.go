package configstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
)

// FileStore persists connectors/destinations/flows as three YAML documents
// in a directory (spec §6: "three documents named connectors, destinations,
// and flows, each a list of specs"). Writes are applied atomically via a
// temp-file-then-rename, and the whole store is guarded by a single mutex;
// the document set is small enough that read/modify/write under one lock is
// simpler than per-document locking and matches the teacher's
// single-process, file-backed config model (lib/config).
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore opens (creating if absent) a file-backed config store rooted
// at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "configstore: failed to create config dir")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(doc string) string {
	return filepath.Join(s.dir, doc+".yaml")
}

func (s *FileStore) readDoc(doc string, out any) error {
	b, err := os.ReadFile(s.path(doc))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: failed to read %s", doc)
	}
	if len(b) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: failed to parse %s", doc)
	}
	return nil
}

func (s *FileStore) writeDoc(doc string, in any) error {
	b, err := yaml.Marshal(in)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: failed to encode %s", doc)
	}
	tmp := s.path(doc) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: failed to write %s", doc)
	}
	if err := os.Rename(tmp, s.path(doc)); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "configstore: failed to commit %s", doc)
	}
	return nil
}

//------------------------------------------------------------------------------
// Connectors

func (s *FileStore) ListConnectors(ctx context.Context) ([]event.ConnectorSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.ConnectorSpec
	if err := s.readDoc("connectors", &specs); err != nil {
		return nil, err
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func (s *FileStore) GetConnector(ctx context.Context, name string) (event.ConnectorSpec, error) {
	specs, err := s.ListConnectors(ctx)
	if err != nil {
		return event.ConnectorSpec{}, err
	}
	for _, c := range specs {
		if c.Name == name {
			return c, nil
		}
	}
	return event.ConnectorSpec{}, errs.NotFound("connector %q not found", name)
}

func (s *FileStore) PutConnector(ctx context.Context, spec event.ConnectorSpec, expectedUpdatedAt time.Time) (event.ConnectorSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.ConnectorSpec
	if err := s.readDoc("connectors", &specs); err != nil {
		return event.ConnectorSpec{}, err
	}
	now := time.Now().UTC()
	idx := -1
	for i, c := range specs {
		if c.Name == spec.Name {
			idx = i
			break
		}
	}
	if idx == -1 {
		if !expectedUpdatedAt.IsZero() {
			return event.ConnectorSpec{}, errs.Conflict("connector %q does not exist", spec.Name)
		}
		spec.CreatedAt = now
		spec.UpdatedAt = now
		specs = append(specs, spec)
	} else {
		if !specs[idx].UpdatedAt.Equal(expectedUpdatedAt) {
			return event.ConnectorSpec{}, errs.Conflict("connector %q was modified concurrently", spec.Name)
		}
		spec.CreatedAt = specs[idx].CreatedAt
		spec.UpdatedAt = now
		specs[idx] = spec
	}
	if err := s.writeDoc("connectors", specs); err != nil {
		return event.ConnectorSpec{}, err
	}
	return spec, nil
}

func (s *FileStore) DeleteConnector(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flows []event.FlowSpec
	if err := s.readDoc("flows", &flows); err != nil {
		return err
	}
	for _, f := range flows {
		if f.ConnectorName == name {
			return errs.Referential("connector %q is referenced by flow %q", name, f.Name)
		}
	}

	var specs []event.ConnectorSpec
	if err := s.readDoc("connectors", &specs); err != nil {
		return err
	}
	kept := specs[:0]
	found := false
	for _, c := range specs {
		if c.Name == name {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return errs.NotFound("connector %q not found", name)
	}
	return s.writeDoc("connectors", kept)
}

//------------------------------------------------------------------------------
// Destinations

func (s *FileStore) ListDestinations(ctx context.Context) ([]event.DestinationSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.DestinationSpec
	if err := s.readDoc("destinations", &specs); err != nil {
		return nil, err
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func (s *FileStore) GetDestination(ctx context.Context, name string) (event.DestinationSpec, error) {
	specs, err := s.ListDestinations(ctx)
	if err != nil {
		return event.DestinationSpec{}, err
	}
	for _, d := range specs {
		if d.Name == name {
			return d, nil
		}
	}
	return event.DestinationSpec{}, errs.NotFound("destination %q not found", name)
}

func (s *FileStore) PutDestination(ctx context.Context, spec event.DestinationSpec, expectedUpdatedAt time.Time) (event.DestinationSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.DestinationSpec
	if err := s.readDoc("destinations", &specs); err != nil {
		return event.DestinationSpec{}, err
	}
	now := time.Now().UTC()
	idx := -1
	for i, d := range specs {
		if d.Name == spec.Name {
			idx = i
			break
		}
	}
	if idx == -1 {
		if !expectedUpdatedAt.IsZero() {
			return event.DestinationSpec{}, errs.Conflict("destination %q does not exist", spec.Name)
		}
		spec.CreatedAt = now
		spec.UpdatedAt = now
		specs = append(specs, spec)
	} else {
		if !specs[idx].UpdatedAt.Equal(expectedUpdatedAt) {
			return event.DestinationSpec{}, errs.Conflict("destination %q was modified concurrently", spec.Name)
		}
		spec.CreatedAt = specs[idx].CreatedAt
		spec.UpdatedAt = now
		specs[idx] = spec
	}
	if err := s.writeDoc("destinations", specs); err != nil {
		return event.DestinationSpec{}, err
	}
	return spec, nil
}

func (s *FileStore) DeleteDestination(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flows []event.FlowSpec
	if err := s.readDoc("flows", &flows); err != nil {
		return err
	}
	for _, f := range flows {
		for _, d := range f.DestinationNames {
			if d == name {
				return errs.Referential("destination %q is referenced by flow %q", name, f.Name)
			}
		}
	}

	var specs []event.DestinationSpec
	if err := s.readDoc("destinations", &specs); err != nil {
		return err
	}
	kept := specs[:0]
	found := false
	for _, d := range specs {
		if d.Name == name {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return errs.NotFound("destination %q not found", name)
	}
	return s.writeDoc("destinations", kept)
}

//------------------------------------------------------------------------------
// Flows

func (s *FileStore) ListFlows(ctx context.Context) ([]event.FlowSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.FlowSpec
	if err := s.readDoc("flows", &specs); err != nil {
		return nil, err
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

func (s *FileStore) GetFlow(ctx context.Context, name string) (event.FlowSpec, error) {
	specs, err := s.ListFlows(ctx)
	if err != nil {
		return event.FlowSpec{}, err
	}
	for _, f := range specs {
		if f.Name == name {
			return f, nil
		}
	}
	return event.FlowSpec{}, errs.NotFound("flow %q not found", name)
}

func (s *FileStore) PutFlow(ctx context.Context, spec event.FlowSpec, expectedUpdatedAt time.Time) (event.FlowSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.FlowSpec
	if err := s.readDoc("flows", &specs); err != nil {
		return event.FlowSpec{}, err
	}
	now := time.Now().UTC()
	idx := -1
	for i, f := range specs {
		if f.Name == spec.Name {
			idx = i
			break
		}
	}
	if idx == -1 {
		if !expectedUpdatedAt.IsZero() {
			return event.FlowSpec{}, errs.Conflict("flow %q does not exist", spec.Name)
		}
		spec.CreatedAt = now
		spec.UpdatedAt = now
		specs = append(specs, spec)
	} else {
		if !specs[idx].UpdatedAt.Equal(expectedUpdatedAt) {
			return event.FlowSpec{}, errs.Conflict("flow %q was modified concurrently", spec.Name)
		}
		spec.CreatedAt = specs[idx].CreatedAt
		spec.UpdatedAt = now
		specs[idx] = spec
	}
	if err := s.writeDoc("flows", specs); err != nil {
		return event.FlowSpec{}, err
	}
	return spec, nil
}

func (s *FileStore) DeleteFlow(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var specs []event.FlowSpec
	if err := s.readDoc("flows", &specs); err != nil {
		return err
	}
	kept := specs[:0]
	found := false
	for _, f := range specs {
		if f.Name == name {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return errs.NotFound("flow %q not found", name)
	}
	return s.writeDoc("flows", kept)
}
