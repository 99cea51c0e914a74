package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/ave/internal/model"
)

// --- Extraction Gateway Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, document []byte, filename, mode string) ([]model.Candidate, error) {
	args := m.Called(ctx, document, filename, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Candidate), args.Error(1)
}

// --- Registry Gateway Stub ---

// stubRegistry routes lookups through a function so tests can count calls
// and trigger side effects (like cancelling the job mid-run).
type stubRegistry struct {
	lookup func(ctx context.Context, number string) model.RegistryRecord
	calls  int
}

func (s *stubRegistry) Lookup(ctx context.Context, number string) model.RegistryRecord {
	s.calls++
	if s.lookup != nil {
		return s.lookup(ctx, number)
	}
	return model.RegistryRecord{NPI: number, Found: false, Status: "Not Found"}
}

// foundRecord returns a registry record that matches the candidate exactly.
func foundRecord(c model.Candidate) model.RegistryRecord {
	return model.RegistryRecord{
		NPI:           c.NPI,
		OfficialName:  c.FullName,
		Specialty:     c.Specialty,
		Address:       c.Address,
		LicenseNumber: c.License,
		Status:        "A",
		Found:         true,
	}
}
