// Package registry resolves a claimed NPI against the authoritative CMS
// registry and normalizes the outcome into a single record shape. "Not
// found" and "lookup failed" both degrade to Found=false; only diagnostics
// distinguish them.
package registry

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/resilience"
	"github.com/sells-group/ave/pkg/npi"
)

// minNPILength is the shortest identifier worth a network lookup. Anything
// shorter is obviously fake or truncated and is rejected locally.
const minNPILength = 5

// Gateway looks up an authoritative registry record by NPI.
type Gateway interface {
	Lookup(ctx context.Context, number string) model.RegistryRecord
}

type gateway struct {
	client  npi.Client
	breaker *resilience.Breaker
}

// New creates a Gateway over the given NPI client. A circuit breaker guards
// the client so a registry outage mid-roster degrades each remaining lookup
// immediately instead of timing out one candidate at a time.
func New(client npi.Client) Gateway {
	breakerCfg := resilience.DefaultBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		zap.L().Warn("registry: circuit state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &gateway{client: client, breaker: resilience.NewBreaker(breakerCfg)}
}

// Lookup resolves the NPI. A missing or obviously invalid identifier is
// rejected without calling the registry at all.
func (g *gateway) Lookup(ctx context.Context, number string) model.RegistryRecord {
	number = strings.TrimSpace(number)
	if number == "" || strings.EqualFold(number, "null") || len(number) < minNPILength {
		zap.L().Debug("registry: skipping lookup, NPI missing or invalid",
			zap.String("npi", number),
		)
		return model.RegistryRecord{
			NPI:    number,
			Found:  false,
			Status: "Not Found (No NPI)",
		}
	}

	resp, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*npi.SearchResponse, error) {
		return g.client.Search(ctx, number)
	})
	if err != nil {
		zap.L().Warn("registry: lookup failed",
			zap.String("npi", number),
			zap.Error(err),
		)
		return model.RegistryRecord{
			NPI:   number,
			Found: false,
			Error: err.Error(),
		}
	}

	if len(resp.Results) == 0 {
		return model.RegistryRecord{
			NPI:    number,
			Found:  false,
			Status: "Not Found",
		}
	}

	return normalize(resp.Results[0])
}

// normalize flattens a raw registry result into the record shape the score
// engine consumes.
func normalize(r npi.Result) model.RegistryRecord {
	primary := primaryTaxonomy(r.Taxonomies)
	return model.RegistryRecord{
		NPI:              r.Number.String(),
		OfficialName:     officialName(r.Basic),
		EnumerationType:  r.EnumerationType,
		Specialty:        specialtyDesc(primary),
		OrganizationName: r.Basic.OrganizationName,
		Address:          formatAddress(primaryAddress(r.Addresses)),
		LicenseNumber:    licenseNumber(primary),
		Status:           r.Basic.Status,
		Found:            true,
	}
}

func officialName(b npi.Basic) string {
	name := strings.TrimSpace(strings.Join(nonEmpty(b.FirstName, b.LastName, b.Credential), " "))
	if name == "" {
		return b.OrganizationName
	}
	return name
}

// primaryAddress prefers the practice location over the mailing address.
func primaryAddress(addrs []npi.Address) npi.Address {
	for _, a := range addrs {
		if a.AddressPurpose == "LOCATION" {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return npi.Address{}
}

// formatAddress joins line 1, line 2, city, state, and postal code with
// commas, skipping empty parts.
func formatAddress(a npi.Address) string {
	return strings.Join(nonEmpty(a.Address1, a.Address2, a.City, a.State, a.PostalCode), ", ")
}

// primaryTaxonomy returns the first taxonomy flagged primary, or nil.
func primaryTaxonomy(taxonomies []npi.Taxonomy) *npi.Taxonomy {
	for i, t := range taxonomies {
		if t.Primary {
			return &taxonomies[i]
		}
	}
	return nil
}

func specialtyDesc(t *npi.Taxonomy) string {
	if t == nil {
		return "Unknown"
	}
	return t.Desc
}

func licenseNumber(t *npi.Taxonomy) string {
	if t == nil {
		return ""
	}
	return t.License
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
