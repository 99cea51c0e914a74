package model

// RegistryRecord is the authoritative counterpart of a Candidate, as
// normalized by the registry gateway. Found=false is a first-class outcome
// ("no authoritative match") and short-circuits scoring; it is not an error.
type RegistryRecord struct {
	NPI              string `json:"npi_number"`
	OfficialName     string `json:"provider_name,omitempty"`
	EnumerationType  string `json:"enumeration_type,omitempty"`
	Specialty        string `json:"primary_specialty,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	Address          string `json:"address,omitempty"`
	LicenseNumber    string `json:"license_number,omitempty"`
	Status           string `json:"status,omitempty"`
	Found            bool   `json:"registry_found"`

	// Error carries the lookup failure that degraded this record to
	// Found=false. Diagnostics only; scoring treats it exactly like a
	// clean "not found".
	Error string `json:"error,omitempty"`
}
