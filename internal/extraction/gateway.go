// Package extraction turns raw document bytes into candidate provider
// records by instructing a multimodal Claude model. Document understanding
// stays behind this boundary; everything downstream is deterministic.
package extraction

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/config"
	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/pkg/anthropic"
)

// Extraction modes. The mode is passed through to the model instruction;
// the gateway never decides how many candidates to keep.
const (
	ModeSingle = "single"
	ModeBatch  = "batch"
)

// ErrExtractionFailed marks a failure that aborts the whole run for the
// document: unreachable service, malformed output, or no parseable
// structure. Partial extraction results are never usable.
var ErrExtractionFailed = eris.New("extraction failed")

// Gateway extracts candidate provider records from an uploaded document.
type Gateway interface {
	Extract(ctx context.Context, document []byte, filename, mode string) ([]model.Candidate, error)
}

const systemPrompt = "You are a medical document analyst extracting provider information. " +
	"Extract ONLY what is explicitly visible in the document. Do NOT guess or hallucinate values. " +
	"Return only raw JSON with no markdown formatting."

const extractionPrompt = `Analyze this medical document and extract provider information.

%MODE%

Return a JSON array of provider objects with these fields:
- full_name: The provider's full name
- npi: NPI number (digits only, or null if not found)
- specialty: Medical specialty
- address: Full address
- license: License number

If the NPI is missing or not clear, set it to null.`

const (
	batchInstruction  = "Extract ALL providers found in the document."
	singleInstruction = "Extract ONLY the MAIN provider. Ignore others if multiple exist."
)

type gateway struct {
	client anthropic.Client
	cfg    config.ExtractionConfig
}

// New creates a Gateway backed by the given Anthropic client.
func New(client anthropic.Client, cfg config.ExtractionConfig) Gateway {
	return &gateway{client: client, cfg: cfg}
}

func (g *gateway) Extract(ctx context.Context, document []byte, filename, mode string) ([]model.Candidate, error) {
	instruction := batchInstruction
	if mode == ModeSingle {
		instruction = singleInstruction
	}
	prompt := strings.Replace(extractionPrompt, "%MODE%", instruction, 1)

	parts := []anthropic.ContentPart{documentPart(document, filename), anthropic.TextPart(prompt)}

	timeout := time.Duration(g.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: parts}},
	})
	if err != nil {
		return nil, eris.Wrap(ErrExtractionFailed, err.Error())
	}
	resp.Usage.Log(g.cfg.Model, "extraction")

	candidates, err := parseCandidates(resp.Text())
	if err != nil {
		zap.L().Error("extraction: unparseable model output",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return nil, eris.Wrap(ErrExtractionFailed, err.Error())
	}

	zap.L().Info("extraction: complete",
		zap.String("filename", filename),
		zap.String("mode", mode),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// documentPart picks the content block type from the file extension. Plain
// text and CSV go inline as a text part; everything else is sent as a
// binary document or image block.
func documentPart(document []byte, filename string) anthropic.ContentPart {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return anthropic.DocumentPart(document, "application/pdf")
	case ".png":
		return anthropic.ImagePart(document, "image/png")
	case ".jpg", ".jpeg":
		return anthropic.ImagePart(document, "image/jpeg")
	case ".gif":
		return anthropic.ImagePart(document, "image/gif")
	case ".webp":
		return anthropic.ImagePart(document, "image/webp")
	default:
		return anthropic.TextPart("DOCUMENT CONTENT:\n" + string(document))
	}
}

// rawCandidate mirrors the JSON shape the model is instructed to return.
type rawCandidate struct {
	FullName  string  `json:"full_name"`
	NPI       *string `json:"npi"`
	Specialty string  `json:"specialty"`
	Address   string  `json:"address"`
	License   string  `json:"license"`
}

// parseCandidates normalizes the model output: markdown fences are
// stripped, a single object is wrapped into a one-element list, and a
// non-numeric or empty NPI becomes empty.
func parseCandidates(raw string) ([]model.Candidate, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, eris.New("extraction: empty model output")
	}

	var rawList []rawCandidate
	if err := json.Unmarshal([]byte(cleaned), &rawList); err != nil {
		var single rawCandidate
		if objErr := json.Unmarshal([]byte(cleaned), &single); objErr != nil {
			return nil, eris.Wrap(err, "extraction: parse model output")
		}
		rawList = []rawCandidate{single}
	}

	candidates := make([]model.Candidate, 0, len(rawList))
	for _, r := range rawList {
		candidates = append(candidates, model.Candidate{
			FullName:  strings.TrimSpace(r.FullName),
			NPI:       normalizeNPI(r.NPI),
			Specialty: strings.TrimSpace(r.Specialty),
			Address:   strings.TrimSpace(r.Address),
			License:   strings.TrimSpace(r.License),
		})
	}
	return candidates, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalizeNPI(npi *string) string {
	if npi == nil {
		return ""
	}
	v := strings.TrimSpace(*npi)
	if v == "" || strings.EqualFold(v, "null") {
		return ""
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return v
}
