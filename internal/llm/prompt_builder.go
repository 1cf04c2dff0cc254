package llm

import (
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sevigo/reviewcore/internal/model"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

type ModelProvider string
type PromptKey string

const (
	DefaultProvider ModelProvider = "default"
	ReviewPrompt    PromptKey     = "review"
	RetryPrompt     PromptKey     = "retry"
	SystemPrompt    PromptKey     = "system"
)

// PromptBuilder renders the structured review prompt from a parsed diff and a
// context pack. The same inputs always produce byte-identical output:
// section order, delimiters, and whitespace are fixed, and all iteration is
// over slices whose order upstream stages already pinned.
type PromptBuilder struct {
	prompts map[PromptKey]map[ModelProvider]*template.Template
}

// NewPromptBuilder loads every embedded prompt template. Filenames follow the
// `key_provider.prompt` convention; the "default" provider is the fallback
// when no provider-specific template exists.
func NewPromptBuilder() (*PromptBuilder, error) {
	pb := &PromptBuilder{
		prompts: make(map[PromptKey]map[ModelProvider]*template.Template),
	}

	files, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		lastUnderscore := strings.LastIndex(baseName, "_")
		if lastUnderscore <= 0 || lastUnderscore == len(baseName)-1 {
			return nil, fmt.Errorf("invalid prompt filename format: %s (expected 'key_provider.prompt')", fileName)
		}

		key := PromptKey(baseName[:lastUnderscore])
		provider := ModelProvider(baseName[lastUnderscore+1:])

		content, err := promptFiles.ReadFile("prompts/" + fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt file %s: %w", fileName, err)
		}

		if err := pb.register(key, provider, string(content)); err != nil {
			return nil, fmt.Errorf("failed to register prompt from file %s: %w", fileName, err)
		}
	}

	return pb, nil
}

func (pb *PromptBuilder) register(key PromptKey, provider ModelProvider, content string) error {
	tmpl, err := template.New(string(key) + "_" + string(provider)).Parse(content)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}

	if _, ok := pb.prompts[key]; !ok {
		pb.prompts[key] = make(map[ModelProvider]*template.Template)
	}
	pb.prompts[key][provider] = tmpl
	return nil
}

func (pb *PromptBuilder) lookup(key PromptKey, provider ModelProvider) (*template.Template, error) {
	taskPrompts, ok := pb.prompts[key]
	if !ok {
		return nil, fmt.Errorf("no prompts found for key '%s'", key)
	}
	if tmpl, ok := taskPrompts[provider]; ok {
		return tmpl, nil
	}
	if tmpl, ok := taskPrompts[DefaultProvider]; ok {
		return tmpl, nil
	}
	return nil, fmt.Errorf("no template found for key '%s' and provider '%s', and no default was available", key, provider)
}

func (pb *PromptBuilder) render(key PromptKey, provider ModelProvider, data any) (string, error) {
	tmpl, err := pb.lookup(key, provider)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// reviewPromptData is what the review template sees. The three big sections
// are pre-rendered so the template itself stays free of iteration order
// decisions.
type reviewPromptData struct {
	RepoFullName   string
	PRNumber       int
	HeadSHA        string
	DiffSection    string
	ContextSection string
	Schema         string
	MaxFindings    int
	Instructions   []string
}

// BuildReviewPrompt produces the system and user prompt for one review call.
// instructions are repository-supplied extra rules; nil is fine.
func (pb *PromptBuilder) BuildReviewPrompt(provider ModelProvider, repoFullName string, prNumber int, headSHA string, patches []model.PRFilePatch, pack *model.ContextPack, maxFindings int, instructions []string) (system, user string, err error) {
	system, err = pb.render(SystemPrompt, provider, nil)
	if err != nil {
		return "", "", err
	}

	data := reviewPromptData{
		RepoFullName:   repoFullName,
		PRNumber:       prNumber,
		HeadSHA:        headSHA,
		DiffSection:    renderDiffSection(patches),
		ContextSection: renderContextSection(pack),
		Schema:         findingSchemaJSON,
		MaxFindings:    maxFindings,
		Instructions:   instructions,
	}
	user, err = pb.render(ReviewPrompt, provider, data)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

// BuildRetryPrompt appends a compact digest of the previous attempt's schema
// violations to the original user prompt.
func (pb *PromptBuilder) BuildRetryPrompt(provider ModelProvider, originalUser string, violations []string) (string, error) {
	suffix, err := pb.render(RetryPrompt, provider, struct {
		Violations []string
	}{Violations: violations})
	if err != nil {
		return "", err
	}
	return originalUser + "\n" + suffix, nil
}

// renderDiffSection renders every parseable patch hunk-by-hunk with its
// stable hunk id visible, so the model can cite hunk ids directly.
func renderDiffSection(patches []model.PRFilePatch) string {
	var sb strings.Builder
	for i := range patches {
		p := &patches[i]
		if p.IsBinary || len(p.Hunks) == 0 {
			continue
		}
		sb.WriteString("### File: ")
		sb.WriteString(p.FilePath)
		sb.WriteString(" (")
		sb.WriteString(string(p.ChangeType))
		if p.PreviousPath != "" {
			sb.WriteString(" from ")
			sb.WriteString(p.PreviousPath)
		}
		sb.WriteString(")\n")
		for j := range p.Hunks {
			h := &p.Hunks[j]
			fmt.Fprintf(&sb, "--- hunk_id: %s @@ -%d,%d +%d,%d @@\n", h.HunkID, h.OldStart, h.OldCount, h.NewStart, h.NewCount)
			for _, line := range h.Lines {
				switch line.Tag {
				case model.LineAddition:
					sb.WriteString("+")
				case model.LineDeletion:
					sb.WriteString("-")
				case model.LineNoEOL:
					sb.WriteString("\\")
				default:
					sb.WriteString(" ")
				}
				sb.WriteString(line.Text)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderContextSection renders the pack with explicit item id markers in pack
// order, which the packer already fixed.
func renderContextSection(pack *model.ContextPack) string {
	if pack == nil || len(pack.Items) == 0 {
		return "(no additional context was retrieved)"
	}
	var sb strings.Builder
	for i := range pack.Items {
		item := &pack.Items[i]
		fmt.Fprintf(&sb, "### [%s] %s:%d-%d (%s", item.ItemID, item.FilePath, item.StartLine, item.EndLine, item.Provenance.Class)
		if item.Provenance.Relationship != "" {
			sb.WriteString("/")
			sb.WriteString(string(item.Provenance.Relationship))
		}
		sb.WriteString(")\n")
		sb.WriteString(item.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// EstimatePromptTokens gives a rough token count for budget logging. Roughly
// one token per four characters holds well enough for code-heavy prompts.
func EstimatePromptTokens(prompt string) int {
	return len(prompt) / 4
}

// findingSchemaJSON is the JSON schema the model must emit. It mirrors the
// normalized finding shape the generator validates against.
const findingSchemaJSON = `{
  "type": "object",
  "required": ["findings", "summary"],
  "properties": {
    "summary": {"type": "string", "minLength": 20},
    "findings": {
      "type": "array",
      "maxItems": 20,
      "items": {
        "type": "object",
        "required": ["finding_id", "severity", "category", "title", "message", "suggested_fix", "file_path", "confidence"],
        "properties": {
          "finding_id": {"type": "string", "pattern": "^finding_[0-9]+$"},
          "severity": {"enum": ["blocker", "high", "medium", "low", "nit"]},
          "category": {"enum": ["bug", "security", "performance", "style", "design", "docs", "observability", "maintainability"]},
          "title": {"type": "string", "maxLength": 255},
          "message": {"type": "string", "minLength": 10},
          "suggested_fix": {"type": "string", "minLength": 10},
          "file_path": {"type": "string"},
          "hunk_id": {"type": "string"},
          "line": {"type": "integer"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "evidence": {
            "type": "object",
            "required": ["context_item_id", "snippet_line_range"],
            "properties": {
              "context_item_id": {"type": "string"},
              "snippet_line_range": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2}
            }
          },
          "related_symbols": {"type": "array", "items": {"type": "string"}},
          "code_examples": {"type": "array", "items": {"type": "string"}, "maxItems": 3}
        }
      }
    },
    "patterns": {"type": "array", "items": {"type": "string"}, "maxItems": 5},
    "recommendations": {"type": "array", "items": {"type": "string"}, "maxItems": 3},
    "total_findings": {"type": "integer"},
    "high_confidence_findings": {"type": "integer"}
  }
}`
