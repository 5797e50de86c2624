package llm

import (
	"fmt"
	"sort"
	"strings"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
)

// Template renders a transcript into a model family's raw prompt format, for
// engines driven in raw completion mode.
type Template struct {
	Name string
	// Stop lists sequences that end a generated turn.
	Stop   []string
	render func(turns []domain.Turn) string
}

// Render formats turns and leaves the prompt open for the assistant's reply.
func (t *Template) Render(turns []domain.Turn) string {
	return t.render(turns)
}

var templates = map[string]*Template{
	"llama3": {
		Name:   "llama3",
		Stop:   []string{"<|eot_id|>"},
		render: renderLlama3,
	},
	"chatml": {
		Name:   "chatml",
		Stop:   []string{"<|im_end|>"},
		render: renderChatML,
	},
	"gemma": {
		Name:   "gemma",
		Stop:   []string{"<end_of_turn>"},
		render: renderGemma,
	},
	"mistral": {
		Name:   "mistral",
		Stop:   []string{"</s>"},
		render: renderMistral,
	},
}

// LookupTemplate returns the named template. An empty name or "none" means
// the engine applies its own chat template and yields nil.
func LookupTemplate(name string) (*Template, error) {
	if name == "" || name == "none" {
		return nil, nil
	}
	t, ok := templates[name]
	if !ok {
		return nil, domain.NewDomainError("LookupTemplate", domain.ErrUnknownTemplate,
			fmt.Sprintf("%q (known: %s)", name, strings.Join(TemplateNames(), ", ")))
	}
	return t, nil
}

// TemplateNames lists the template names config accepts, sorted. Each has
// an entry in templates.
func TemplateNames() []string {
	names := make([]string, 0, len(config.Templates))
	for name := range config.Templates {
		if name == "" || name == "none" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderLlama3(turns []domain.Turn) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	for _, t := range turns {
		role := string(t.Role)
		if t.Role == domain.RoleTool {
			role = "ipython"
		}
		fmt.Fprintf(&sb, "<|start_header_id|>%s<|end_header_id|>\n\n%s<|eot_id|>", role, t.Text)
	}
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

func renderChatML(turns []domain.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "<|im_start|>%s\n%s<|im_end|>\n", t.Role, t.Text)
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}

// renderGemma folds system and tool turns into user turns; gemma only knows
// user and model.
func renderGemma(turns []domain.Turn) string {
	var sb strings.Builder
	sb.WriteString("<bos>")
	for _, blk := range alternate(turns) {
		role := "user"
		if blk.assistant {
			role = "model"
		}
		fmt.Fprintf(&sb, "<start_of_turn>%s\n%s<end_of_turn>\n", role, blk.text)
	}
	sb.WriteString("<start_of_turn>model\n")
	return sb.String()
}

func renderMistral(turns []domain.Turn) string {
	var sb strings.Builder
	sb.WriteString("<s>")
	for _, blk := range alternate(turns) {
		if blk.assistant {
			sb.WriteString(blk.text)
			sb.WriteString("</s>")
			continue
		}
		fmt.Fprintf(&sb, "[INST] %s [/INST]", blk.text)
	}
	return sb.String()
}

type block struct {
	assistant bool
	text      string
}

// alternate merges consecutive non-assistant turns into one instruction
// block, for templates that require strict user/assistant alternation.
func alternate(turns []domain.Turn) []block {
	var out []block
	for _, t := range turns {
		isAssistant := t.Role == domain.RoleAssistant
		if n := len(out); n > 0 && !isAssistant && !out[n-1].assistant {
			out[n-1].text += "\n\n" + t.Text
			continue
		}
		out = append(out, block{assistant: isAssistant, text: t.Text})
	}
	return out
}
