package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"

	"hark/internal/config"
	"hark/internal/i18n"
)

const codePrompt = `Generate clean, well-documented code for the user's request.
Reply with the code only: no explanation and no markdown.
Include the imports it needs and short comments.`

// codeTriggers start a code request on their own.
var codeTriggers = []string{
	"generate code for",
	"create code for",
	"write code for",
	"make code for",
	"code a",
}

// looseTriggers only count together with a codeWords entry, so "write a
// poem" stays with the chat handler.
var looseTriggers = []string{"generate a", "create a", "write a"}

var codeWords = []string{"code", "script", "program", "function", "class", "page", "stylesheet"}

// extensions maps language words in the request to file extensions.
var extensions = []struct {
	words []string
	ext   string
}{
	{[]string{"python", "py"}, ".py"},
	{[]string{"javascript", "js"}, ".js"},
	{[]string{"html"}, ".html"},
	{[]string{"css"}, ".css"},
	{[]string{"golang"}, ".go"},
}

// CodeGen writes code for requests like "write code for a fizzbuzz in
// python" to a file and opens it in the configured editor.
type CodeGen struct {
	client *openai.Client
	model  string
	editor string
	args   []string
	dir    string

	launch Launcher
	now    func() time.Time
	tr     *i18n.Translator
	logger *slog.Logger
}

func NewCodeGen(client *openai.Client, model string, cfg config.CodeGenSettings, tr *i18n.Translator, logger *slog.Logger) *CodeGen {
	if model == "" {
		model = string(openai.ChatModelGPT5Nano)
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "hark-code")
	}
	return &CodeGen{
		client: client,
		model:  model,
		editor: cfg.Editor,
		args:   slices.Clone(cfg.Args),
		dir:    dir,
		launch: startProcess,
		now:    time.Now,
		tr:     tr,
		logger: logger,
	}
}

func (g *CodeGen) Name() string { return "codegen" }

func (g *CodeGen) Handle(ctx context.Context, text string) (string, bool, error) {
	norm := Normalize(text)
	if !IsCodeRequest(norm) {
		return "", false, nil
	}

	switch {
	case g.client == nil:
		return g.tr.T("llm_unconfigured"), true, nil
	case g.editor == "":
		return g.tr.T("editor_unconfigured"), true, nil
	}

	content, err := complete(ctx, g.client, g.model, codePrompt, text)
	if err != nil {
		return g.tr.T("code_failed"), true, err
	}
	code := stripFences(content)

	path, err := g.write(norm, code)
	if err != nil {
		return g.tr.T("code_failed"), true, err
	}

	if err := g.launch(g.editor, append(slices.Clone(g.args), path)); err != nil {
		g.logger.Warn("editor failed", "editor", g.editor, "err", err)
		return g.tr.T("code_failed"), true, err
	}

	g.logger.Info("code written", "path", path, "bytes", len(code))
	return g.tr.T("code_written", "name", filepath.Base(path)), true, nil
}

func (g *CodeGen) write(request, code string) (string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("codegen: %w", err)
	}

	path := filepath.Join(g.dir, codeFileName(request, code, g.now()))
	if err := os.WriteFile(path, []byte(code+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("codegen: %w", err)
	}

	return path, nil
}

// IsCodeRequest reports whether normalised text asks for code.
func IsCodeRequest(text string) bool {
	padded := " " + text + " "
	has := func(phrases []string) bool {
		return slices.ContainsFunc(phrases, func(p string) bool {
			return strings.Contains(padded, " "+p+" ")
		})
	}

	if has(codeTriggers) {
		return true
	}
	return has(looseTriggers) && has(codeWords)
}

// codeFileName builds generated_<first words>_<timestamp><ext>.
func codeFileName(request, code string, at time.Time) string {
	var words []string
	for _, w := range strings.Fields(request) {
		if len(words) == 3 {
			break
		}
		if isAlnum(w) {
			words = append(words, w)
		}
	}

	return fmt.Sprintf("generated_%s_%s%s", strings.Join(words, "_"), at.Format("20060102_150405"), fileExtension(request, code))
}

// fileExtension prefers a language named in the request, then guesses from
// the code, then falls back to Python.
func fileExtension(request, code string) string {
	words := strings.Fields(request)
	for _, e := range extensions {
		for _, w := range e.words {
			if slices.Contains(words, w) {
				return e.ext
			}
		}
	}

	switch {
	case strings.Contains(code, "def ") || strings.Contains(code, "import ") || strings.Contains(code, "class "):
		return ".py"
	case strings.Contains(code, "function ") || strings.Contains(code, "const ") || strings.Contains(code, "let "):
		return ".js"
	case strings.Contains(code, "<html") || strings.Contains(code, "<!DOCTYPE"):
		return ".html"
	case strings.Contains(code, "{") && (strings.Contains(code, ":") || strings.Contains(code, "@media")):
		return ".css"
	}
	return ".py"
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !('a' <= r && r <= 'z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return s != ""
}
