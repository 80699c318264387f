package router

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/antzucaro/matchr"

	"hark/internal/config"
	"hark/internal/i18n"
	"hark/pkg/util"
)

const (
	// fuzzyThreshold is the Jaro-Winkler score at which two words match on
	// spelling alone.
	fuzzyThreshold = 0.92
	// phoneticThreshold applies when the Double Metaphone codes agree.
	phoneticThreshold = 0.8
)

// Launcher starts an application without waiting for it to exit.
type Launcher func(path string, args []string) error

func startProcess(path string, args []string) error {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// Apps launches configured applications when their command words appear,
// in order and contiguously, among the spoken words.
type Apps struct {
	apps   []config.App
	fuzzy  bool
	launch Launcher
	tr     *i18n.Translator
	logger *slog.Logger
}

func NewApps(apps []config.App, fuzzy bool, tr *i18n.Translator, logger *slog.Logger) *Apps {
	if logger == nil {
		logger = slog.Default()
	}
	return &Apps{
		apps:   append([]config.App(nil), apps...),
		fuzzy:  fuzzy,
		launch: startProcess,
		tr:     tr,
		logger: logger,
	}
}

func (a *Apps) Name() string { return "apps" }

func (a *Apps) Handle(_ context.Context, text string) (string, bool, error) {
	words := strings.Fields(Normalize(text))

	equal := exactWord
	if a.fuzzy {
		equal = similarWord
	}

	for _, app := range a.apps {
		if !util.ContainsSequence(words, strings.Fields(Normalize(app.Command)), equal) {
			continue
		}

		if err := a.launch(app.Path, app.Args); err != nil {
			a.logger.Warn("launch failed", "app", app.Name, "path", app.Path, "err", err)
			return a.tr.T("app_failed", "name", app.Name), true, err
		}

		a.logger.Info("launched", "app", app.Name, "path", app.Path)
		return a.tr.T("app_open", "name", app.Name), true, nil
	}

	return "", false, nil
}

func exactWord(a, b string) bool { return a == b }

// similarWord tolerates recognition slips such as "crome" for "chrome".
func similarWord(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}

	score := matchr.JaroWinkler(a, b, false)
	if score >= fuzzyThreshold {
		return true
	}

	pa, sa := matchr.DoubleMetaphone(a)
	pb, sb := matchr.DoubleMetaphone(b)
	if pa == "" || pb == "" {
		return false
	}
	phonetic := pa == pb || (sa != "" && sa == pb) || (sb != "" && pa == sb)

	return phonetic && score >= phoneticThreshold
}
