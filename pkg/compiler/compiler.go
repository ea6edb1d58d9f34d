// Package compiler invokes the external rule-set compiler binary on a merged
// JSON document. The binary format itself is opaque to this program.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const compileTimeout = 60 * time.Second

// Compiler shells out to a sing-box compatible binary.
type Compiler struct {
	binary string
	srsDir string
	log    *slog.Logger
}

// New returns a compiler using the given binary and output directory.
func New(binary, srsDir string, log *slog.Logger) *Compiler {
	if log == nil {
		log = slog.Default()
	}
	return &Compiler{binary: binary, srsDir: srsDir, log: log}
}

// Compile turns the JSON document at inputPath into a compiled artifact named
// after the ruleset. It returns the artifact path.
func (c *Compiler) Compile(ctx context.Context, inputPath string) (string, error) {
	if err := os.MkdirAll(c.srsDir, 0o750); err != nil {
		return "", fmt.Errorf("create srs dir: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(c.srsDir, name+".srs")

	ctx, cancel := context.WithTimeout(ctx, compileTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, "rule-set", "compile", inputPath, "--output", outputPath) // #nosec G204 -- binary comes from configuration.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.log.Debug("compiling ruleset", "input", inputPath, "output", outputPath)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("compile %s: %s", inputPath, msg)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", fmt.Errorf("compile %s: no output artifact: %w", inputPath, err)
	}
	c.log.Info("ruleset compiled", "output", outputPath, "size_bytes", info.Size())
	return outputPath, nil
}
