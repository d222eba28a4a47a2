package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Runtime describes how to syntax-check and run one snippet of the supported language.
// Command templates use {src} for the absolute source path and are split with shell quoting rules.
type Runtime struct {
	Name       string   `yaml:"name"`
	SourceFile string   `yaml:"source_file"`
	CheckCmd   string   `yaml:"check_cmd"`
	RunCmd     string   `yaml:"run_cmd"`
	Env        []string `yaml:"env"`
}

// DefaultRuntime is the python3 interpreter.
func DefaultRuntime() Runtime {
	return Runtime{
		Name:       "python3",
		SourceFile: "main.py",
		CheckCmd:   "python3 -m py_compile {src}",
		RunCmd:     "python3 -I -B {src}",
		Env:        []string{"PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1"},
	}
}

// ShellRuntime runs POSIX sh scripts. Handy for hosts without python.
func ShellRuntime() Runtime {
	return Runtime{
		Name:       "sh",
		SourceFile: "main.sh",
		CheckCmd:   "sh -n {src}",
		RunCmd:     "sh {src}",
	}
}

// LoadRuntime resolves the runtime from an optional YAML file and optional
// command overrides. Empty arguments keep the defaults.
func LoadRuntime(path, checkCmd, runCmd string) (Runtime, error) {
	rt := DefaultRuntime()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Runtime{}, fmt.Errorf("read runtime file: %w", err)
		}
		if err := yaml.Unmarshal(data, &rt); err != nil {
			return Runtime{}, fmt.Errorf("parse runtime file: %w", err)
		}
	}
	if checkCmd != "" {
		rt.CheckCmd = checkCmd
	}
	if runCmd != "" {
		rt.RunCmd = runCmd
	}
	if err := rt.Validate(); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

// Validate checks that the runtime can be turned into commands.
func (r Runtime) Validate() error {
	if strings.TrimSpace(r.RunCmd) == "" {
		return errors.New("runtime run_cmd is required")
	}
	if r.SourceFile == "" || filepath.Base(r.SourceFile) != r.SourceFile {
		return fmt.Errorf("runtime source_file %q must be a bare file name", r.SourceFile)
	}
	if _, err := buildCommand(r.RunCmd, "/x"); err != nil {
		return err
	}
	if r.CheckCmd != "" {
		if _, err := buildCommand(r.CheckCmd, "/x"); err != nil {
			return err
		}
	}
	return nil
}

func buildCommand(tpl, src string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, errors.New("command template is required")
	}
	// Quote the path so temp dirs containing spaces survive the split.
	expanded := strings.ReplaceAll(tpl, "{src}", "'"+src+"'")
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.New("command is empty after expansion")
	}
	return fields, nil
}
