package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"codenerd/internal/errs"
	"codenerd/internal/skill"
)

// allowedPackages is the stdlib whitelist a patch's source may import when
// run interpreted rather than compiled. Grounded directly on the teacher's
// yaegi_executor.go: no filesystem, process, network, or unsafe access.
var allowedPackages = map[string]bool{
	"strings":         true,
	"strconv":         true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"encoding/json":   true,
	"encoding/base64": true,
	"time":            true,
	"sort":            true,
	"bytes":           true,
	"path":            true,
	"path/filepath":   true,
}

// InterpretedSkill executes a skill's source directly via a sandboxed
// yaegi interpreter, chosen by the Forge's Compile stage when the patch
// source contains no filesystem/exec/network primitives, to avoid the
// compile-hang and dependency-hell
// failure modes the teacher's own autopoiesis.OuroborosLoop was built to
// route around.
type InterpretedSkill struct {
	name string
	code string
}

// NewInterpretedSkill wraps source code exposing:
//
//	func RunTool(input string) (string, error)
func NewInterpretedSkill(name, code string) *InterpretedSkill {
	return &InterpretedSkill{name: name, code: code}
}

func (s *InterpretedSkill) Name() string { return s.name }

func validateImports(code string) error {
	lines := strings.Split(code, "\n")
	var imports []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}
	var forbidden []string
	for _, pkg := range imports {
		if pkg == "" {
			continue
		}
		if !allowedPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return errs.Newf(errs.PermissionDenied, "forbidden imports in interpreted skill: %v", forbidden)
	}
	return nil
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return fmt.Sprintf("package main\n\n%s\n", code)
}

func (s *InterpretedSkill) Execute(ctx context.Context, tenant string, payload skill.Payload) (skill.Payload, error) {
	if err := validateImports(s.code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "load yaegi stdlib symbols")
	}
	if _, err := i.Eval(wrapCode(s.code)); err != nil {
		return nil, errs.Wrap(errs.CompileError, err, "interpreted skill code evaluation failed")
	}

	runToolVal, err := i.Eval("main.RunTool")
	if err != nil {
		return nil, errs.Wrap(errs.CompileError, err, "RunTool not found in interpreted skill")
	}
	runTool, ok := runToolVal.Interface().(func(string) (string, error))
	if !ok {
		return nil, errs.New(errs.CompileError, "RunTool has incorrect signature, expected func(string) (string, error)")
	}

	inputJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "marshal interpreted skill input")
	}

	type result struct {
		out string
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		out, err := runTool(string(inputJSON))
		resultCh <- result{out: out, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, errs.Wrap(errs.IOError, r.err, "interpreted skill execution failed")
		}
		var out skill.Payload
		if err := json.Unmarshal([]byte(r.out), &out); err != nil {
			return nil, errs.Wrap(errs.IOError, err, "unmarshal interpreted skill output")
		}
		return out, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Timeout, ctx.Err(), "interpreted skill execution timed out")
	}
}
