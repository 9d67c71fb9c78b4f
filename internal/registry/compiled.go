package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"codenerd/internal/errs"
	"codenerd/internal/skill"
)

// CompiledSkill executes a skill by running a prebuilt binary artifact as a
// subprocess, passing the payload as JSON on stdin and reading a JSON
// response from stdout. Grounded on the teacher's RuntimeTool.Execute
// contract (ouroboros.go): {"input":...} in, {"output":...,"error":...} out.
type CompiledSkill struct {
	name string
	path string
}

// NewCompiledSkill wraps a compiled artifact at path as a Skill.
func NewCompiledSkill(name, path string) *CompiledSkill {
	return &CompiledSkill{name: name, path: path}
}

func (c *CompiledSkill) Name() string { return c.name }

type compiledRequest struct {
	Input skill.Payload `json:"input"`
}

type compiledResponse struct {
	Output skill.Payload `json:"output"`
	Error  string        `json:"error,omitempty"`
}

func (c *CompiledSkill) Execute(ctx context.Context, tenant string, payload skill.Payload) (skill.Payload, error) {
	reqBody, err := json.Marshal(compiledRequest{Input: payload})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "marshal compiled skill request")
	}

	cmd := exec.CommandContext(ctx, c.path)
	cmd.Stdin = bytes.NewReader(reqBody)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Timeout, ctx.Err(), "compiled skill execution timed out")
		}
		return nil, errs.Newf(errs.IOError, "compiled skill %q failed: %v: %s", c.name, err, stderr.String())
	}

	var resp compiledResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "unmarshal compiled skill response")
	}
	if resp.Error != "" {
		return nil, errs.Newf(errs.IOError, "compiled skill %q reported error: %s", c.name, resp.Error)
	}
	return resp.Output, nil
}
