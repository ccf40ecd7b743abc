package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"taskmill/internal/worker"
)

// Shell runs a command with arguments. Payload:
//
//	{"command": "echo", "args": ["hello"]}
type Shell struct {
	worker.Base
}

type shellPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (Shell) Kind() string { return "shell" }

func (Shell) Run(ctx context.Context, payload json.RawMessage) error {
	var p shellPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Command == "" {
		return fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	return nil
}
