package main

import (
	"context"
	"time"

	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/skill"
)

// registerBuiltinSkills adds the skills compiled into this binary.
// Deployments embed their own skill packages here; echo ships as a
// pipeline connectivity check.
func registerBuiltinSkills(reg *skill.Registry) error {
	return reg.Register(&skill.Definition{
		Key:         "echo",
		Version:     "1.0.0",
		Name:        "Echo",
		Description: "Returns its input unchanged.",
		Handler: func(_ context.Context, input map[string]any, _ *skill.Context) (*skill.Output, error) {
			return &skill.Output{Output: input}, nil
		},
		Timeout:                5 * time.Second,
		RequiredResponsibility: execution.ResponsibilityAutonomous,
	})
}
