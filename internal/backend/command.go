package backend

import (
	"fmt"
	"os"

	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/utils/env"
)

// Command describes the Java backend invocation.
type Command struct {
	// Java is the runtime executable.
	Java string
	// RuntimeHome is exported to the backend.
	RuntimeHome string
	JAR         string
	JVMArgs     []string
	Args        []string
	// Env is added over our environment.
	Env map[string]string
	Dir string
}

// Validate validates the command.
func (c Command) Validate() error {
	if c.Java == "" {
		return fmt.Errorf("java executable is required: %w", model.ErrNotValid)
	}
	if c.JAR == "" {
		return fmt.Errorf("backend jar is required: %w", model.ErrNotValid)
	}
	return nil
}

// Spec returns the launch spec: `<java> <jvm args> -jar <jar> <args>`.
func (c Command) Spec() (Spec, error) {
	if err := c.Validate(); err != nil {
		return Spec{}, err
	}

	args := make([]string, 0, len(c.JVMArgs)+len(c.Args)+2)
	args = append(args, c.JVMArgs...)
	args = append(args, "-jar", c.JAR)
	args = append(args, c.Args...)

	vars := env.MergeMaps(c.Env, nil)
	if c.RuntimeHome != "" {
		vars[conventions.RuntimeHomeEnv] = c.RuntimeHome
	}

	return Spec{
		Executable: c.Java,
		Args:       args,
		Env:        env.Environ(os.Environ(), vars),
		Dir:        c.Dir,
	}, nil
}
