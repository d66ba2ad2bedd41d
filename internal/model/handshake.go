package model

import "fmt"

// BackendHandshake is the readiness information a backend process reports once per lifetime.
type BackendHandshake struct {
	PID    int
	Port   int
	Secret string
}

// Address returns the local address the backend listens on.
func (h BackendHandshake) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", h.Port)
}
