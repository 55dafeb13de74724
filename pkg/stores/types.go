package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Deployment is the persisted state of a deployment.
type Deployment struct {
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	Prefix     string     `json:"prefix"`
	Health     string     `json:"health"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
	DeployedAt time.Time  `json:"deployed_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
}

// ComponentEvent is a persisted telemetry event.
type ComponentEvent struct {
	ID           string    `json:"id"`
	DeploymentID *string   `json:"deployment_id,omitempty"`
	Type         string    `json:"type"`
	Level        string    `json:"level"`
	Source       string    `json:"source"`
	Component    *string   `json:"component,omitempty"`
	Message      string    `json:"message"`
	Data         *string   `json:"data,omitempty"` // JSON blob
	CreatedAt    time.Time `json:"created_at"`
}
