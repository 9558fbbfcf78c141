package engine

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EventKind is the webhook event and action pair that triggered a reconciliation.
type EventKind string

const (
	EventPullRequestOpened       EventKind = "pull_request.opened"
	EventPullRequestSynchronize  EventKind = "pull_request.synchronize"
	EventPullRequestClosed       EventKind = "pull_request.closed"
	EventDeploymentStatusCreated EventKind = "deployment_status.created"
	EventPush                    EventKind = "push"
)

// Validate checks if the event kind is one the reconciler handles.
func (k EventKind) Validate() error {
	switch k {
	case EventPullRequestOpened, EventPullRequestSynchronize, EventPullRequestClosed,
		EventDeploymentStatusCreated, EventPush:
		return nil
	default:
		return fmt.Errorf("unsupported event kind: %s", k)
	}
}

// Event is the normalized form of an inbound webhook delivery.
type Event struct {
	Kind           EventKind  `json:"kind" validate:"required"`
	DeliveryID     string     `json:"delivery_id,omitempty"`
	InstallationID int64      `json:"installation_id,omitempty"`
	Repository     Repository `json:"repository" validate:"required"`
	Sender         string     `json:"sender,omitempty"`

	PullRequest      *PullRequestEvent      `json:"pull_request,omitempty"`
	DeploymentStatus *DeploymentStatusEvent `json:"deployment_status,omitempty"`
	Push             *PushEvent             `json:"push,omitempty"`
}

// PullRequestEvent carries the pull request fields the reconciler reads.
type PullRequestEvent struct {
	Number  int    `json:"number" validate:"gt=0"`
	HeadSHA string `json:"head_sha" validate:"required"`
	HeadRef string `json:"head_ref" validate:"required"`
}

// DeploymentStatusEvent carries the deployment and status fields the reconciler reads.
type DeploymentStatusEvent struct {
	State        string `json:"state" validate:"required"`
	Environment  string `json:"environment" validate:"required"`
	SHA          string `json:"sha" validate:"required"`
	LogURL       string `json:"log_url,omitempty"`
	DeploymentID int64  `json:"deployment_id,omitempty"`
}

// PushEvent carries the push fields the reconciler reads.
type PushEvent struct {
	Ref   string `json:"ref" validate:"required"`
	After string `json:"after" validate:"required"`
}

// Branch returns the pushed ref without the refs/heads/ prefix.
func (p *PushEvent) Branch() string {
	return strings.TrimPrefix(p.Ref, "refs/heads/")
}

var eventValidator = validator.New()

// Validate checks that the event carries the payload its kind requires.
func (e *Event) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return NewPermanentError("invalid event", err).WithCode(ErrCodeValidation)
	}

	var payload interface{}
	switch e.Kind {
	case EventPullRequestOpened, EventPullRequestSynchronize, EventPullRequestClosed:
		if e.PullRequest == nil {
			return NewPermanentError("pull request payload missing", nil).
				WithCode(ErrCodeValidation).WithOperation(string(e.Kind))
		}
		payload = e.PullRequest
	case EventDeploymentStatusCreated:
		if e.DeploymentStatus == nil {
			return NewPermanentError("deployment status payload missing", nil).
				WithCode(ErrCodeValidation).WithOperation(string(e.Kind))
		}
		payload = e.DeploymentStatus
	case EventPush:
		if e.Push == nil {
			return NewPermanentError("push payload missing", nil).
				WithCode(ErrCodeValidation).WithOperation(string(e.Kind))
		}
		payload = e.Push
	}

	if err := eventValidator.Struct(e.Repository); err != nil {
		return NewPermanentError("invalid repository", err).WithCode(ErrCodeValidation)
	}
	if err := eventValidator.Struct(payload); err != nil {
		return NewPermanentError("invalid event payload", err).
			WithCode(ErrCodeValidation).WithOperation(string(e.Kind))
	}
	return nil
}
