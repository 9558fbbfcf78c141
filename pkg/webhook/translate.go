package webhook

import (
	gh "github.com/google/go-github/v66/github"

	"github.com/BoardAI/catalysst/pkg/engine"
)

// Translate turns a webhook delivery into an engine event. It returns nil
// without error for deliveries the reconciler does not act on.
func Translate(eventType, deliveryID string, payload []byte) (*engine.Event, error) {
	switch eventType {
	case "pull_request", "deployment_status", "push":
	default:
		return nil, nil
	}

	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, engine.NewPermanentError("failed to parse webhook payload", err).
			WithCode(engine.ErrCodeValidation).
			WithDetail("event", eventType)
	}

	var event *engine.Event
	switch e := parsed.(type) {
	case *gh.PullRequestEvent:
		event = fromPullRequest(e)
	case *gh.DeploymentStatusEvent:
		event = fromDeploymentStatus(e)
	case *gh.PushEvent:
		event = fromPush(e)
	}
	if event == nil {
		return nil, nil
	}

	event.DeliveryID = deliveryID
	return event, nil
}

func fromPullRequest(e *gh.PullRequestEvent) *engine.Event {
	var kind engine.EventKind
	switch e.GetAction() {
	case "opened":
		kind = engine.EventPullRequestOpened
	case "synchronize":
		kind = engine.EventPullRequestSynchronize
	case "closed":
		kind = engine.EventPullRequestClosed
	default:
		return nil
	}

	pr := e.GetPullRequest()
	number := e.GetNumber()
	if number == 0 {
		number = pr.GetNumber()
	}

	return &engine.Event{
		Kind:           kind,
		InstallationID: e.GetInstallation().GetID(),
		Repository:     repositoryOf(e.GetRepo()),
		Sender:         e.GetSender().GetLogin(),
		PullRequest: &engine.PullRequestEvent{
			Number:  number,
			HeadSHA: pr.GetHead().GetSHA(),
			HeadRef: pr.GetHead().GetRef(),
		},
	}
}

func fromDeploymentStatus(e *gh.DeploymentStatusEvent) *engine.Event {
	if action := e.GetAction(); action != "" && action != "created" {
		return nil
	}

	status := e.GetDeploymentStatus()
	deployment := e.GetDeployment()

	environment := deployment.GetEnvironment()
	if environment == "" {
		environment = status.GetEnvironment()
	}
	logURL := status.GetLogURL()
	if logURL == "" {
		logURL = status.GetTargetURL()
	}

	return &engine.Event{
		Kind:           engine.EventDeploymentStatusCreated,
		InstallationID: e.GetInstallation().GetID(),
		Repository:     repositoryOf(e.GetRepo()),
		Sender:         e.GetSender().GetLogin(),
		DeploymentStatus: &engine.DeploymentStatusEvent{
			State:        status.GetState(),
			Environment:  environment,
			SHA:          deployment.GetSHA(),
			LogURL:       logURL,
			DeploymentID: deployment.GetID(),
		},
	}
}

func fromPush(e *gh.PushEvent) *engine.Event {
	// Branch deletions carry an all-zero head and nothing to deploy.
	if e.GetDeleted() {
		return nil
	}

	repo := e.GetRepo()
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.GetOwner().GetName()
	}

	return &engine.Event{
		Kind:           engine.EventPush,
		InstallationID: e.GetInstallation().GetID(),
		Repository: engine.Repository{
			Owner: owner,
			Name:  repo.GetName(),
			ID:    repo.GetID(),
		},
		Sender: e.GetSender().GetLogin(),
		Push: &engine.PushEvent{
			Ref:   e.GetRef(),
			After: e.GetAfter(),
		},
	}
}

func repositoryOf(repo *gh.Repository) engine.Repository {
	return engine.Repository{
		Owner: repo.GetOwner().GetLogin(),
		Name:  repo.GetName(),
		ID:    repo.GetID(),
	}
}
