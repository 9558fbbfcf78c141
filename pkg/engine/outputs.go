package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// OutputsVariable is the environment variable the deploy workflow publishes its outputs to.
const OutputsVariable = "SST_OUTPUTS"

// Outputs is the parsed result of a deploy workflow.
type Outputs struct {
	// URLs maps an output name to its URL. An empty value means the output
	// exists but has no URL yet.
	URLs map[string]string `json:"urls"`

	// Degraded is set when the published value could not be parsed.
	Degraded bool `json:"degraded,omitempty"`
}

type rawOutputs struct {
	URLs map[string]*string `json:"urls"`
}

// ParseOutputs decodes the outputs contract {"urls": {name: url|null}}.
// Null and empty URLs are both reported as absent.
func ParseOutputs(raw string) (*Outputs, error) {
	var decoded rawOutputs
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, NewPermanentError("outputs are not valid JSON", err).
			WithCode(ErrCodeMalformedOutputs)
	}

	out := &Outputs{URLs: make(map[string]string, len(decoded.URLs))}
	for name, url := range decoded.URLs {
		if url == nil {
			out.URLs[name] = ""
			continue
		}
		out.URLs[name] = *url
	}
	return out, nil
}

// FetchOutputs reads and parses the outputs published for stage. A missing
// variable yields an empty set, a malformed value yields an empty degraded
// set. Any other read failure is returned.
func (l *Locator) FetchOutputs(ctx context.Context, repo Repository, stage Stage) (*Outputs, error) {
	raw, err := l.cp.GetEnvironmentVariable(ctx, repo, string(stage), OutputsVariable)
	if err != nil {
		if IsNotFound(err) {
			l.log(ctx).Info().
					Str("stage", string(stage)).
				Msg("No deployment outputs published")
			return &Outputs{URLs: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("failed to read %s for %s: %w", OutputsVariable, stage, err)
	}

	out, err := ParseOutputs(raw)
	if err != nil {
		l.log(ctx).Warn().
			Err(err).
			Str("stage", string(stage)).
			Msg("Deployment outputs are malformed, rendering without URLs")
		return &Outputs{URLs: map[string]string{}, Degraded: true}, nil
	}
	return out, nil
}
