// Package comments renders the markdown posted as the pull request status comment.
package comments

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the timestamp format used in comments, always in UTC.
const TimeLayout = "January 2, 2006 3:04pm"

// DegradedNote closes a success comment whose deployment outputs could not
// be read.
const DegradedNote = "> ⚠️ Deployment outputs could not be read, so URLs are not shown."

// ConsoleBaseURL is the deployment console root; the workspace is appended.
const ConsoleBaseURL = "https://console.sst.dev/"

// Renderer produces status comment bodies. It holds no mutable state and is
// safe for concurrent use.
type Renderer struct {
	now func() time.Time
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithClock overrides the time source used for "Updated at".
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		r.now = now
	}
}

// New creates a renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConsoleURL returns the dashboard link for a workspace.
func ConsoleURL(workspace string) string {
	return ConsoleBaseURL + workspace
}

func (r *Renderer) timestamp() string {
	return r.now().UTC().Format(TimeLayout) + " (UTC)"
}

// Started renders the comment posted when a deployment is triggered.
func (r *Renderer) Started(workspace, stage string) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("🚀 **Deployment Triggered** for the **`%s`** stage.  \n\n", stage))
	sb.WriteString("| **Key**           | **Value**                                      |\n")
	sb.WriteString("|-------------------|------------------------------------------------|\n")
	sb.WriteString(fmt.Sprintf("| **Stage**         | %s |\n", stage))
	sb.WriteString(fmt.Sprintf("| **Console URL**   | %s |\n", ConsoleURL(workspace)))
	sb.WriteString(fmt.Sprintf("| **Updated at**    | %s |\n", r.timestamp()))
	sb.WriteString("\n")
	sb.WriteString("> The deployment is in progress. The URLs will be updated here once available.\n")

	return sb.String()
}

// Success renders one row per deployment output, sorted by name. An empty
// URL marks an output that did not produce an address. degraded adds a note
// that the outputs could not be read.
func (r *Renderer) Success(stage string, urls map[string]string, degraded bool) string {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("✅ **Deployment Successful** for the **`%s`** stage.\n\n", stage))
	sb.WriteString("| **Name**              |  **Status**    |  **Value**         |\n")
	sb.WriteString("|-----------------------|----------------|--------------------|\n")
	for _, name := range names {
		url := urls[name]
		status, link := "⏺️", "Deployment Not Available"
		if url != "" {
			status, link = "✅", fmt.Sprintf("[Visit Deployment](%s)", url)
		}
		sb.WriteString(fmt.Sprintf("| **%s** | %s | %s |\n", name, status, link))
	}
	if degraded {
		sb.WriteString("\n")
		sb.WriteString(DegradedNote + "\n")
	}

	return sb.String()
}

// Failure renders the comment posted when a deployment fails.
func (r *Renderer) Failure(workspace, stage, logsURL string) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("❌ **Deployment Failed** for the **`%s`** stage.\n\n", stage))
	sb.WriteString("| **Key**           | **Value**                                      |\n")
	sb.WriteString("|-------------------|------------------------------------------------|\n")
	sb.WriteString(fmt.Sprintf("| **View Logs**     | [Github Actions](%s) |\n", logsURL))
	sb.WriteString(fmt.Sprintf("| **Console URL**   | %s |\n", ConsoleURL(workspace)))
	sb.WriteString(fmt.Sprintf("| **Updated at**    | %s |\n", r.timestamp()))
	sb.WriteString("\n")
	sb.WriteString("> The deployment process failed. Please check the logs for more information.\n")

	return sb.String()
}
