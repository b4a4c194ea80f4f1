package notify

import (
	"text/template"
	"time"

	"github.com/cleanfleet/telemetry-core/pkg/changedetect"
)

// Rule declares how one trigger type is rendered and throttled
// (spec.md §4.J step 1).
type Rule struct {
	Severity          string
	Title             string
	MessageTemplate   *template.Template
	SuppressionWindow time.Duration
	Icon              string
}

// DefaultSuppressionWindow is the suppression window applied when a rule
// does not declare its own (spec.md §4.J: "default 10 minutes").
const DefaultSuppressionWindow = 10 * time.Minute

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// DefaultRules returns the trigger-rule table for the eight trigger types
// spec.md §4.H defines. Charging-session updates have no trigger type and
// so no rule — spec.md §4.J's skipping policy.
func DefaultRules() map[changedetect.TriggerType]Rule {
	return map[changedetect.TriggerType]Rule{
		changedetect.TriggerBatteryCritical: {
			Severity: "fatal", Title: "Battery critical",
			MessageTemplate:   mustTemplate("battery_critical", "{{.RobotName}} ({{.Serial}}) battery is critically low."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "battery-critical",
		},
		changedetect.TriggerBatteryLow: {
			Severity: "warning", Title: "Battery low",
			MessageTemplate:   mustTemplate("battery_low", "{{.RobotName}} ({{.Serial}}) battery is low."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "battery-low",
		},
		changedetect.TriggerBatteryRecovered: {
			Severity: "info", Title: "Battery recovered",
			MessageTemplate:   mustTemplate("battery_recovered", "{{.RobotName}} ({{.Serial}}) battery has recovered above 20%."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "battery-ok",
		},
		changedetect.TriggerRobotOffline: {
			Severity: "error", Title: "Robot offline",
			MessageTemplate:   mustTemplate("robot_offline", "{{.RobotName}} ({{.Serial}}) has gone offline."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "robot-offline",
		},
		changedetect.TriggerRobotOnline: {
			Severity: "info", Title: "Robot online",
			MessageTemplate:   mustTemplate("robot_online", "{{.RobotName}} ({{.Serial}}) is back online."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "robot-online",
		},
		changedetect.TriggerIncident: {
			Severity: "error", Title: "Incident reported",
			MessageTemplate:   mustTemplate("incident", "{{.RobotName}} ({{.Serial}}) reported an incident: {{.Detail}}"),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "incident",
		},
		changedetect.TriggerTaskCompleted: {
			Severity: "info", Title: "Task completed",
			MessageTemplate:   mustTemplate("task_completed", "{{.RobotName}} ({{.Serial}}) completed task {{.TaskName}}."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "task-completed",
		},
		changedetect.TriggerTaskFailed: {
			Severity: "error", Title: "Task failed",
			MessageTemplate:   mustTemplate("task_failed", "{{.RobotName}} ({{.Serial}}) failed task {{.TaskName}}."),
			SuppressionWindow: DefaultSuppressionWindow, Icon: "task-failed",
		},
	}
}
