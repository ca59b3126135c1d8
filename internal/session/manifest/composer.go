// Package manifest composes the context bundle handed to an external agent
// at spawn: the system envelope, the task envelope, and the resolved command
// permissions. Composition is deterministic: the same inputs always produce
// byte-identical output.
package manifest

import (
	"fmt"
	"sort"
	"strings"

	sessionmodels "github.com/maestro/maestro/internal/session/models"
	taskmodels "github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// ManifestVersion is bumped when the schema changes incompatibly.
const ManifestVersion = 1

// CommandSessionSpawn gates session-attributed spawns. Only coordinator
// sessions carry it by default.
const CommandSessionSpawn = "session:spawn"

// CoreCommands are always permitted regardless of role or narrowing.
var CoreCommands = []string{
	"identity",
	"status",
	"help",
}

// workerCommands is the worker role default set.
var workerCommands = []string{
	"task:list",
	"task:get",
	"task:update",
	"task:timeline",
	"session:events",
	"session:timeline",
	"message:send",
	"message:inbox",
	"message:read",
	"queue:top",
	"queue:start",
	"queue:complete",
}

// coordinatorExtensions extend the worker set for coordinator sessions.
var coordinatorExtensions = []string{
	"task:create",
	CommandSessionSpawn,
	"session:list",
	"team-member:list",
}

const workerIdentityBlock = "You are a worker session. Work the tasks assigned to you, one at a " +
	"time, reporting progress by updating your task session status. Never change user-owned task " +
	"status; that belongs to the human. Ask for input when blocked instead of guessing."

const coordinatorIdentityBlock = "You are a coordinator session. Break the assigned work into " +
	"subtasks, delegate each to a worker session, and track delegated work to completion. You do " +
	"not implement tasks yourself."

// ComposeInput carries everything the composer needs. Tasks must be given in
// the session's taskIds order.
type ComposeInput struct {
	Session         *sessionmodels.Session
	Tasks           []*taskmodels.Task
	Snapshot        *v1.TeamMemberSnapshot
	Roster          []v1.RosterEntry
	AllowedCommands []string // optional narrowing; core commands survive it
	Model           string
	AgentTool       string
}

// ResolvePermissions computes the closed command set for a mode: the role
// default set, plus mode extensions, optionally narrowed by an explicit
// allowlist. Core commands are always included. The result is sorted.
func ResolvePermissions(mode v1.SessionMode, allowed []string) []string {
	set := make(map[string]bool, len(workerCommands)+len(coordinatorExtensions))
	for _, cmd := range workerCommands {
		set[cmd] = true
	}
	if mode == v1.SessionModeCoordinator {
		for _, cmd := range coordinatorExtensions {
			set[cmd] = true
		}
	}

	if len(allowed) > 0 {
		keep := make(map[string]bool, len(allowed))
		for _, cmd := range allowed {
			keep[cmd] = true
		}
		for cmd := range set {
			if !keep[cmd] {
				delete(set, cmd)
			}
		}
	}
	for _, cmd := range CoreCommands {
		set[cmd] = true
	}

	result := make([]string, 0, len(set))
	for cmd := range set {
		result = append(result, cmd)
	}
	sort.Strings(result)
	return result
}

// Allows reports whether cmd is in the resolved command set.
func Allows(commands []string, cmd string) bool {
	for _, c := range commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// Compose builds the manifest document.
func Compose(in ComposeInput) *v1.Manifest {
	commands := ResolvePermissions(in.Session.Mode, in.AllowedCommands)

	m := &v1.Manifest{
		Version:   ManifestVersion,
		SessionID: in.Session.ID,
		ProjectID: in.Session.ProjectID,
		Mode:      in.Session.Mode,
		Model:     in.Model,
		AgentTool: in.AgentTool,
		System: v1.SystemEnvelope{
			Identity:      identityBlock(in.Session.Mode),
			CommandsBrief: commandsBrief(commands),
		},
		Task: v1.TaskEnvelope{
			Prompt: taskPrompt(in.Tasks),
			Tasks:  manifestTasks(in.Tasks),
		},
		Permissions: v1.ManifestPermissions{AllowedCommands: commands},
	}

	if in.Snapshot != nil && !in.Snapshot.IsDefault {
		m.System.TeamIdentity = teamIdentityBlock(in.Snapshot)
	}
	if in.Session.Mode == v1.SessionModeCoordinator {
		m.System.Roster = sortedRoster(in.Roster)
		m.Task.SpawnInstructions = spawnInstructions(in.Session.ProjectID)
	}
	return m
}

func identityBlock(mode v1.SessionMode) string {
	if mode == v1.SessionModeCoordinator {
		return coordinatorIdentityBlock
	}
	return workerIdentityBlock
}

func teamIdentityBlock(snapshot *v1.TeamMemberSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are acting as %q (%s).", snapshot.Name, snapshot.Role)
	if snapshot.Identity != "" {
		b.WriteString(" ")
		b.WriteString(snapshot.Identity)
	}
	return b.String()
}

func commandsBrief(commands []string) string {
	return "You may invoke exactly these maestro commands, no others: " +
		strings.Join(commands, ", ") + "."
}

func taskPrompt(tasks []*taskmodels.Task) string {
	if len(tasks) == 0 {
		return "No tasks are assigned yet. Await instructions via your inbox."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are assigned %d task(s):\n", len(tasks))
	for i, task := range tasks {
		fmt.Fprintf(&b, "%d. %s", i+1, task.Title)
		if task.Description != "" {
			fmt.Fprintf(&b, ": %s", task.Description)
		}
		if len(task.Dependencies) > 0 {
			fmt.Fprintf(&b, " (depends on: %s)", strings.Join(task.Dependencies, ", "))
		}
		if i < len(tasks)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func manifestTasks(tasks []*taskmodels.Task) []v1.ManifestTask {
	result := make([]v1.ManifestTask, 0, len(tasks))
	for _, task := range tasks {
		deps := append([]string(nil), task.Dependencies...)
		sort.Strings(deps)
		result = append(result, v1.ManifestTask{
			ID:           task.ID,
			Title:        task.Title,
			Description:  task.Description,
			Status:       task.Status,
			Priority:     task.Priority,
			Dependencies: deps,
		})
	}
	return result
}

func sortedRoster(roster []v1.RosterEntry) []v1.RosterEntry {
	sorted := append([]v1.RosterEntry(nil), roster...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TeamMemberID < sorted[j].TeamMemberID })
	return sorted
}

func spawnInstructions(projectID string) string {
	return fmt.Sprintf("To delegate a subtask, run: maestro session spawn "+
		"--project %s --task <taskId> --mode worker [--team-member <teamMemberId>]. "+
		"The spawned session receives the task as its assignment.", projectID)
}
