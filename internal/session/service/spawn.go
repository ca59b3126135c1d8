package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maestro/maestro/internal/common/apperrors"
	"github.com/maestro/maestro/internal/common/ident"
	"github.com/maestro/maestro/internal/common/tracing"
	"github.com/maestro/maestro/internal/events"
	"github.com/maestro/maestro/internal/session/manifest"
	"github.com/maestro/maestro/internal/session/models"
	taskmodels "github.com/maestro/maestro/internal/task/models"
	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// SpawnRequest describes a full session spawn.
type SpawnRequest struct {
	ProjectID       string         `json:"projectId"`
	TaskIDs         []string       `json:"taskIds"`
	Mode            v1.SessionMode `json:"mode"`
	SpawnSource     v1.SpawnSource `json:"spawnSource"`
	TeamMemberID    string         `json:"teamMemberId"`
	ParentSessionID string         `json:"parentSessionId"`
	Name            string         `json:"name"`
	Model           string         `json:"model"`
	AgentTool       string         `json:"agentTool"`
	AllowedCommands []string       `json:"allowedCommands"`
}

// SpawnResponse is the payload handed back to the launcher. EnvVars and
// InitialCommand repeat the session:spawn announcement so a caller that
// missed the event can still launch.
type SpawnResponse struct {
	SessionID      string            `json:"sessionId"`
	ManifestPath   string            `json:"manifestPath"`
	Manifest       *v1.Manifest      `json:"manifest"`
	EnvVars        map[string]string `json:"envVars"`
	InitialCommand string            `json:"initialCommand"`
}

// spawnAnnouncement is the session.spawn event payload.
type spawnAnnouncement struct {
	SessionID      string            `json:"sessionId"`
	ProjectID      string            `json:"projectId"`
	Mode           v1.SessionMode    `json:"mode"`
	SpawnSource    v1.SpawnSource    `json:"spawnSource"`
	ManifestPath   string            `json:"manifestPath"`
	EnvVars        map[string]string `json:"envVars"`
	InitialCommand string            `json:"initialCommand"`
}

// Spawn runs the full spawn protocol: validate, resolve the team member,
// create the session, link tasks, compose and persist the manifest, announce.
// The whole operation runs under the configured ceiling; past it the session
// is marked failed and no session.spawn is emitted.
func (s *Service) Spawn(ctx context.Context, req SpawnRequest) (*SpawnResponse, error) {
	if req.Mode == "" {
		req.Mode = v1.SessionModeWorker
	}
	if !v1.ValidSessionMode(req.Mode) {
		return nil, apperrors.Validation("invalid session mode %q", req.Mode)
	}
	if req.SpawnSource == "" {
		req.SpawnSource = v1.SpawnSourceAPI
	}
	switch req.SpawnSource {
	case v1.SpawnSourceUI, v1.SpawnSourceSession, v1.SpawnSourceAPI:
	default:
		return nil, apperrors.Validation("invalid spawnSource %q", req.SpawnSource)
	}

	ctx, cancel := context.WithTimeout(ctx, s.spawnCfg.Timeout())
	defer cancel()

	ctx, span := tracing.TraceSpawn(ctx, req.ProjectID, string(req.Mode), len(req.TaskIDs))
	resp, err := s.spawn(ctx, req)
	tracing.TraceResult(span, err)
	span.End()
	return resp, err
}

func (s *Service) spawn(ctx context.Context, req SpawnRequest) (*SpawnResponse, error) {
	if _, err := s.projects.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	tasks := make([]*taskmodels.Task, 0, len(req.TaskIDs))
	for _, taskID := range req.TaskIDs {
		task, err := s.tasks.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.ProjectID != req.ProjectID {
			return nil, apperrors.Validation("task %s belongs to a different project", taskID)
		}
		tasks = append(tasks, task)
	}

	if req.SpawnSource == v1.SpawnSourceSession {
		if req.ParentSessionID == "" {
			return nil, apperrors.Validation("parentSessionId is required for session-sourced spawns")
		}
		parent, err := s.repo.Get(ctx, req.ParentSessionID)
		if err != nil {
			return nil, err
		}
		if parent.Status.IsTerminal() {
			return nil, apperrors.Conflict("parent session %s is %s", parent.ID, parent.Status)
		}
		if !manifest.Allows(sessionCommands(parent), manifest.CommandSessionSpawn) {
			return nil, apperrors.Forbidden("session %s may not spawn sessions", parent.ID)
		}
	}

	member, err := s.teamMembers.ResolveForSpawn(ctx, req.ProjectID, req.TeamMemberID, req.Mode)
	if err != nil {
		return nil, err
	}
	snapshot := member.Snapshot()

	model := firstNonEmpty(req.Model, member.Model, s.spawnCfg.DefaultModel, "sonnet")
	agentTool := firstNonEmpty(req.AgentTool, member.AgentTool, s.spawnCfg.DefaultAgentTool, "claude")

	now := time.Now().UTC()
	session := &models.Session{
		ID:                 ident.New(ident.KindSession),
		ProjectID:          req.ProjectID,
		TaskIDs:            []string{},
		Name:               req.Name,
		Status:             v1.SessionStatusSpawning,
		Mode:               req.Mode,
		AllowedCommands:    manifest.ResolvePermissions(req.Mode, req.AllowedCommands),
		StartedAt:          now,
		LastActivity:       now,
		Events:             []models.Event{},
		TeamMemberID:       member.ID,
		TeamMemberSnapshot: snapshot,
	}
	if req.ParentSessionID != "" {
		session.Metadata = map[string]interface{}{"parentSessionId": req.ParentSessionID}
	}
	session.Env = spawnEnvVars(session, req.TaskIDs, s.repo.ManifestPath(session.ID))

	s.locks.Lock(session.ID)
	defer s.locks.Unlock(session.ID)

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	// Link tasks both ways. A single-task worker spawn starts working
	// immediately; anything queued beyond that waits its turn.
	initialStatus := v1.TaskSessionQueued
	if req.Mode == v1.SessionModeWorker && len(tasks) == 1 {
		initialStatus = v1.TaskSessionWorking
	}
	linked := make([]*taskmodels.Task, 0, len(tasks))
	for _, task := range tasks {
		s.locks.Lock(task.ID)
		fresh, err := s.tasks.Get(ctx, task.ID)
		if err == nil {
			fresh.AddSession(session.ID)
			if fresh.TaskSessionStatuses == nil {
				fresh.TaskSessionStatuses = make(map[string]v1.TaskSessionStatus)
			}
			fresh.TaskSessionStatuses[session.ID] = initialStatus
			fresh.UpdatedAt = time.Now().UTC()
			err = s.tasks.Update(ctx, fresh)
		}
		s.locks.Unlock(task.ID)
		if err != nil {
			return nil, s.failSpawn(ctx, session, fmt.Sprintf("task link failed: %v", err))
		}
		linked = append(linked, fresh)
		session.AddTask(fresh.ID)
	}
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, s.failSpawn(ctx, session, fmt.Sprintf("session update failed: %v", err))
	}

	mctx, mspan := tracing.TraceManifestCompose(ctx, session.ID)
	doc, manifestPath, err := s.composeAndWriteManifest(mctx, session, linked, req.AllowedCommands, model, agentTool)
	tracing.TraceResult(mspan, err)
	mspan.End()
	if err != nil {
		return nil, s.failSpawn(ctx, session, err.Error())
	}

	initialCommand := buildInitialCommand(agentTool, model)
	s.publish(ctx, events.SessionCreated, session.Clone())
	for _, task := range linked {
		s.publish(ctx, events.TaskUpdated, task.Clone())
	}
	if req.SpawnSource == v1.SpawnSourceUI || req.SpawnSource == v1.SpawnSourceSession {
		s.publish(ctx, events.SessionSpawn, spawnAnnouncement{
			SessionID:      session.ID,
			ProjectID:      session.ProjectID,
			Mode:           session.Mode,
			SpawnSource:    req.SpawnSource,
			ManifestPath:   manifestPath,
			EnvVars:        session.Env,
			InitialCommand: initialCommand,
		})
	}

	s.logger.WithSessionID(session.ID).Info("session spawned",
		zap.String("project_id", session.ProjectID),
		zap.String("mode", string(session.Mode)),
		zap.String("spawn_source", string(req.SpawnSource)),
		zap.Int("tasks", len(linked)))

	return &SpawnResponse{
		SessionID:      session.ID,
		ManifestPath:   manifestPath,
		Manifest:       doc,
		EnvVars:        session.Env,
		InitialCommand: initialCommand,
	}, nil
}

func (s *Service) composeAndWriteManifest(ctx context.Context, session *models.Session, tasks []*taskmodels.Task, allowed []string, model, agentTool string) (*v1.Manifest, string, error) {
	var roster []v1.RosterEntry
	if session.Mode == v1.SessionModeCoordinator {
		members, err := s.teamMembers.ListByProject(ctx, session.ProjectID)
		if err != nil {
			return nil, "", err
		}
		for _, m := range members {
			if m.Status != v1.TeamMemberActive {
				continue
			}
			roster = append(roster, v1.RosterEntry{
				TeamMemberID: m.ID,
				Name:         m.Name,
				Role:         m.Role,
				Identity:     m.Identity,
			})
		}
	}

	doc := manifest.Compose(manifest.ComposeInput{
		Session:         session,
		Tasks:           tasks,
		Snapshot:        session.TeamMemberSnapshot,
		Roster:          roster,
		AllowedCommands: allowed,
		Model:           model,
		AgentTool:       agentTool,
	})

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path, err := s.repo.WriteManifest(ctx, session.ID, doc)
	if err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return doc, path, nil
}

// failSpawn marks a half-created session failed with a reason. The original
// error is returned to the caller; no session.spawn is emitted.
func (s *Service) failSpawn(ctx context.Context, session *models.Session, reason string) error {
	s.applyStatus(session, v1.SessionStatusFailed)
	if session.Metadata == nil {
		session.Metadata = map[string]interface{}{}
	}
	session.Metadata["failureReason"] = reason
	// Persist outside the request deadline so the failure itself survives.
	if err := s.repo.Update(context.WithoutCancel(ctx), session); err != nil {
		s.logger.WithError(err).Error("failed to persist spawn failure",
			zap.String("session_id", session.ID))
	}
	s.publish(ctx, events.SessionUpdated, session.Clone())
	s.logger.WithSessionID(session.ID).Warn("spawn failed", zap.String("reason", reason))

	if strings.Contains(reason, "deadline exceeded") {
		return apperrors.Timeout("spawn of session %s exceeded the ceiling", session.ID)
	}
	return apperrors.Internal("spawn of session %s failed: %s", session.ID, reason)
}

// sessionCommands returns a session's resolved command set. Sessions
// persisted before the set was stored fall back to their mode defaults.
func sessionCommands(session *models.Session) []string {
	if len(session.AllowedCommands) > 0 {
		return session.AllowedCommands
	}
	return manifest.ResolvePermissions(session.Mode, nil)
}

func spawnEnvVars(session *models.Session, taskIDs []string, manifestPath string) map[string]string {
	return map[string]string{
		v1.EnvSessionID:    session.ID,
		v1.EnvProjectID:    session.ProjectID,
		v1.EnvManifestPath: manifestPath,
		v1.EnvTaskIDs:      strings.Join(taskIDs, ","),
	}
}

func buildInitialCommand(agentTool, model string) string {
	if model == "" {
		return agentTool
	}
	return fmt.Sprintf("%s --model %s", agentTool, model)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
