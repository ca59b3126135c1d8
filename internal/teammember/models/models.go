// Package models defines team member identities and their override patches.
package models

import (
	"time"

	v1 "github.com/maestro/maestro/pkg/api/v1"
)

// TeamMember is a reusable agent identity attached to a session at spawn.
// Every project has two defaults (Worker, Coordinator) with deterministic IDs
// derived from the project ID; defaults are served from code and customized
// via an on-disk override patch. Custom members are ordinary records.
type TeamMember struct {
	ID        string              `json:"id"`
	ProjectID string              `json:"projectId"`
	Name      string              `json:"name"`
	Role      v1.TeamMemberRole   `json:"role"`
	Identity  string              `json:"identity,omitempty"`
	Avatar    string              `json:"avatar,omitempty"`
	Model     string              `json:"model,omitempty"`
	AgentTool string              `json:"agentTool,omitempty"`
	SkillIDs  []string            `json:"skillIds,omitempty"`
	IsDefault bool                `json:"isDefault"`
	Status    v1.TeamMemberStatus `json:"status"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Clone returns a deep copy of the team member record.
func (m *TeamMember) Clone() *TeamMember {
	if m == nil {
		return nil
	}
	c := *m
	c.SkillIDs = append([]string(nil), m.SkillIDs...)
	return &c
}

// Snapshot freezes the identity fields carried onto a session at spawn.
func (m *TeamMember) Snapshot() *v1.TeamMemberSnapshot {
	return &v1.TeamMemberSnapshot{
		TeamMemberID: m.ID,
		Name:         m.Name,
		Role:         m.Role,
		Identity:     m.Identity,
		Avatar:       m.Avatar,
		Model:        m.Model,
		AgentTool:    m.AgentTool,
		SkillIDs:     append([]string(nil), m.SkillIDs...),
		IsDefault:    m.IsDefault,
	}
}

// Override is the partial patch applied over a code default. A nil field
// leaves the default value in place; reset deletes the whole patch.
type Override struct {
	Name      *string   `json:"name,omitempty"`
	Identity  *string   `json:"identity,omitempty"`
	Avatar    *string   `json:"avatar,omitempty"`
	Model     *string   `json:"model,omitempty"`
	AgentTool *string   `json:"agentTool,omitempty"`
	SkillIDs  *[]string `json:"skillIds,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Empty reports whether the override patches nothing.
func (o *Override) Empty() bool {
	return o == nil || (o.Name == nil && o.Identity == nil && o.Avatar == nil &&
		o.Model == nil && o.AgentTool == nil && o.SkillIDs == nil)
}

// Apply merges the patch over base, returning a new record.
func (o *Override) Apply(base *TeamMember) *TeamMember {
	merged := base.Clone()
	if o == nil {
		return merged
	}
	if o.Name != nil {
		merged.Name = *o.Name
	}
	if o.Identity != nil {
		merged.Identity = *o.Identity
	}
	if o.Avatar != nil {
		merged.Avatar = *o.Avatar
	}
	if o.Model != nil {
		merged.Model = *o.Model
	}
	if o.AgentTool != nil {
		merged.AgentTool = *o.AgentTool
	}
	if o.SkillIDs != nil {
		merged.SkillIDs = append([]string(nil), (*o.SkillIDs)...)
	}
	if !o.UpdatedAt.IsZero() {
		merged.UpdatedAt = o.UpdatedAt
	}
	return merged
}
