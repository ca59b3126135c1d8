// Package models defines the project entity.
package models

import "time"

// Project owns tasks and sessions; deleting a project cascades to them.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	WorkingDir string    `json:"workingDir"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a copy of the project record.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
