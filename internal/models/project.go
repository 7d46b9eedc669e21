package models

import "time"

// Project is the minimal projection of a product project that the
// orchestrator needs: where the repository lives. Epics and stories are
// owned by the surrounding application and referenced by id only.
type Project struct {
	ID        string
	Name      string
	RepoPath  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
