package gitlab

import (
	"time"
)

// ProjectSet is an ordered collection of projects that tracks the latest
// activity timestamp of its members.
//
// The maximum is maintained incrementally on Add and recomputed on Remove,
// so LastActivity is always the true maximum over the current members.
// A ProjectSet is not safe for concurrent mutation.
type ProjectSet struct {
	projects     []*Project
	lastActivity time.Time
}

// NewProjectSet returns a set holding ps in order.
func NewProjectSet(ps ...*Project) *ProjectSet {
	s := &ProjectSet{}
	for _, p := range ps {
		s.Add(p)
	}
	return s
}

// Add appends p. Nil projects are ignored.
func (s *ProjectSet) Add(p *Project) {
	if p == nil {
		return
	}
	s.projects = append(s.projects, p)
	if p.LastActivityAt.After(s.lastActivity) {
		s.lastActivity = p.LastActivityAt
	}
}

// AddRaw validates raw with [NewProject] and appends the result. An invalid
// record is not added and its validation error is returned.
func (s *ProjectSet) AddRaw(raw Record) error {
	p, err := NewProject(raw)
	if err != nil {
		return err
	}
	s.Add(p)
	return nil
}

// Remove deletes the project with the given id and reports whether it was present.
func (s *ProjectSet) Remove(id int64) bool {
	for i, p := range s.projects {
		if p.ID != id {
			continue
		}
		s.projects = append(s.projects[:i], s.projects[i+1:]...)
		s.recompute()
		return true
	}
	return false
}

func (s *ProjectSet) recompute() {
	s.lastActivity = time.Time{}
	for _, p := range s.projects {
		if p.LastActivityAt.After(s.lastActivity) {
			s.lastActivity = p.LastActivityAt
		}
	}
}

// LastActivity returns the latest activity timestamp, and false when the set is empty.
func (s *ProjectSet) LastActivity() (time.Time, bool) {
	if s == nil || len(s.projects) == 0 {
		return time.Time{}, false
	}
	return s.lastActivity, true
}

// Len returns the number of projects.
func (s *ProjectSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.projects)
}

// Projects returns the members in insertion order.
func (s *ProjectSet) Projects() []*Project {
	if s == nil {
		return nil
	}
	return append([]*Project(nil), s.projects...)
}
