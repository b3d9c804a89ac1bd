package sandbox

import (
	"errors"
	"sync"
)

// ErrNoFreePort is returned when every preview port is held by a project
var ErrNoFreePort = errors.New("sandbox: no free preview port")

// PortPool hands out preview ports from [base, base+size), one per project.
// A project keeps its port until it is released.
type PortPool struct {
	mu        sync.Mutex
	base      int
	size      int
	byProject map[string]int
	owner     map[int]string
}

func NewPortPool(base, size int) *PortPool {
	if size < 1 {
		size = 1
	}
	return &PortPool{
		base:      base,
		size:      size,
		byProject: make(map[string]int),
		owner:     make(map[int]string),
	}
}

// Acquire returns the port of projectID, assigning the lowest free one on
// first use
func (p *PortPool) Acquire(projectID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.byProject[projectID]; ok {
		return port, nil
	}
	for port := p.base; port < p.base+p.size; port++ {
		if _, taken := p.owner[port]; taken {
			continue
		}
		p.byProject[projectID] = port
		p.owner[port] = projectID
		return port, nil
	}
	return 0, ErrNoFreePort
}

// Release frees the port of projectID, if it holds one
func (p *PortPool) Release(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.byProject[projectID]; ok {
		delete(p.byProject, projectID)
		delete(p.owner, port)
	}
}

// InUse is the number of assigned ports
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byProject)
}
