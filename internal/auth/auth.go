package auth

import (
	"fmt"
	"sync"

	"github.com/jonabai/dcasino/internal/shared/errs"
)

// Capability identifica uma permissão exigida por um ponto de entrada mutável.
type Capability string

const (
	CapTreasuryAdmin Capability = "treasury-admin"
	CapGameOperator  Capability = "game-operator"
	CapResolver      Capability = "resolver"
	CapRequester     Capability = "requester"
)

var ErrForbidden = fmt.Errorf("%w: missing capability", errs.ErrUnauthorized)

// Authorizer responde se uma identidade possui uma capability.
// A hierarquia de papéis fica fora do core, quem injeta decide.
type Authorizer interface {
	Allowed(identity string, c Capability) bool
}

// AuthorizerFunc adapta uma função para Authorizer
type AuthorizerFunc func(identity string, c Capability) bool

func (f AuthorizerFunc) Allowed(identity string, c Capability) bool { return f(identity, c) }

// Require retorna ErrForbidden quando a identidade não possui a capability.
func Require(a Authorizer, identity string, c Capability) error {
	if a == nil || !a.Allowed(identity, c) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, identity, c)
	}
	return nil
}

// Static é um Authorizer em memória: identidade -> conjunto de capabilities.
type Static struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]struct{}
}

func NewStatic() *Static {
	return &Static{grants: make(map[string]map[Capability]struct{})}
}

// Grant concede capabilities a uma identidade
func (s *Static) Grant(identity string, caps ...Capability) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.grants[identity]
	if !ok {
		set = make(map[Capability]struct{})
		s.grants[identity] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return s
}

// Revoke remove uma capability
func (s *Static) Revoke(identity string, c Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.grants[identity]; ok {
		delete(set, c)
	}
}

func (s *Static) Allowed(identity string, c Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[identity][c]
	return ok
}
