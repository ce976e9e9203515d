package router

import (
	"errors"
	"testing"

	"github.com/mwhitlock/chorus/internal/registry"
	"github.com/mwhitlock/chorus/pkg/models"
)

func setupRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, id := range ids {
		a := &models.Agent{
			ID:           id,
			Name:         id,
			Type:         models.AgentTypeCRM,
			Capabilities: []string{"crm"},
			State:        models.AgentStateActive,
		}
		if err := reg.Register(a, false); err != nil {
			t.Fatalf("Register(%s) error: %v", id, err)
		}
	}
	return reg
}

func TestRouter_Route_RegistrationOrder(t *testing.T) {
	reg := setupRegistry(t, "crm-1", "crm-2")
	r := New(reg)

	got, err := r.Route("crm")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if got.ID != "crm-1" {
		t.Errorf("Route() = %s, want crm-1 (registration order)", got.ID)
	}
}

func TestRouter_Route_LoadAware(t *testing.T) {
	reg := setupRegistry(t, "crm-1", "crm-2")
	r := New(reg)

	// crm-1 is busier, so crm-2 wins despite later registration.
	reg.IncLoad("crm-1")
	reg.IncLoad("crm-1")
	reg.IncLoad("crm-2")

	got, err := r.Route("crm")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if got.ID != "crm-2" {
		t.Errorf("Route() = %s, want least-loaded crm-2", got.ID)
	}
}

func TestRouter_Route_NoAgentAvailable(t *testing.T) {
	reg := setupRegistry(t, "crm-1")
	r := New(reg)

	_, err := r.Route("sales")
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("Route(sales) = %v, want ErrNoAgentAvailable", err)
	}

	// An errored agent is excluded from routing immediately.
	if err := reg.SetState("crm-1", models.AgentStateError, "crash"); err != nil {
		t.Fatalf("SetState() error: %v", err)
	}
	_, err = r.Route("crm")
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("Route(crm) after agent error = %v, want ErrNoAgentAvailable", err)
	}
}

func TestRouter_Route_Exclusion(t *testing.T) {
	reg := setupRegistry(t, "crm-1", "crm-2")
	r := New(reg)

	got, err := r.Route("crm", "crm-1")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if got.ID != "crm-2" {
		t.Errorf("Route(exclude crm-1) = %s, want crm-2", got.ID)
	}

	_, err = r.Route("crm", "crm-1", "crm-2")
	if !errors.Is(err, ErrNoAgentAvailable) {
		t.Fatalf("Route(exclude all) = %v, want ErrNoAgentAvailable", err)
	}
}
