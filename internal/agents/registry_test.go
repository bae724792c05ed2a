package agents

import (
	"testing"

	"github.com/verdantiq/nexus/internal/domain"
)

func TestGetKnownAgent(t *testing.T) {
	agent := Get("scope2-energy")
	if agent == nil {
		t.Fatal("expected scope2-energy to exist")
	}
	if agent.Domain != "carbon-accounting" {
		t.Errorf("expected carbon-accounting domain, got %s", agent.Domain)
	}
	if !agent.HandlesCategory(domain.CategoryElectricity) {
		t.Error("expected scope2-energy to handle electricity")
	}

	if Get("nonexistent") != nil {
		t.Error("expected nil for unknown agent")
	}
}

func TestAssignBracketsEveryRun(t *testing.T) {
	assigned := Assign([]domain.UploadedFile{
		{Category: domain.CategoryFuel},
	})

	if assigned[0] != "intake-validator" {
		t.Errorf("expected intake-validator first, got %s", assigned[0])
	}
	if assigned[len(assigned)-1] != "report-composer" {
		t.Errorf("expected report-composer last, got %s", assigned[len(assigned)-1])
	}
}

func TestAssignSelectsByCategory(t *testing.T) {
	assigned := Assign([]domain.UploadedFile{
		{Category: domain.CategoryFuel},
		{Category: domain.CategoryTravel},
	})

	has := func(id string) bool {
		for _, a := range assigned {
			if a == id {
				return true
			}
		}
		return false
	}

	if !has("scope1-combustion") || !has("scope3-travel") {
		t.Errorf("expected fuel and travel analysts, got %v", assigned)
	}
	if has("scope2-energy") {
		t.Errorf("did not expect scope2-energy, got %v", assigned)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("expected non-empty agent network")
	}
	all[0].Name = "mutated"
	if All()[0].Name == "mutated" {
		t.Error("All must return a copy of the network")
	}
}
