package workflow

import (
	"testing"

	"github.com/proplens/inspections_backend/models"
)

func testTeam(id string, properties map[string]bool) models.Team {
	team := models.Team{ID: id, Name: "Team " + id}
	team.SetProperties(properties)
	return team
}

func testUser(id string, teams map[string]map[string]bool) models.User {
	user := models.User{ID: id}
	user.SetTeams(teams)
	return user
}

func TestPlanTeamReassignment_MovesMembership(t *testing.T) {
	teams := []models.Team{
		testTeam("team-old", map[string]bool{"prop-1": true, "prop-2": true}),
		testTeam("team-new", map[string]bool{"prop-3": true}),
		testTeam("team-other", map[string]bool{"prop-4": true}),
	}
	users := []models.User{
		testUser("user-1", map[string]map[string]bool{
			"team-old": {"prop-1": true},
			"team-new": {"prop-3": true},
		}),
		// Member of the old team only; loses the property and gains nothing.
		testUser("user-2", map[string]map[string]bool{
			"team-old": {"prop-1": true},
		}),
		testUser("user-3", map[string]map[string]bool{
			"team-other": {"prop-4": true},
		}),
	}

	plan := PlanTeamReassignment("prop-1", "team-old", "team-new", teams, users)

	if len(plan.TeamUpdates) != 2 {
		t.Fatalf("expected updates for old and new team only, got %v", plan.TeamUpdates)
	}
	if plan.TeamUpdates["team-old"]["prop-1"] {
		t.Fatal("old team must lose the property")
	}
	if !plan.TeamUpdates["team-new"]["prop-1"] {
		t.Fatal("new team must gain the property")
	}

	if len(plan.UserUpdates) != 2 {
		t.Fatalf("expected updates for user-1 and user-2, got %v", plan.UserUpdates)
	}
	if plan.UserUpdates["user-1"]["team-old"]["prop-1"] {
		t.Fatal("user-1 must lose the old membership")
	}
	if !plan.UserUpdates["user-1"]["team-new"]["prop-1"] {
		t.Fatal("user-1 must gain the new membership")
	}
	if plan.UserUpdates["user-2"]["team-old"]["prop-1"] {
		t.Fatal("user-2 must lose the old membership")
	}
	if _, ok := plan.UserUpdates["user-2"]["team-new"]; ok {
		t.Fatal("user-2 is not on the new team and must not be added to it")
	}
}

func TestPlanTeamReassignment_SameTeamIsNoOp(t *testing.T) {
	teams := []models.Team{testTeam("team-1", map[string]bool{"prop-1": true})}
	users := []models.User{testUser("user-1", map[string]map[string]bool{"team-1": {"prop-1": true}})}

	plan := PlanTeamReassignment("prop-1", "team-1", "team-1", teams, users)
	if !plan.Empty() {
		t.Fatalf("same old and new team must plan nothing, got %+v", plan)
	}
}

func TestPlanTeamReassignment_AssignFromNoTeam(t *testing.T) {
	teams := []models.Team{testTeam("team-1", nil)}
	users := []models.User{testUser("user-1", map[string]map[string]bool{"team-1": {}})}

	plan := PlanTeamReassignment("prop-1", "", "team-1", teams, users)
	if !plan.TeamUpdates["team-1"]["prop-1"] {
		t.Fatal("team must gain the property on first assignment")
	}
	if !plan.UserUpdates["user-1"]["team-1"]["prop-1"] {
		t.Fatal("team member must gain the property on first assignment")
	}
}

// A fresh team's membership blob is stored as JSON null; the first property
// assignment must land instead of panicking on a nil map.
func TestPlanTeamReassignment_NullMembershipBlobs(t *testing.T) {
	teams := []models.Team{testTeam("team-1", nil)}
	users := []models.User{testUser("user-1", map[string]map[string]bool{"team-1": nil})}
	if string(teams[0].PropertiesJSON) != "null" {
		t.Fatalf("expected a null membership blob, got %q", teams[0].PropertiesJSON)
	}

	plan := PlanTeamReassignment("prop-1", "", "team-1", teams, users)
	if !plan.TeamUpdates["team-1"]["prop-1"] {
		t.Fatal("team with a null blob must gain the property")
	}
	if !plan.UserUpdates["user-1"]["team-1"]["prop-1"] {
		t.Fatal("member with a null nested map must gain the property")
	}
}

func TestPlanTeamReassignment_UnassignToNoTeam(t *testing.T) {
	teams := []models.Team{testTeam("team-1", map[string]bool{"prop-1": true})}
	users := []models.User{testUser("user-1", map[string]map[string]bool{"team-1": {"prop-1": true}})}

	plan := PlanTeamReassignment("prop-1", "team-1", "", teams, users)
	if plan.TeamUpdates["team-1"]["prop-1"] {
		t.Fatal("team must lose the property on unassignment")
	}
	if plan.UserUpdates["user-1"]["team-1"]["prop-1"] {
		t.Fatal("team member must lose the property on unassignment")
	}
}
