package workflow

import (
	"github.com/proplens/inspections_backend/config"
	"github.com/proplens/inspections_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TeamReassignmentPlan is the exact set of membership-map rewrites a property
// team move requires. Only changed records appear; appliers turn each entry
// into one blob-column update.
type TeamReassignmentPlan struct {
	// TeamUpdates maps teamId -> replacement {propertyId: true} map.
	TeamUpdates map[string]map[string]bool
	// UserUpdates maps userId -> replacement {teamId: {propertyId: true}} map.
	UserUpdates map[string]map[string]map[string]bool
}

func (p TeamReassignmentPlan) Empty() bool {
	return len(p.TeamUpdates) == 0 && len(p.UserUpdates) == 0
}

// PlanTeamReassignment computes the map rewrites for moving a property from
// oldTeamId to newTeamId (either may be empty for assign/unassign). The
// property is removed from the old team's map and every member's nested map,
// and added exactly once to the new team's. Pure; no store access.
func PlanTeamReassignment(propertyId, oldTeamId, newTeamId string, teams []models.Team, users []models.User) TeamReassignmentPlan {
	plan := TeamReassignmentPlan{
		TeamUpdates: map[string]map[string]bool{},
		UserUpdates: map[string]map[string]map[string]bool{},
	}
	if propertyId == "" || oldTeamId == newTeamId {
		return plan
	}

	for i := range teams {
		team := &teams[i]
		props := team.Properties()
		changed := false
		if team.ID == oldTeamId && props[propertyId] {
			delete(props, propertyId)
			changed = true
		}
		if team.ID == newTeamId && !props[propertyId] {
			props[propertyId] = true
			changed = true
		}
		if changed {
			plan.TeamUpdates[team.ID] = props
		}
	}

	for i := range users {
		user := &users[i]
		teamsMap := user.Teams()
		changed := false
		if props, ok := teamsMap[oldTeamId]; ok && props[propertyId] {
			delete(props, propertyId)
			teamsMap[oldTeamId] = props
			changed = true
		}
		if props, ok := teamsMap[newTeamId]; ok && !props[propertyId] {
			if props == nil {
				props = map[string]bool{}
			}
			props[propertyId] = true
			teamsMap[newTeamId] = props
			changed = true
		}
		if changed {
			plan.UserUpdates[user.ID] = teamsMap
		}
	}

	return plan
}

// ApplyTeamReassignment writes a plan's map rewrites. Each record gets a
// single targeted update of its membership blob.
func ApplyTeamReassignment(tx *gorm.DB, logger *logrus.Logger, plan TeamReassignmentPlan) error {
	for teamId, props := range plan.TeamUpdates {
		team := models.Team{}
		team.SetProperties(props)
		if err := tx.Model(&models.Team{}).Where("id = ?", teamId).
			Update("properties_json", team.PropertiesJSON).Error; err != nil {
			config.LogError(logger, "team.go", "ApplyTeamReassignment", "UpdateTeam", teamId, err)
			return err
		}
	}
	for userId, teamsMap := range plan.UserUpdates {
		user := models.User{}
		user.SetTeams(teamsMap)
		if err := tx.Model(&models.User{}).Where("id = ?", userId).
			Update("teams_json", user.TeamsJSON).Error; err != nil {
			config.LogError(logger, "team.go", "ApplyTeamReassignment", "UpdateUser", userId, err)
			return err
		}
	}
	return nil
}

// ProcessPropertyTeamChange loads the affected teams and users, plans the
// reassignment and applies it. No-op when the team did not change.
func ProcessPropertyTeamChange(tx *gorm.DB, logger *logrus.Logger, oldProperty, newProperty *models.Property) error {
	oldTeam := ""
	if oldProperty != nil && oldProperty.TeamId != nil {
		oldTeam = *oldProperty.TeamId
	}
	newTeam := ""
	if newProperty.TeamId != nil {
		newTeam = *newProperty.TeamId
	}
	if oldTeam == newTeam {
		return nil
	}

	var teams []models.Team
	teamIds := []string{}
	if oldTeam != "" {
		teamIds = append(teamIds, oldTeam)
	}
	if newTeam != "" {
		teamIds = append(teamIds, newTeam)
	}
	if err := tx.Where("id IN ?", teamIds).Find(&teams).Error; err != nil {
		config.LogError(logger, "team.go", "ProcessPropertyTeamChange", "QueryTeams", teamIds, err)
		return err
	}

	var users []models.User
	if err := tx.Find(&users).Error; err != nil {
		config.LogError(logger, "team.go", "ProcessPropertyTeamChange", "QueryUsers", newProperty.ID, err)
		return err
	}

	plan := PlanTeamReassignment(newProperty.ID, oldTeam, newTeam, teams, users)
	if plan.Empty() {
		return nil
	}
	return ApplyTeamReassignment(tx, logger, plan)
}
