package sim

import (
	"fmt"

	"mailweave/internal/domain"
)

// A goal this far along must wait for an external response before the
// character pushes it again.
const maxAdvancedGoalEmails = 4

var goalStagePhrases = map[domain.GoalStage][]string{
	domain.GoalStageInitial:    {"working on"},
	domain.GoalStageInProgress: {"following up on", "advancing"},
	domain.GoalStageAdvanced:   {"wrapping up", "responding to feedback on"},
}

// goalPhrase rotates through the stage-specific phrasings by email
// count so successive emails about the same goal never repeat the same
// literal framing.
func goalPhrase(g domain.Goal) string {
	phrases := goalStagePhrases[g.Stage()]
	return phrases[g.EmailsSent%len(phrases)]
}

func goalEventDescription(c *domain.Character, g domain.Goal) string {
	return fmt.Sprintf("%s is %s %s", c.Name, goalPhrase(g), g.Description)
}

// immediateGoal returns the index of the character's first
// immediate-priority goal, or -1.
func immediateGoal(c *domain.Character) int {
	for i := range c.Goals {
		if c.Goals[i].Priority == domain.GoalPriorityImmediate {
			return i
		}
	}
	return -1
}

// progressGoal records that an email advanced the goal, remembering the
// approach so the rotation moves on.
func progressGoal(c *domain.Character, goalID, approach string) bool {
	for i := range c.Goals {
		if c.Goals[i].ID == goalID {
			c.Goals[i].EmailsSent++
			c.Goals[i].ApproachHistory = append(c.Goals[i].ApproachHistory, approach)
			return true
		}
	}
	return false
}
