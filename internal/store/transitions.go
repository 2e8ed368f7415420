package store

import "schedcore/scheduling-service/internal/models"

var transitionMap = map[string][]string{
	"confirm":    {models.StatusRequested},
	"start":      {models.StatusRequested, models.StatusConfirmed},
	"complete":   {models.StatusConfirmed, models.StatusInService},
	"cancel":     {models.StatusRequested, models.StatusConfirmed, models.StatusInService},
	"reschedule": {models.StatusRequested, models.StatusConfirmed},
	"no_show":    {models.StatusConfirmed, models.StatusInService},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
