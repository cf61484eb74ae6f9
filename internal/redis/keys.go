package redisx

import "fmt"

const ns = "bustix:v1"

func KeyScheduleSummary(scheduleID int64) string {
	return fmt.Sprintf("%s:schedule:%d:summary", ns, scheduleID)
}

func KeyScheduleAvailability(scheduleID int64) string {
	return fmt.Sprintf("%s:schedule:%d:availability", ns, scheduleID)
}

func KeyScheduleSeatMap(scheduleID int64) string {
	return fmt.Sprintf("%s:schedule:%d:seatmap", ns, scheduleID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelSchedulesChanged() string {
	return ns + ":schedules:changed"
}
