// Package scheduler implements the cron scheduling engine: a min-heap of
// CronSchedules ordered by next-fire time, woken by a single timer that
// always sleeps until the earliest deadline instead of polling.
//
// Each schedule carries its own 5-field cron expression and IANA time
// zone; next-fire times are computed in that zone and converted to UTC,
// so daylight-saving transitions shift the wall-clock fire time the way
// a human reading the expression in that zone would expect.
package scheduler
