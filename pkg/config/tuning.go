package config

import "time"

// Read API timeouts and limits
const (
	ReadTimeout        = 10 * time.Second
	ListTimeout        = 5 * time.Second
	ChartTimeout       = 15 * time.Second
	ListVenuesLimit    = 500
	ListAttractionsMax = 2000
)

// Run timeouts for cron-dispatched batches
const (
	IngestRunTimeout  = 10 * time.Minute
	HourlyRunTimeout  = 30 * time.Minute
	DailyRunTimeout   = 1 * time.Hour
	MonthlyRunTimeout = 1 * time.Hour
)

// Live feed
const (
	LiveWriteWait  = 10 * time.Second
	LivePongWait   = 60 * time.Second
	LivePingPeriod = 54 * time.Second
)
