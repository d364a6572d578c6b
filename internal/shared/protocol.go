package shared

import (
	"net"
	"strconv"
	"time"
)

// ServerRecord is one row of the live snapshot (servers) or of the bookmarks
// (starred_servers). JSON names match the column names.
type ServerRecord struct {
	Hash          string  `json:"hash" yaml:"hash"`
	IP            string  `json:"ip_str" yaml:"ip_str"`
	Port          int     `json:"port" yaml:"port"`
	City          *string `json:"location_city" yaml:"location_city"`
	Country       *string `json:"location_country_name" yaml:"location_country_name"`
	Version       *string `json:"version" yaml:"version"`
	PlayersOnline *int64  `json:"players_online" yaml:"players_online"`
	PlayersMax    *int64  `json:"players_max" yaml:"players_max"`
	Description   string  `json:"description" yaml:"description"`
}

// Addr returns host:port.
func (r ServerRecord) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// ServerView is a snapshot row annotated with its bookmark state.
type ServerView struct {
	ServerRecord
	IsStarred bool `json:"is_starred"`
}

// ServerList is returned by the sorted/filtered list endpoint.
type ServerList struct {
	Servers []ServerView `json:"servers"`
	Sort    string       `json:"sort"`
	Order   string       `json:"order"`
	Filter  string       `json:"filter"`
}

type RescanRequest struct {
	Pages int    `json:"pages"`
	Query string `json:"query"`

	// ActiveOnly drops servers reporting zero players before saving.
	ActiveOnly bool `json:"active_only,omitempty"`
}

// Rescan outcomes.
const (
	RescanOK       = "ok"
	RescanFailed   = "failed"
	RescanRejected = "rejected"
	RescanCanceled = "canceled"
)

type RescanResult struct {
	RunID      string    `json:"run_id,omitempty"`
	Status     string    `json:"status"`
	Query      string    `json:"query,omitempty"`
	Pages      int       `json:"pages,omitempty"`
	Count      int       `json:"count"`
	Partial    bool      `json:"partial"`
	Message    string    `json:"message"`
	Warning    string    `json:"warning,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Rescan states.
const (
	StateIdle    = "idle"
	StateRunning = "running"
)

type RescanStatus struct {
	State string        `json:"state"`
	RunID string        `json:"run_id,omitempty"`
	Last  *RescanResult `json:"last,omitempty"`
}

// TableStats are row counts of the two tables.
type TableStats struct {
	Servers int `json:"servers" yaml:"servers"`
	Starred int `json:"starred" yaml:"starred"`
}

func StringPtr(s string) *string { return &s }

func Int64Ptr(n int64) *int64 { return &n }
