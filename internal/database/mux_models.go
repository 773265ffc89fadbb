package database

import (
	"encoding/json"
	"time"
)

// MuxStatus represents the lifecycle state of a mux session
type MuxStatus string

const (
	MuxStatusRunning   MuxStatus = "running"
	MuxStatusCompleted MuxStatus = "completed"
	MuxStatusFailed    MuxStatus = "failed"
)

// ActiveStatuses are the statuses of sessions whose child may still run
var ActiveStatuses = []MuxStatus{MuxStatusRunning}

// MuxSession is one recorded muxer run
type MuxSession struct {
	ID        string     `gorm:"primaryKey;type:varchar(128)" json:"id"`
	PID       int        `gorm:"column:pid" json:"pid"`
	Binary    string     `gorm:"type:varchar(512)" json:"binary"`
	Args      string     `gorm:"type:text" json:"-"` // JSON string
	Inputs    int        `json:"inputs"`
	Status    MuxStatus  `gorm:"type:varchar(32);not null;index" json:"status"`
	StartTime time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime   *time.Time `gorm:"index" json:"end_time,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	BytesIn   int64      `json:"bytes_in"`
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM
func (MuxSession) TableName() string {
	return "mux_sessions"
}

// GetArgs deserializes the Args JSON string
func (s *MuxSession) GetArgs() ([]string, error) {
	if s.Args == "" {
		return nil, nil
	}
	var args []string
	if err := json.Unmarshal([]byte(s.Args), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// SetArgs serializes args into the Args JSON string
func (s *MuxSession) SetArgs(args []string) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	s.Args = string(data)
	return nil
}

// Duration returns how long the session ran, or has been running
func (s *MuxSession) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}
