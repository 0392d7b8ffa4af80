package domain

import "time"

type SiteStatus string

const (
	StatusCreating SiteStatus = "creating"
	StatusActive   SiteStatus = "active"
	StatusError    SiteStatus = "error"
	StatusDown     SiteStatus = "down"
)

const PlatformWordPress = "wordpress"

type Site struct {
	ProjectName   string     `json:"projectName"`
	Subdomain     string     `json:"subdomain"`
	SiteURL       string     `json:"siteURL"`
	Platform      string     `json:"platform"`
	WPPort        int        `json:"wpPort"`
	DBName        string     `json:"dbName"`
	DBUser        string     `json:"dbUser"`
	DBPassword    string     `json:"dbPassword"`
	AdminUsername string     `json:"adminUsername"`
	AdminPassword string     `json:"adminPassword"`
	AdminEmail    string     `json:"adminEmail"`
	Plugins       []string   `json:"plugins"`
	Status        SiteStatus `json:"status"`
	LastChecked   *time.Time `json:"lastChecked"`
	LastJobID     string     `json:"lastJobId,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasPlugin reports whether slug is part of the site's plugin set.
func (s Site) HasPlugin(slug string) bool {
	for _, p := range s.Plugins {
		if p == slug {
			return true
		}
	}
	return false
}

type Backup struct {
	File      string    `json:"file"`
	Site      string    `json:"site"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

type Plugin struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Version string `json:"version"`
	Update  string `json:"update"`
	Author  string `json:"author"`
}

type Activity struct {
	ID        uint      `json:"id"`
	Action    string    `json:"action"`
	Site      string    `json:"site,omitempty"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

type VPSStats struct {
	CPUUsage  float64   `json:"cpuUsage"`
	RAMUsage  float64   `json:"ramUsage"`
	SampledAt time.Time `json:"sampledAt"`
}

type ProgressEvent struct {
	Site     string  `json:"site"`
	JobID    string  `json:"jobId,omitempty"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}
