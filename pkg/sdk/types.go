package sdk

import (
	"encoding/json"
	"time"
)

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
	Status        string     `json:"status"`
	LastChecked   *time.Time `json:"lastChecked"`
	LastJobID     string     `json:"lastJobId,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type CreateSiteRequest struct {
	ProjectName   string   `json:"projectName"`
	Subdomain     string   `json:"subdomain,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	AdminUsername string   `json:"adminUsername"`
	AdminPassword string   `json:"adminPassword"`
	AdminEmail    string   `json:"adminEmail,omitempty"`
	Plugins       []string `json:"selectedPlugins,omitempty"`
}

// Accepted is the body of every 202 response.
type Accepted struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	SiteURL string `json:"siteURL,omitempty"`
}

type Job struct {
	ID         string     `json:"id"`
	SiteName   string     `json:"siteName"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	Detail     string     `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (j Job) Done() bool {
	return j.State == "succeeded" || j.State == "failed"
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
	CPUUsage string `json:"cpu_usage"`
	RAMUsage string `json:"ram_usage"`
}

type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Event is one websocket frame from the daemon.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ProgressEvent struct {
	Site     string  `json:"site"`
	JobID    string  `json:"jobId,omitempty"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}
