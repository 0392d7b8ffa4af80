package domain

import "time"

type SiteRepository interface {
	SaveSite(site *Site) error
	ListSites() ([]Site, error)
	GetSite(name string) (*Site, error)
	DeleteSite(name string) error
	UpdateSiteStatus(name string, status SiteStatus, lastError string) error
	UpdateSitePlugins(name string, plugins []string) error
	TouchSite(name string, checkedAt time.Time) error
	SetSiteLastJob(name, jobID string) error
}

type JobRepository interface {
	SaveJob(job *Job) error
	UpdateJob(job *Job) error
	GetJob(id string) (*Job, error)
	ListJobsBySite(site string, limit int) ([]Job, error)
	ListUnfinishedJobs() ([]Job, error)
}

type ActivityRepository interface {
	AppendActivity(entry *Activity) error
	ListActivities(limit int) ([]Activity, error)
}

type UserRepository interface {
	CreateUser(user *User) error
	GetUserByUsername(username string) (*User, error)
	CountUsers() (int64, error)
}

type SettingRepository interface {
	GetSetting(key string) (string, error)
	SetSetting(key string, value string) error
	GetPortRange() (int, int, error)
	SetPortRange(start int, end int) error
}

type Repository interface {
	SiteRepository
	JobRepository
	ActivityRepository
	UserRepository
	SettingRepository
}
