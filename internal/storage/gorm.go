package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Site struct {
	ProjectName   string `gorm:"primaryKey"`
	Subdomain     string `gorm:"uniqueIndex"`
	SiteURL       string
	Platform      string
	WPPort        int `gorm:"uniqueIndex"`
	DBName        string `gorm:"uniqueIndex"`
	DBUser        string
	DBPassword    string
	AdminUsername string
	AdminPassword string
	AdminEmail    string
	Plugins       string
	Status        string
	LastChecked   *time.Time
	LastJobID     string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Job struct {
	ID         string `gorm:"primaryKey"`
	SiteName   string `gorm:"index"`
	Kind       string
	State      string `gorm:"index"`
	Detail     string
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

type Activity struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Action    string
	Site      string `gorm:"index"`
	Level     string
	Timestamp time.Time `gorm:"index"`
}

type User struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Password  string
	CreatedAt time.Time
}

type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

type GormStore struct {
	db           *gorm.DB
	sealer       *Sealer
	log          *slog.Logger
	activityKeep int
	jobKeep      int
}

type Options struct {
	Sealer         *Sealer
	Logger         *slog.Logger
	PortRangeStart int
	PortRangeEnd   int
	// ActivityKeep caps the activity table; JobKeep caps finished jobs per
	// site. Zero keeps everything.
	ActivityKeep int
	JobKeep      int
}

func NewGormStore(path string, opts Options) (*GormStore, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Sealer == nil {
		return nil, errors.New("a credential sealer is required")
	}

	newLogger := gormlogger.New(
		logger.Std(opts.Logger.With("component", "gorm"), slog.LevelError),
		gormlogger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  gormlogger.Error,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}
	// Jobs, the reconciler and the API write concurrently; sqlite takes one
	// writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&Site{}, &Job{}, &Activity{}, &User{}, &Setting{})
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	store := &GormStore{
		db:           db,
		sealer:       opts.Sealer,
		log:          opts.Logger,
		activityKeep: opts.ActivityKeep,
		jobKeep:      opts.JobKeep,
	}

	if err := store.initDefaultSettings(opts.PortRangeStart, opts.PortRangeEnd); err != nil {
		return nil, fmt.Errorf("error initializing settings: %w", err)
	}

	return store, nil
}

func (s *GormStore) initDefaultSettings(portStart, portEnd int) error {
	if portStart <= 0 || portEnd <= 0 {
		portStart, portEnd = 8100, 8199
	}
	defaults := map[string]string{
		"port_range_start": strconv.Itoa(portStart),
		"port_range_end":   strconv.Itoa(portEnd),
	}

	for key, value := range defaults {
		var setting Setting
		result := s.db.First(&setting, "key = ?", key)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				if err := s.db.Create(&Setting{Key: key, Value: value}).Error; err != nil {
					return err
				}
			} else {
				return result.Error
			}
		}
	}

	return nil
}

func (s *GormStore) toRow(site *domain.Site) (*Site, error) {
	plugins, err := json.Marshal(site.Plugins)
	if err != nil {
		return nil, err
	}
	dbPassword, err := s.sealer.Seal(site.DBPassword)
	if err != nil {
		return nil, err
	}
	adminPassword, err := s.sealer.Seal(site.AdminPassword)
	if err != nil {
		return nil, err
	}

	return &Site{
		ProjectName:   site.ProjectName,
		Subdomain:     site.Subdomain,
		SiteURL:       site.SiteURL,
		Platform:      site.Platform,
		WPPort:        site.WPPort,
		DBName:        site.DBName,
		DBUser:        site.DBUser,
		DBPassword:    dbPassword,
		AdminUsername: site.AdminUsername,
		AdminPassword: adminPassword,
		AdminEmail:    site.AdminEmail,
		Plugins:       string(plugins),
		Status:        string(site.Status),
		LastChecked:   site.LastChecked,
		LastJobID:     site.LastJobID,
		LastError:     site.LastError,
		CreatedAt:     site.CreatedAt,
		UpdatedAt:     site.UpdatedAt,
	}, nil
}

func (s *GormStore) fromRow(row Site) (domain.Site, error) {
	var plugins []string
	if row.Plugins != "" {
		if err := json.Unmarshal([]byte(row.Plugins), &plugins); err != nil {
			return domain.Site{}, fmt.Errorf("error decoding plugins of %s: %w", row.ProjectName, err)
		}
	}
	if plugins == nil {
		plugins = []string{}
	}
	dbPassword, err := s.sealer.Open(row.DBPassword)
	if err != nil {
		return domain.Site{}, fmt.Errorf("site %s: %w", row.ProjectName, err)
	}
	adminPassword, err := s.sealer.Open(row.AdminPassword)
	if err != nil {
		return domain.Site{}, fmt.Errorf("site %s: %w", row.ProjectName, err)
	}

	return domain.Site{
		ProjectName:   row.ProjectName,
		Subdomain:     row.Subdomain,
		SiteURL:       row.SiteURL,
		Platform:      row.Platform,
		WPPort:        row.WPPort,
		DBName:        row.DBName,
		DBUser:        row.DBUser,
		DBPassword:    dbPassword,
		AdminUsername: row.AdminUsername,
		AdminPassword: adminPassword,
		AdminEmail:    row.AdminEmail,
		Plugins:       plugins,
		Status:        domain.SiteStatus(row.Status),
		LastChecked:   row.LastChecked,
		LastJobID:     row.LastJobID,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// SaveSite inserts a new site. Name, subdomain and database collisions are reported
// as conflicts before the insert is attempted.
func (s *GormStore) SaveSite(site *domain.Site) error {
	row, err := s.toRow(site)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Site{}).Where("project_name = ?", site.ProjectName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.Conflictf("a site named %q already exists", site.ProjectName)
		}
		if err := tx.Model(&Site{}).Where("subdomain = ?", site.Subdomain).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.Conflictf("subdomain %q is already in use", site.Subdomain)
		}
		if err := tx.Model(&Site{}).Where("db_name = ?", site.DBName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.Conflictf("database %q is already in use", site.DBName)
		}
		return tx.Create(row).Error
	})
}

func (s *GormStore) ListSites() ([]domain.Site, error) {
	var rows []Site
	if err := s.db.Order("created_at asc, project_name asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	sites := make([]domain.Site, 0, len(rows))
	for _, row := range rows {
		site, err := s.fromRow(row)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

func (s *GormStore) GetSite(name string) (*domain.Site, error) {
	var row Site
	result := s.db.First(&row, "project_name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying site: %w", result.Error)
	}

	site, err := s.fromRow(row)
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *GormStore) DeleteSite(name string) error {
	result := s.db.Delete(&Site{}, "project_name = ?", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundf("site %q not found", name)
	}
	return nil
}

func (s *GormStore) updateSite(name string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := s.db.Model(&Site{}).Where("project_name = ?", name).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundf("site %q not found", name)
	}
	return nil
}

func (s *GormStore) UpdateSiteStatus(name string, status domain.SiteStatus, lastError string) error {
	return s.updateSite(name, map[string]interface{}{
		"status":     string(status),
		"last_error": lastError,
	})
}

func (s *GormStore) UpdateSitePlugins(name string, plugins []string) error {
	data, err := json.Marshal(plugins)
	if err != nil {
		return err
	}
	return s.updateSite(name, map[string]interface{}{"plugins": string(data)})
}

func (s *GormStore) TouchSite(name string, checkedAt time.Time) error {
	return s.db.Model(&Site{}).Where("project_name = ?", name).Update("last_checked", checkedAt).Error
}

func (s *GormStore) SetSiteLastJob(name, jobID string) error {
	return s.db.Model(&Site{}).Where("project_name = ?", name).Update("last_job_id", jobID).Error
}

func jobRow(job *domain.Job) *Job {
	return &Job{
		ID:         job.ID,
		SiteName:   job.SiteName,
		Kind:       string(job.Kind),
		State:      string(job.State),
		Detail:     job.Detail,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

func (j Job) toDomain() domain.Job {
	return domain.Job{
		ID:         j.ID,
		SiteName:   j.SiteName,
		Kind:       domain.JobKind(j.Kind),
		State:      domain.JobState(j.State),
		Detail:     j.Detail,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}

func (s *GormStore) SaveJob(job *domain.Job) error {
	return s.db.Create(jobRow(job)).Error
}

func (s *GormStore) UpdateJob(job *domain.Job) error {
	if err := s.db.Save(jobRow(job)).Error; err != nil {
		return err
	}
	if job.State.Terminal() && s.jobKeep > 0 {
		if err := s.pruneJobs(job.SiteName); err != nil {
			s.log.Warn("failed to prune job history", "site", job.SiteName, "error", err)
		}
	}
	return nil
}

// pruneJobs drops the finished jobs of site beyond the newest JobKeep.
func (s *GormStore) pruneJobs(site string) error {
	states := []string{string(domain.JobSucceeded), string(domain.JobFailed)}
	keep := s.db.Model(&Job{}).Select("id").
		Where("site_name = ? AND state IN ?", site, states).
		Order("created_at desc").Limit(s.jobKeep)
	return s.db.Where("site_name = ? AND state IN ? AND id NOT IN (?)", site, states, keep).Delete(&Job{}).Error
}

func (s *GormStore) GetJob(id string) (*domain.Job, error) {
	var row Job
	result := s.db.First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying job: %w", result.Error)
	}
	job := row.toDomain()
	return &job, nil
}

func (s *GormStore) ListJobsBySite(site string, limit int) ([]domain.Job, error) {
	var rows []Job
	q := s.db.Where("site_name = ?", site).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

func (s *GormStore) ListUnfinishedJobs() ([]domain.Job, error) {
	var rows []Job
	states := []string{string(domain.JobQueued), string(domain.JobRunning)}
	if err := s.db.Where("state IN ?", states).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

func (s *GormStore) AppendActivity(entry *domain.Activity) error {
	row := &Activity{
		Action:    entry.Action,
		Site:      entry.Site,
		Level:     entry.Level,
		Timestamp: entry.Timestamp,
	}
	if err := s.db.Create(row).Error; err != nil {
		return err
	}
	entry.ID = row.ID

	if s.activityKeep > 0 {
		keep := s.db.Model(&Activity{}).Select("id").Order("timestamp desc, id desc").Limit(s.activityKeep)
		if err := s.db.Where("id NOT IN (?)", keep).Delete(&Activity{}).Error; err != nil {
			s.log.Warn("failed to prune activity log", "error", err)
		}
	}
	return nil
}

func (s *GormStore) ListActivities(limit int) ([]domain.Activity, error) {
	var rows []Activity
	q := s.db.Order("timestamp desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Activity, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Activity{
			ID:        row.ID,
			Action:    row.Action,
			Site:      row.Site,
			Level:     row.Level,
			Timestamp: row.Timestamp,
		})
	}
	return out, nil
}

func (s *GormStore) CreateUser(user *domain.User) error {
	return s.db.Create(&User{
		ID:        user.ID,
		Username:  user.Username,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
	}).Error
}

func (s *GormStore) GetUserByUsername(username string) (*domain.User, error) {
	var row User
	result := s.db.First(&row, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying user: %w", result.Error)
	}
	return &domain.User{ID: row.ID, Username: row.Username, Password: row.Password, CreatedAt: row.CreatedAt}, nil
}

func (s *GormStore) CountUsers() (int64, error) {
	var count int64
	err := s.db.Model(&User{}).Count(&count).Error
	return count, err
}

func (s *GormStore) GetSetting(key string) (string, error) {
	var setting Setting
	result := s.db.First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("setting not found: %s", key)
		}
		return "", result.Error
	}
	return setting.Value, nil
}

func (s *GormStore) SetSetting(key string, value string) error {
	var setting Setting
	result := s.db.First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return s.db.Create(&Setting{Key: key, Value: value}).Error
		}
		return result.Error
	}

	return s.db.Model(&setting).Update("value", value).Error
}

func (s *GormStore) GetPortRange() (int, int, error) {
	startStr, err := s.GetSetting("port_range_start")
	if err != nil {
		return 0, 0, err
	}

	endStr, err := s.GetSetting("port_range_end")
	if err != nil {
		return 0, 0, err
	}

	start, err := strconv.Atoi(startStr)
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing port_range_start: %w", err)
	}

	end, err := strconv.Atoi(endStr)
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing port_range_end: %w", err)
	}

	return start, end, nil
}

func (s *GormStore) SetPortRange(start int, end int) error {
	if start <= 0 || end > 65535 || start > end {
		return domain.Validationf("invalid port range: %d-%d", start, end)
	}

	if err := s.SetSetting("port_range_start", strconv.Itoa(start)); err != nil {
		return err
	}

	return s.SetSetting("port_range_end", strconv.Itoa(end))
}
