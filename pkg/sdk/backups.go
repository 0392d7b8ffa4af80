package sdk

import "net/url"

func (c *Client) ListBackups(site string) ([]string, error) {
	var backups []string
	err := c.get(sitePath(site, "backups"), &backups)
	return backups, err
}

func (c *Client) CreateBackup(site string) (*Accepted, error) {
	var resp Accepted
	err := c.post(sitePath(site, "backups"), nil, &resp)
	return &resp, err
}

func (c *Client) RestoreBackup(site, file string) (*Accepted, error) {
	var resp Accepted
	payload := map[string]string{"backupFile": file}
	err := c.post(sitePath(site, "backups", "restore"), payload, &resp)
	return &resp, err
}

func (c *Client) DeleteBackup(site, file string) error {
	return c.delete(sitePath(site, "backups", url.PathEscape(file)), nil)
}
