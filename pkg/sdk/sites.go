package sdk

import (
	"fmt"
	"net/url"
)

func sitePath(name string, rest ...string) string {
	p := "/sites/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) ListSites() ([]Site, error) {
	var sites []Site
	err := c.get("/sites", &sites)
	return sites, err
}

func (c *Client) GetSite(name string) (*Site, error) {
	var site Site
	err := c.get(sitePath(name), &site)
	return &site, err
}

func (c *Client) CreateSite(req CreateSiteRequest) (*Accepted, error) {
	var resp Accepted
	err := c.post("/sites", req, &resp)
	return &resp, err
}

func (c *Client) DeleteSite(name string) (*Accepted, error) {
	var resp Accepted
	err := c.delete(sitePath(name), &resp)
	return &resp, err
}

func (c *Client) RestartSite(name string) (*Accepted, error) {
	var resp Accepted
	err := c.post(sitePath(name, "restart"), nil, &resp)
	return &resp, err
}

func (c *Client) SiteLogs(name string, lines int) (string, error) {
	var out string
	err := c.get(fmt.Sprintf("%s?lines=%d", sitePath(name, "logs"), lines), &out)
	return out, err
}

func (c *Client) ListSiteJobs(name string, limit int) ([]Job, error) {
	var jobs []Job
	err := c.get(fmt.Sprintf("%s?limit=%d", sitePath(name, "jobs"), limit), &jobs)
	return jobs, err
}

func (c *Client) ListPlugins(site string) ([]Plugin, error) {
	var plugins []Plugin
	err := c.get(sitePath(site, "plugins"), &plugins)
	return plugins, err
}

func (c *Client) ActivatePlugin(site, slug string) error {
	return c.post(sitePath(site, "plugins", url.PathEscape(slug), "activate"), nil, nil)
}

func (c *Client) DeactivatePlugin(site, slug string) error {
	return c.post(sitePath(site, "plugins", url.PathEscape(slug), "deactivate"), nil, nil)
}

func (c *Client) InstallPlugin(site, slug string) error {
	return c.post(sitePath(site, "plugins", url.PathEscape(slug)), nil, nil)
}

func (c *Client) UninstallPlugin(site, slug string) error {
	return c.delete(sitePath(site, "plugins", url.PathEscape(slug)), nil)
}
