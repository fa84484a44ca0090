package models

import "time"

// Shop is a merchant store that installed the app through OAuth.
type Shop struct {
	BaseModel

	Domain        string     `gorm:"size:255;not null;uniqueIndex" json:"domain"`
	AccessToken   string     `gorm:"type:text" json:"-"`
	Scope         string     `gorm:"size:512" json:"scope"`
	InstalledAt   *time.Time `json:"installed_at,omitempty"`
	UninstalledAt *time.Time `json:"uninstalled_at,omitempty"`
}

// Installed reports whether the shop currently has a usable installation.
func (s *Shop) Installed() bool {
	return s != nil && s.AccessToken != "" && s.UninstalledAt == nil
}
